/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package types

// AccessMask is the filesystem permission mask stored in the policy map.
type AccessMask uint32

const (
	AccessRead AccessMask = 1 << iota
	AccessWrite
	AccessExec
)

// NetMask is the network permission mask stored in the policy map.
type NetMask uint32

const (
	NetCreate NetMask = 1 << iota
	NetBind
	NetConnect
	NetListen
	NetAccept
	NetSend
)

// FsRule allows the given access on a path inside the container's
// filesystem view. Paths that do not resolve at load time are skipped
// with a warning rather than failing the container.
type FsRule struct {
	Path   string     `json:"path"`
	Access AccessMask `json:"access"`
}

// NetRule allows the given operations on a socket tuple. Address may be a
// UNIX socket path when Family is AF_UNIX.
type NetRule struct {
	Family   uint32  `json:"family"`
	SockType uint32  `json:"sock_type"`
	Protocol uint32  `json:"protocol"`
	Port     uint16  `json:"port"`
	Address  string  `json:"address,omitempty"`
	Allow    NetMask `json:"allow"`
}

// Policy is the declarative per-container policy. An empty policy means
// default-deny: the kernel map holds no entries for the cgroup, so every
// tracked access is refused.
type Policy struct {
	Level SecurityLevel `json:"level"`
	Fs    []FsRule      `json:"fs,omitempty"`
	Net   []NetRule     `json:"net,omitempty"`

	// Windows app-container parameters are accepted but ignored on
	// non-Windows hosts.
	WindowsAppContainer map[string]string `json:"windows_app_container,omitempty"`
}
