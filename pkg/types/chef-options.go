/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package types

import (
	"github.com/mirkobrombin/dabadee/pkg/storage"
)

// ChefOptions is the struct that represents the options for the Chef
// struct. All paths honor the SNAP_COMMON relocation: when chef runs under
// a confinement wrapper, every convention below is rooted under that
// prefix instead of /.
type ChefOptions struct {
	// StorePath is the directory where containers, composed rootfs
	// states, the transaction database and the applications document are
	// stored.
	StorePath string `json:"store_path"`

	// MountsPath is where installed packs are mounted
	// (/var/chef/mnt/<publisher>-<package>).
	MountsPath string `json:"mounts_path"`

	// PacksPath is where downloaded pack archives live
	// (/var/chef/packs/<publisher>-<package>.pack).
	PacksPath string `json:"packs_path"`

	// SharePath is the per-revision data root
	// (/usr/share/chef/<publisher>-<package>/<revision>).
	SharePath string `json:"share_path"`

	// BinPath is where command wrappers are generated (/chef/bin).
	BinPath string `json:"bin_path"`

	// ProfilePath is the profile shim (/etc/profile.d/chef.sh).
	ProfilePath string `json:"profile_path"`

	// CachePath holds the ingredients cache used by builds.
	CachePath string `json:"cache_path"`

	// BaseRootfsPath is the debootstrap-produced rootfs builds use as
	// their base layer.
	BaseRootfsPath string `json:"base_rootfs_path"`

	// BaseImage is pulled and flattened into BaseRootfsPath when the
	// rootfs is missing and no debootstrap run provided one.
	BaseImage string `json:"base_image,omitempty"`

	// ScratchSize caps each build's tmpfs scratch space, in bytes.
	ScratchSize int64 `json:"scratch_size,omitempty"`

	// DaBaDeeStoreOptions configures the dedup store covering the
	// ingredients cache.
	DaBaDeeStoreOptions storage.StorageOptions `json:"dabadee_store_options"`

	// ServedSocketPath and CvdSocketPath are the unix sockets of the
	// local daemons.
	ServedSocketPath string `json:"served_socket_path"`
	CvdSocketPath    string `json:"cvd_socket_path"`

	// WaiterAddr is the broker's TCP address, used by cookd and bake.
	WaiterAddr string `json:"waiter_addr"`

	// StoreURL is the pack store base; install_from_store resolves
	// "publisher/package" names below it. Empty disables store installs.
	StoreURL string `json:"store_url,omitempty"`

	// Derived paths, generated from StorePath on load.
	StoreContainersPath string `json:"-"`
	StoreStatesPath     string `json:"-"`
	ScratchRoot         string `json:"-"`
}
