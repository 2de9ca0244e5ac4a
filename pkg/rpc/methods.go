/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package rpc

import "github.com/mirkobrombin/chef/pkg/types"

// Installer service (served).
const (
	MethodInstall          = "installer.install"
	MethodInstallFromStore = "installer.install_from_store"
	MethodRemove           = "installer.remove"
	MethodUpdate           = "installer.update"
	MethodInfo             = "installer.info"
	MethodListCount        = "installer.list_count"
	MethodList             = "installer.list"

	EventPackageInstalled = "installer.package_installed"
	EventPackageRemoved   = "installer.package_removed"
	EventPackageUpdated   = "installer.package_updated"
	EventTransactionLog   = "installer.transaction_log"
)

// Container service (cvd).
const (
	MethodCreate   = "container.create"
	MethodSpawn    = "container.spawn"
	MethodKill     = "container.kill"
	MethodUpload   = "container.upload"
	MethodDownload = "container.download"
	MethodDestroy  = "container.destroy"
	MethodPs       = "container.ps"
)

// Builder/broker services (cookd ↔ waiterd ↔ clients).
const (
	MethodBuild    = "waiter.build"
	MethodStatus   = "waiter.status"
	MethodArtifact = "waiter.artifact"

	EventCookReady    = "cook.ready"
	EventCookUpdate   = "cook.update"
	EventCookStatus   = "cook.status"
	EventCookArtifact = "cook.artifact"

	// waiterd → cookd
	MethodCookBuild = "cook.build"
)

type (
	InstallReq struct {
		Path string `json:"path"`
	}
	InstallFromStoreReq struct {
		Package  string `json:"package"`
		Channel  string `json:"channel,omitempty"`
		Revision int    `json:"revision,omitempty"`
	}
	InstallRes struct {
		TransactionId uint64 `json:"transaction_id"`
	}
	RemoveReq struct {
		Package string `json:"package"`
	}
	UpdateReq struct {
		Package  string `json:"package"`
		Path     string `json:"path,omitempty"`
		Channel  string `json:"channel,omitempty"`
		Revision int    `json:"revision,omitempty"`
	}
	InfoReq struct {
		Package string `json:"package"`
	}
	InfoRes struct {
		Application *types.Application `json:"application"`
	}
	ListCountRes struct {
		Count int `json:"count"`
	}
	ListRes struct {
		Applications []*types.Application `json:"applications"`
	}
	TransactionLogEvent struct {
		Id        uint64         `json:"id"`
		Level     types.LogLevel `json:"level"`
		Timestamp int64          `json:"timestamp"`
		State     string         `json:"state"`
		Message   string         `json:"message"`
	}
	PackageEvent struct {
		Package       string `json:"package"`
		Revision      int    `json:"revision,omitempty"`
		TransactionId uint64 `json:"transaction_id"`
	}
)

type (
	CreateReq struct {
		Id            string              `json:"id,omitempty"`
		Layers        []types.Layer       `json:"layers"`
		Hostname      string              `json:"hostname,omitempty"`
		Level         types.SecurityLevel `json:"level,omitempty"`
		Policy        types.Policy        `json:"policy,omitempty"`
		KeepOnFailure bool                `json:"keep_on_failure,omitempty"`
	}
	CreateRes struct {
		Container *types.Container `json:"container"`
	}
	SpawnReq struct {
		ContainerId string   `json:"container_id"`
		Argv        []string `json:"argv"`
		Env         []string `json:"env,omitempty"`
		WaitExit    bool     `json:"wait_exit,omitempty"`
	}
	SpawnRes struct {
		Pid  int `json:"pid"`
		Exit int `json:"exit,omitempty"`
	}
	KillReq struct {
		ContainerId string `json:"container_id"`
		Pid         int    `json:"pid"`
	}
	TransferReq struct {
		ContainerId string `json:"container_id"`
		Source      string `json:"source"`
		Destination string `json:"destination"`
	}
	DestroyReq struct {
		ContainerId string `json:"container_id"`
	}
	PsRes struct {
		Containers []*types.Container `json:"containers"`
	}
)

type (
	BuildReq struct {
		Arch       types.Architecture `json:"arch"`
		Platform   string             `json:"platform"`
		SourceURL  string             `json:"source_url"`
		RecipePath string             `json:"recipe_path"`
	}
	BuildRes struct {
		Status        types.BuildStatus `json:"status"`
		CorrelationId string            `json:"correlation_id"`
	}
	StatusReq struct {
		Id string `json:"id"`
	}
	StatusRes struct {
		Arch   types.Architecture `json:"arch"`
		Status types.BuildStatus  `json:"status"`
		Cause  string             `json:"cause,omitempty"`
	}
	ArtifactReq struct {
		Id   string             `json:"id"`
		Type types.ArtifactType `json:"type"`
	}
	ArtifactRes struct {
		URI string `json:"uri"`
	}
	CookReadyEvent struct {
		ArchMask uint32 `json:"arch_mask"`
	}
	CookUpdateEvent struct {
		QueueSize int `json:"queue_size"`
	}
	CookStatusEvent struct {
		Id     string            `json:"id"`
		Status types.BuildStatus `json:"status"`
		Cause  string            `json:"cause,omitempty"`
	}
	CookArtifactEvent struct {
		Id   string             `json:"id"`
		Type types.ArtifactType `json:"type"`
		URI  string             `json:"uri"`
	}
	CookBuildReq struct {
		Id         string             `json:"id"`
		Arch       types.Architecture `json:"arch"`
		Platform   string             `json:"platform"`
		SourceURL  string             `json:"source_url"`
		RecipePath string             `json:"recipe_path"`
	}
)
