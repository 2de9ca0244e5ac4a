package types

// LayerKind discriminates the layer variants a rootfs can be composed of.
type LayerKind int

const (
	// LayerBase is a plain directory holding a base root filesystem.
	LayerBase LayerKind = iota

	// LayerPack is a content pack archive, served read-only through the
	// in-process pack file server.
	LayerPack

	// LayerBind is a host path bound into the composed rootfs.
	LayerBind

	// LayerUpper is the single writable scratch directory of an overlay.
	LayerUpper
)

func (k LayerKind) String() string {
	switch k {
	case LayerBase:
		return "base"
	case LayerPack:
		return "pack"
	case LayerBind:
		return "bind"
	case LayerUpper:
		return "upper"
	}
	return "unknown"
}

// Layer describes one unit of rootfs content. Source is a directory for
// base, bind and upper layers and an archive file for pack layers. Target
// is the optional mount point inside the composed rootfs; when empty the
// layer participates in the overlay stack instead of being bind-mounted.
type Layer struct {
	Kind     LayerKind `json:"kind"`
	Source   string    `json:"source"`
	Target   string    `json:"target,omitempty"`
	ReadOnly bool      `json:"read_only"`
}
