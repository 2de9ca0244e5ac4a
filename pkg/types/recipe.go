package types

// Recipe is the metadata chef needs from a recipe file. Full recipe
// semantics (ingredient resolution, YAML layout) belong to the recipe
// toolchain; chef treats the body as opaque build steps.
type Recipe struct {
	// Name is the "publisher/package" the recipe produces.
	Name string `json:"name" jsonschema:"required"`

	// Version of the produced pack.
	Version string `json:"version" jsonschema:"required"`

	// Revision of the produced pack, monotonic per version.
	Revision int `json:"revision,omitempty"`

	// Architectures the recipe can be baked for.
	Architectures []string `json:"architectures,omitempty"`

	// Platform constraint, empty for any.
	Platform string `json:"platform,omitempty"`

	// Steps are the shell steps bakectl runs in order inside the build
	// container.
	Steps []string `json:"steps" jsonschema:"required"`

	// Commands the produced pack exports.
	Commands []Command `json:"commands,omitempty"`
}
