package data

// BuildInfo is made available in the FOUNDRY_BUILD_INFO env var to the
// build so wrappers and diagnostics can see what is being produced.
type BuildInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	ID      string `json:"id"`

	Prefix   string `json:"prefix"`
	BuildDir string `json:"build_dir"`

	Platform  *ArtifactPlatform `json:"platform"`
	Toolchain string            `json:"toolchain"`

	// Targets are the named build targets compiled, a subset of the
	// source tree's default target set.
	Targets []string `json:"targets"`
}
