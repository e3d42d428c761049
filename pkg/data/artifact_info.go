package data

type ArtifactPlatform struct {
	OS   string `json:"os"`
	Arch string `json:"architecture"`
}

// ArtifactInfo travels with every built artifact, both inside the archive
// and as annotations on the cache entry. Immutable once the build
// succeeds.
type ArtifactInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`

	License     string `json:"license"`
	Description string `json:"description"`

	Repo   string `json:"repo"`
	Commit string `json:"commit,omitempty"`

	Platform *ArtifactPlatform `json:"platform"`

	// Sum is the algo:base58 content hash of the packed artifact.
	Sum string `json:"sum"`

	Binaries []string `json:"binaries"`

	// UnverifiedTests lists upstream test cases excluded from the run.
	// Anything named here is explicitly not verified by the build.
	UnverifiedTests []string `json:"unverified_tests,omitempty"`

	Toolchain string `json:"toolchain"`
}
