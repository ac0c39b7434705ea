// Package capability is the single source of truth for what operations are
// permitted against the fleet: a file-backed, in-memory index of commands
// and API endpoints, atomically rebuilt on reload.
package capability

// Kind distinguishes a CLI command capability from an HTTP API capability.
type Kind string

const (
	KindCommand Kind = "command"
	KindAPI     Kind = "api"
)

// Capability is one allowed operation, loaded from a commands file or an
// OpenAPI document.
type Capability struct {
	Kind        Kind
	Platform    string
	Pattern     string
	Method      string
	Description string
	IsWrite     bool
	SourceFile  string
}

// key identifies a capability for uniqueness per spec §3:
// (kind, platform, pattern, method) is unique.
type key struct {
	kind     Kind
	platform string
	pattern  string
	method   string
}

func (c Capability) key() key {
	return key{kind: c.Kind, platform: c.Platform, pattern: c.Pattern, method: c.Method}
}

// LoadStat reports how many capabilities were loaded per (kind, platform)
// during a reload, for the `reload` CLI command's summary output.
type LoadStat struct {
	Kind     Kind
	Platform string
	Count    int
}
