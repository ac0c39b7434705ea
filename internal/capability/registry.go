package capability

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	core "github.com/olavhq/olav/internal/core"
	"github.com/olavhq/olav/internal/olaverr"
	system "github.com/olavhq/olav/internal/system"
)

// index is the immutable snapshot a Registry points to. A reload builds a
// new index and the registry swaps the pointer in one step, so readers
// never observe a partially-built index (spec §5: "many-readers,
// single-writer on swap").
type index struct {
	all []Capability
}

// Registry is the in-memory capability index, rebuilt from files on Reload.
type Registry struct {
	mu       sync.RWMutex
	idx      *index
	commands string
	apis     string
}

// NewRegistry builds an empty Registry rooted at the given commands/ and
// apis/ directories (imports/commands, imports/apis under the agent dir).
func NewRegistry(commandsDir, apisDir string) *Registry {
	return &Registry{idx: &index{}, commands: commandsDir, apis: apisDir}
}

var _ system.DescriptorProvider = (*Registry)(nil)

// Descriptor advertises this component's placement.
func (r *Registry) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "capability",
		Domain: "registry",
		Layer:  core.LayerCapability,
	}.WithCapabilities("reload", "search", "match")
}

// Reload atomically rebuilds the registry from files. If any file fails to
// parse, the previous index remains active and the error is surfaced
// (spec §4.1: reload is transactional).
func (r *Registry) Reload() ([]LoadStat, error) {
	commandCaps, err := loadCommandsDir(r.commands)
	if err != nil {
		return nil, olaverr.Wrap(olaverr.Internal, "load commands directory", err)
	}
	apiCaps, err := loadAPIsDir(r.apis)
	if err != nil {
		return nil, olaverr.Wrap(olaverr.Internal, "load apis directory", err)
	}

	all := make([]Capability, 0, len(commandCaps)+len(apiCaps))
	seen := make(map[key]struct{}, len(all))
	for _, c := range append(commandCaps, apiCaps...) {
		k := c.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		all = append(all, c)
	}

	newIdx := &index{all: all}

	r.mu.Lock()
	r.idx = newIdx
	r.mu.Unlock()

	return statsOf(all), nil
}

func statsOf(caps []Capability) []LoadStat {
	counts := map[key]int{}
	order := []key{}
	for _, c := range caps {
		k := key{kind: c.Kind, platform: c.Platform}
		if _, ok := counts[k]; !ok {
			order = append(order, k)
		}
		counts[k]++
	}
	stats := make([]LoadStat, 0, len(order))
	for _, k := range order {
		stats = append(stats, LoadStat{Kind: k.kind, Platform: k.platform, Count: counts[k]})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Kind == stats[j].Kind {
			return stats[i].Platform < stats[j].Platform
		}
		return stats[i].Kind < stats[j].Kind
	})
	return stats
}

func (r *Registry) snapshot() *index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx
}

// Match returns the single capability whose pattern the operation
// satisfies, or a NotPermitted error (spec §4.1 -- "unknown operations fail
// closed"). For KindCommand, operation is the raw command text. For
// KindAPI, operation must be formatted "METHOD path".
func (r *Registry) Match(kind Kind, platform, operation string) (*Capability, error) {
	idx := r.snapshot()

	if kind == KindCommand {
		return matchCommandCapability(idx, platform, operation)
	}
	return matchAPICapability(idx, platform, operation)
}

func matchCommandCapability(idx *index, platform, operation string) (*Capability, error) {
	for i := range idx.all {
		c := &idx.all[i]
		if c.Kind != KindCommand || !strings.EqualFold(c.Platform, platform) {
			continue
		}
		if matchCommand(c.Pattern, operation) {
			return c, nil
		}
	}
	return nil, olaverr.New(olaverr.NotPermitted, fmt.Sprintf("operation %q not permitted on platform %q", operation, platform))
}

func matchAPICapability(idx *index, platform, operation string) (*Capability, error) {
	method, path, ok := strings.Cut(strings.TrimSpace(operation), " ")
	if !ok {
		return nil, olaverr.New(olaverr.NotPermitted, fmt.Sprintf("malformed api operation %q", operation))
	}
	for i := range idx.all {
		c := &idx.all[i]
		if c.Kind != KindAPI || !strings.EqualFold(c.Platform, platform) {
			continue
		}
		if matchAPI(c.Pattern, c.Method, path, method) {
			return c, nil
		}
	}
	return nil, olaverr.New(olaverr.NotPermitted, fmt.Sprintf("operation %q not permitted on system %q", operation, platform))
}

// searchHit ranks a capability against a query term for Search's ordering.
type searchHit struct {
	cap  Capability
	rank int // 0 = exact prefix, 1 = substring, 2 = description hit
}

// Search performs a case-insensitive match over pattern and description.
// Ordering: exact prefix hits first, then substring hits, then description
// hits; ties broken by ascending pattern length (spec §4.1).
func (r *Registry) Search(query string, kind Kind, platform string, limit int) []Capability {
	idx := r.snapshot()
	q := strings.ToLower(strings.TrimSpace(query))

	var hits []searchHit
	for _, c := range idx.all {
		if kind != "" && c.Kind != kind {
			continue
		}
		if platform != "" && !strings.EqualFold(c.Platform, platform) {
			continue
		}
		pat := strings.ToLower(c.Pattern)
		desc := strings.ToLower(c.Description)
		switch {
		case q == "":
			hits = append(hits, searchHit{cap: c, rank: 1})
		case strings.HasPrefix(pat, q):
			hits = append(hits, searchHit{cap: c, rank: 0})
		case strings.Contains(pat, q):
			hits = append(hits, searchHit{cap: c, rank: 1})
		case strings.Contains(desc, q):
			hits = append(hits, searchHit{cap: c, rank: 2})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return len(hits[i].cap.Pattern) < len(hits[j].cap.Pattern)
	})

	limit = core.ClampLimit(limit, core.DefaultListLimit, core.MaxListLimit)
	if limit > len(hits) {
		limit = len(hits)
	}
	out := make([]Capability, limit)
	for i := 0; i < limit; i++ {
		out[i] = hits[i].cap
	}
	return out
}
