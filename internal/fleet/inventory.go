package fleet

import (
	"context"
	"strings"
)

// InventoryProvider is the external collaborator that knows the fleet's
// devices (spec §6: "Inventory provider"). The core never stores device
// records; it only asks this interface at resolve time.
type InventoryProvider interface {
	// Lookup returns every device known to the inventory. Implementations
	// may cache, but each call must reflect a reasonably current view.
	Lookup(ctx context.Context) ([]Device, error)
}

// filter is a parsed selector clause: either a set of literal names or a
// keyed tag filter.
type filter struct {
	names    map[string]struct{}
	all      bool
	keyed    string // "group" | "site" | "role" | "platform"
	keyValue string
}

// parseSelector implements spec §4.2.2's selector grammar: a concrete name,
// a comma-separated list of names, the literal "all", or a keyed filter
// "group:<tag>" | "site:<tag>" | "role:<tag>" | "platform:<tag>".
func parseSelector(selector string) filter {
	s := strings.TrimSpace(selector)
	if strings.EqualFold(s, "all") {
		return filter{all: true}
	}
	if key, value, ok := strings.Cut(s, ":"); ok {
		key = strings.ToLower(strings.TrimSpace(key))
		switch key {
		case "group", "site", "role", "platform":
			return filter{keyed: key, keyValue: strings.TrimSpace(value)}
		}
	}
	names := map[string]struct{}{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			names[part] = struct{}{}
		}
	}
	return filter{names: names}
}

func (f filter) matches(d Device) bool {
	if f.all {
		return true
	}
	switch f.keyed {
	case "group":
		return d.HasGroup(f.keyValue)
	case "site":
		return d.Attributes["site"] == f.keyValue
	case "role":
		return d.Attributes["role"] == f.keyValue
	case "platform":
		return strings.EqualFold(d.Platform, f.keyValue)
	}
	if f.names == nil {
		return false
	}
	_, ok := f.names[d.Name]
	return ok
}

// Resolve implements spec §4.2.2: returns both the devices that matched and
// the literal names that the selector named but the inventory does not
// have, without aborting resolution on a partial miss.
func (e *Engine) Resolve(ctx context.Context, selector string) (ResolveResult, error) {
	all, err := e.inventory.Lookup(ctx)
	if err != nil {
		return ResolveResult{}, err
	}

	f := parseSelector(selector)
	var result ResolveResult
	seen := map[string]struct{}{}
	for _, d := range all {
		if f.matches(d) {
			result.Resolved = append(result.Resolved, d)
			seen[d.Name] = struct{}{}
		}
	}

	for name := range f.names {
		if _, ok := seen[name]; !ok {
			result.Missing = append(result.Missing, name)
		}
	}
	return result, nil
}

// ListDevices is a read-through of the inventory using the same filter
// grammar as Resolve (spec §4.2.3). An empty filter returns every device.
func (e *Engine) ListDevices(ctx context.Context, filterExpr string) ([]Device, error) {
	all, err := e.inventory.Lookup(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(filterExpr) == "" {
		return all, nil
	}
	f := parseSelector(filterExpr)
	var out []Device
	for _, d := range all {
		if f.matches(d) {
			out = append(out, d)
		}
	}
	return out, nil
}
