package capability

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// writeExtension is the OpenAPI extension marking an operation as a write,
// per spec §6: "x-olav-write: true on an operation marks it as write".
const writeExtension = "x-olav-write"

// loadAPIsDir scans dir for one OpenAPI 3 document per system (YAML or
// JSON). Files whose basename begins with `_` are ignored.
func loadAPIsDir(dir string) ([]Capability, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var caps []Capability
	loader := openapi3.NewLoader()
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasPrefix(name, "_") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		system := strings.TrimSuffix(name, filepath.Ext(name))
		path := filepath.Join(dir, name)
		fileCaps, err := parseAPIFile(loader, path, system)
		if err != nil {
			return nil, err
		}
		caps = append(caps, fileCaps...)
	}
	return caps, nil
}

func parseAPIFile(loader *openapi3.Loader, path, system string) ([]Capability, error) {
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, err
	}

	var caps []Capability
	for urlPath, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			caps = append(caps, Capability{
				Kind:        KindAPI,
				Platform:    system,
				Pattern:     urlPath,
				Method:      strings.ToUpper(method),
				Description: op.Summary,
				IsWrite:     isWriteOperation(op),
				SourceFile:  path,
			})
		}
	}
	return caps, nil
}

func isWriteOperation(op *openapi3.Operation) bool {
	if op == nil {
		return false
	}
	raw, ok := op.Extensions[writeExtension]
	if !ok {
		return false
	}
	if b, ok := raw.(bool); ok {
		return b
	}
	return false
}

// matchAPI applies spec §4.1's API matching rule: exact method plus
// path-template match, where `{var}` segments consume exactly one path
// segment.
func matchAPI(pattern, method, path, opMethod string) bool {
	if !strings.EqualFold(method, opMethod) {
		return false
	}
	patternSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	pathSegs := strings.Split(strings.Trim(path, "/"), "/")
	if len(patternSegs) != len(pathSegs) {
		return false
	}
	for i, seg := range patternSegs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			continue
		}
		if seg != pathSegs[i] {
			return false
		}
	}
	return true
}
