package fleet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/olavhq/olav/internal/olaverr"
	"github.com/tidwall/gjson"
)

// templateKind distinguishes how a template extracts fields from raw
// output: "regex" for CLI text (one row per match, named capture groups
// become fields), "jsonpath" for API response bodies (gjson paths against
// the whole document, one row total).
type templateKind string

const (
	templateRegex    templateKind = "regex"
	templateJSONPath templateKind = "jsonpath"
)

// templateFile is the on-disk shape of one parsing template.
type templateFile struct {
	Platform  string            `json:"platform"`
	Operation string            `json:"operation"`
	Type      templateKind      `json:"type"`
	Pattern   string            `json:"pattern,omitempty"` // type=regex
	Fields    map[string]string `json:"fields,omitempty"`  // type=jsonpath: field -> gjson path
}

type compiledTemplate struct {
	kind   templateKind
	regex  *regexp.Regexp
	fields map[string]string
}

// FileTemplateParser implements fleet.TemplateParser by loading one JSON
// template per platform/operation pair from a directory (spec §6:
// "templates live outside the core"). Text output (CLI commands) is
// parsed with named-group regular expressions; JSON output (API calls) is
// parsed with gjson paths.
type FileTemplateParser struct {
	mu        sync.RWMutex
	templates map[string]compiledTemplate // key: platform|operation
}

// NewFileTemplateParser loads every *.json template under dir. A missing
// directory yields an empty, harmless parser (HasTemplate always false).
func NewFileTemplateParser(dir string) (*FileTemplateParser, error) {
	p := &FileTemplateParser{templates: map[string]compiledTemplate{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, olaverr.Wrap(olaverr.Internal, "read templates directory "+dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := p.loadOne(filepath.Join(dir, e.Name())); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *FileTemplateParser) loadOne(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return olaverr.Wrap(olaverr.Internal, "read template "+path, err)
	}
	var tf templateFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return olaverr.Wrap(olaverr.ParseFailed, "parse template "+path, err)
	}

	ct := compiledTemplate{kind: tf.Type, fields: tf.Fields}
	if tf.Type == templateRegex {
		re, err := regexp.Compile(tf.Pattern)
		if err != nil {
			return olaverr.Wrap(olaverr.ParseFailed, "compile template regex "+path, err)
		}
		ct.regex = re
	}

	p.mu.Lock()
	p.templates[key(tf.Platform, tf.Operation)] = ct
	p.mu.Unlock()
	return nil
}

func key(platform, operation string) string {
	return strings.ToLower(platform) + "|" + operation
}

// HasTemplate implements fleet.TemplateParser.
func (p *FileTemplateParser) HasTemplate(platform, operation string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.templates[key(platform, operation)]
	return ok
}

// Parse implements fleet.TemplateParser.
func (p *FileTemplateParser) Parse(platform, operation, raw string) ([]ParsedRow, error) {
	p.mu.RLock()
	ct, ok := p.templates[key(platform, operation)]
	p.mu.RUnlock()
	if !ok {
		return nil, olaverr.New(olaverr.ParseFailed, "no template registered for "+platform+" "+operation)
	}

	switch ct.kind {
	case templateRegex:
		return parseRegex(ct.regex, raw), nil
	case templateJSONPath:
		return parseJSONPath(ct.fields, raw), nil
	default:
		return nil, olaverr.New(olaverr.ParseFailed, "template for "+platform+" "+operation+" has unknown type "+string(ct.kind))
	}
}

func parseRegex(re *regexp.Regexp, raw string) []ParsedRow {
	names := re.SubexpNames()
	var rows []ParsedRow
	for _, match := range re.FindAllStringSubmatch(raw, -1) {
		row := ParsedRow{}
		for i, name := range names {
			if i == 0 || name == "" {
				continue
			}
			row[name] = strings.TrimSpace(match[i])
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows
}

func parseJSONPath(fields map[string]string, raw string) []ParsedRow {
	row := ParsedRow{}
	for field, path := range fields {
		result := gjson.Get(raw, path)
		if result.Exists() {
			row[field] = result.String()
		}
	}
	if len(row) == 0 {
		return nil
	}
	return []ParsedRow{row}
}
