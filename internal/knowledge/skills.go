package knowledge

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olavhq/olav/internal/fleet"
	"github.com/olavhq/olav/internal/inspection"
	"github.com/olavhq/olav/internal/olaverr"
)

// Catalog is the in-memory skill catalog built by ReloadSkills. It adapts
// the richer SkillDoc this package owns to inspection.SkillCatalog, the
// narrower execution-ready interface the Inspection Orchestrator depends
// on, so the two packages stay decoupled (see internal/inspection.Skill's
// doc comment).
type Catalog struct {
	store *Store
	dir   string

	mu     sync.RWMutex
	byID   map[string]*SkillDoc
	errors map[string]error // last reload's per-file parse errors, by path
}

// NewCatalog builds an empty Catalog reading skill documents from dir
// (conventionally "skills") under store.
func NewCatalog(store *Store, dir string) *Catalog {
	return &Catalog{store: store, dir: dir, byID: map[string]*SkillDoc{}, errors: map[string]error{}}
}

// Get implements inspection.SkillCatalog.
func (c *Catalog) Get(skillID string) (*inspection.Skill, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.byID[skillID]
	if !ok {
		return nil, olaverr.New(olaverr.NotFound, "unknown skill "+skillID)
	}
	return doc.ToExecutable(), nil
}

// ReloadSkills implements spec §4.4.2's reload_skills(): re-reads the
// skills directory into the in-memory catalog. Disabled files (a `_`
// prefix on the filename, or an explicit `enabled: false` header) are
// skipped. A parse failure on one file is recorded against its path (see
// Errors) and that file is skipped; ReloadSkills itself does not log it.
// The reload continues and the catalog is still replaced atomically with
// whatever parsed successfully.
func (c *Catalog) ReloadSkills() error {
	names, err := c.store.List(c.dir, "*.md")
	if err != nil {
		return err
	}

	next := map[string]*SkillDoc{}
	errs := map[string]error{}
	for _, rel := range names {
		base := rel[strings.LastIndex(rel, "/")+1:]
		if strings.HasPrefix(base, "_") {
			continue
		}
		doc, err := c.loadOne(rel)
		if err != nil {
			errs[rel] = err
			continue
		}
		if !doc.Enabled {
			continue
		}
		next[doc.ID] = doc
	}

	c.mu.Lock()
	c.byID = next
	c.errors = errs
	c.mu.Unlock()
	return nil
}

// Errors returns the per-file parse errors from the last ReloadSkills
// call, keyed by path.
func (c *Catalog) Errors() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]error, len(c.errors))
	for k, v := range c.errors {
		out[k] = v
	}
	return out
}

func (c *Catalog) loadOne(rel string) (*SkillDoc, error) {
	document, err := c.store.Read(rel)
	if err != nil {
		return nil, err
	}
	return parseSkillDoc(document)
}

// parseSkillDoc parses the hand-rolled skill document grammar: a
// frontmatter header (id, name, enabled, estimated_runtime), a
// "## Parameters" section of "- name, type, required" bullet lines,
// one "## Platform: <name>" section per platform containing fenced
// ```command```/```api``` blocks, and a "## Acceptance" section of
// "field / expr / tier / note" bullet lines.
func parseSkillDoc(doc *Document) (*SkillDoc, error) {
	id := doc.Header["id"]
	if id == "" {
		return nil, olaverr.New(olaverr.Internal, "skill document missing id header: "+doc.Path)
	}
	enabled := true
	if v, ok := doc.Header["enabled"]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, olaverr.Wrap(olaverr.Internal, "skill "+id+": invalid enabled value", err)
		}
		enabled = b
	}
	runtime := 30 * time.Second
	if v, ok := doc.Header["estimated_runtime"]; ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return nil, olaverr.Wrap(olaverr.Internal, "skill "+id+": invalid estimated_runtime", err)
		}
		runtime = d
	}

	sections := splitSections(doc.Body)

	params, err := parseParameters(sections["parameters"])
	if err != nil {
		return nil, olaverr.Wrap(olaverr.Internal, "skill "+id+": parameters", err)
	}

	platforms := map[string][]Step{}
	for heading, body := range sections {
		platform, ok := strings.CutPrefix(heading, "platform:")
		if !ok {
			continue
		}
		platform = strings.TrimSpace(platform)
		steps, err := parseSteps(body)
		if err != nil {
			return nil, olaverr.Wrap(olaverr.Internal, "skill "+id+": platform "+platform, err)
		}
		platforms[platform] = steps
	}

	rules, err := parseAcceptance(sections["acceptance"])
	if err != nil {
		return nil, olaverr.Wrap(olaverr.Internal, "skill "+id+": acceptance", err)
	}

	return &SkillDoc{
		ID:               id,
		Name:             doc.Header["name"],
		Enabled:          enabled,
		Parameters:       params,
		Platforms:        platforms,
		AcceptanceRules:  rules,
		EstimatedRuntime: runtime,
		Path:             doc.Path,
		Raw:              doc.Raw,
	}, nil
}

// splitSections breaks a Markdown body into "## Heading" sections, keyed
// by the lower-cased heading text with leading/trailing space trimmed.
func splitSections(body string) map[string]string {
	out := map[string]string{}
	lines := strings.Split(body, "\n")
	heading := ""
	var buf strings.Builder
	flush := func() {
		if heading != "" {
			out[heading] = buf.String()
		}
		buf.Reset()
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			flush()
			heading = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "## ")))
			continue
		}
		if heading != "" {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
	flush()
	return out
}

// parseParameters parses "- name: <n>, type: <t>, required: <bool>"
// bullet lines.
func parseParameters(section string) ([]ParamSpec, error) {
	var specs []ParamSpec
	for _, line := range bulletLines(section) {
		fields := parseFieldList(line)
		spec := ParamSpec{Name: fields["name"], Type: fields["type"]}
		if fields["required"] != "" {
			b, err := strconv.ParseBool(fields["required"])
			if err != nil {
				return nil, err
			}
			spec.Required = b
		}
		if spec.Name == "" {
			continue
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// parseSteps extracts fenced ```command```/```api``` blocks from a
// platform section. An api block's first line is "METHOD /path"; any
// remaining lines are the body.
func parseSteps(section string) ([]Step, error) {
	var steps []Step
	lines := strings.Split(section, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		kind, ok := strings.CutPrefix(line, "```")
		if !ok {
			continue
		}
		kind = strings.TrimSpace(kind)
		if kind != "command" && kind != "api" {
			continue
		}
		var blockLines []string
		i++
		for ; i < len(lines) && strings.TrimSpace(lines[i]) != "```"; i++ {
			blockLines = append(blockLines, lines[i])
		}
		steps = append(steps, buildStep(kind, blockLines))
	}
	return steps, nil
}

func buildStep(kind string, lines []string) Step {
	if kind == "command" {
		return Step{Kind: "command", Text: strings.TrimSpace(strings.Join(lines, "\n"))}
	}
	step := Step{Kind: "api"}
	if len(lines) > 0 {
		parts := strings.SplitN(strings.TrimSpace(lines[0]), " ", 2)
		if len(parts) == 2 {
			step.Method = parts[0]
			step.Path = parts[1]
		}
	}
	if len(lines) > 1 {
		step.Body = strings.TrimSpace(strings.Join(lines[1:], "\n"))
	}
	return step
}

// parseAcceptance parses "- field: <f>, expr: <e>, tier: <t>, note: <n>"
// bullet lines, in order (first-matching-rule-wins at evaluation time).
func parseAcceptance(section string) ([]Rule, error) {
	var rules []Rule
	for _, line := range bulletLines(section) {
		fields := parseFieldList(line)
		rules = append(rules, Rule{
			Field: fields["field"],
			Expr:  fields["expr"],
			Tier:  strings.ToUpper(fields["tier"]),
			Note:  fields["note"],
		})
	}
	return rules, nil
}

func bulletLines(section string) []string {
	var out []string
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			out = append(out, strings.TrimPrefix(line, "- "))
		}
	}
	return out
}

// parseFieldList parses "key: value, key: value" into a map. Values may
// be quoted to preserve internal commas or colons.
func parseFieldList(line string) map[string]string {
	out := map[string]string{}
	for _, part := range splitRespectingQuotes(line, ',') {
		idx := strings.Index(part, ":")
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:idx]))
		val := strings.TrimSpace(part[idx+1:])
		val = strings.Trim(val, `"`)
		out[key] = val
	}
	return out
}

func splitRespectingQuotes(s string, sep byte) []string {
	var out []string
	var buf strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' {
			inQuotes = !inQuotes
		}
		if c == sep && !inQuotes {
			out = append(out, buf.String())
			buf.Reset()
			continue
		}
		buf.WriteByte(c)
	}
	out = append(out, buf.String())
	return out
}

func fleetKind(kind string) fleet.Kind {
	if kind == "api" {
		return fleet.KindAPI
	}
	return fleet.KindCommand
}

// ToExecutable reduces a SkillDoc to the narrower, execution-ready form
// the Inspection Orchestrator consumes.
func (d *SkillDoc) ToExecutable() *inspection.Skill {
	params := make([]inspection.ParamSpec, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		params = append(params, inspection.ParamSpec{Name: p.Name, Type: p.Type, Required: p.Required})
	}

	platforms := make(map[string]inspection.PlatformSteps, len(d.Platforms))
	for platform, steps := range d.Platforms {
		out := make([]inspection.Step, 0, len(steps))
		for _, st := range steps {
			out = append(out, inspection.Step{
				Kind:        fleetKind(st.Kind),
				Text:        st.Text,
				Method:      st.Method,
				Path:        st.Path,
				Body:        st.Body,
				Independent: st.Independent,
				Parse:       st.Parse,
			})
		}
		platforms[platform] = inspection.PlatformSteps{Steps: out}
	}

	rules := make([]inspection.Rule, 0, len(d.AcceptanceRules))
	for _, r := range d.AcceptanceRules {
		rules = append(rules, inspection.Rule{Field: r.Field, Expr: r.Expr, Tier: inspection.Tier(r.Tier), Note: r.Note})
	}

	return &inspection.Skill{
		ID:               d.ID,
		Name:             d.Name,
		Parameters:       params,
		Platforms:        platforms,
		AcceptanceRules:  rules,
		EstimatedRuntime: d.EstimatedRuntime,
	}
}
