package fleet

// TemplateParser is the external collaborator that turns raw device text
// into structured rows (spec §6: "Template parser"). Templates live
// outside the core; the engine only calls this interface when
// ExecuteOptions.Parse is true and a template exists for the platform and
// operation.
type TemplateParser interface {
	// Parse returns rows extracted from raw, or an error if no template
	// matches or the template itself fails.
	Parse(platform, operation, raw string) ([]ParsedRow, error)

	// HasTemplate reports whether a template is registered for the given
	// platform and operation, without attempting a parse.
	HasTemplate(platform, operation string) bool
}

// noopParser reports no templates and is used when the engine is built
// without a TemplateParser collaborator; Parse is never called because
// HasTemplate always returns false.
type noopParser struct{}

func (noopParser) Parse(string, string, string) ([]ParsedRow, error) { return nil, nil }
func (noopParser) HasTemplate(string, string) bool                   { return false }
