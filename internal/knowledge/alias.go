package knowledge

import (
	"fmt"
	"strings"

	"github.com/olavhq/olav/internal/olaverr"
)

const aliasesPath = "knowledge/aliases.md"

// UpdateAlias implements spec §4.4.2's update_alias(...): appends or
// replaces a row in knowledge/aliases.md, with rows keyed by
// (alias, type). The table is rendered as Markdown so it reads naturally
// alongside the rest of the knowledge base, but is parsed back as rows
// keyed on the first two columns.
func (s *Store) UpdateAlias(a Alias, origin Origin, approved bool) error {
	if a.Type == "" {
		a.Type = AliasOther
	}

	rows, err := s.readAliasRows()
	if err != nil && !olaverr.Is(err, olaverr.NotFound) {
		return err
	}

	replaced := false
	for i, row := range rows {
		if row.Alias == a.Alias && row.Type == a.Type {
			rows[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		rows = append(rows, a)
	}

	return s.Write(aliasesPath, renderAliasTable(rows), origin, approved)
}

// ListAliases returns every row currently in the aliases table.
func (s *Store) ListAliases() ([]Alias, error) {
	rows, err := s.readAliasRows()
	if err != nil {
		if olaverr.Is(err, olaverr.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rows, nil
}

func (s *Store) readAliasRows() ([]Alias, error) {
	doc, err := s.Read(aliasesPath)
	if err != nil {
		return nil, err
	}
	return parseAliasTable(doc.Body)
}

// renderAliasTable renders rows as a Markdown table, append-only in
// spirit: existing rows are preserved in order and only a matching
// (alias, type) row is replaced in place.
func renderAliasTable(rows []Alias) string {
	var b strings.Builder
	b.WriteString("# Aliases\n\n")
	b.WriteString("| Alias | Value | Type | Platform | Notes |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			escapeCell(r.Alias), escapeCell(r.Value), string(r.Type), escapeCell(r.Platform), escapeCell(r.Notes))
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// parseAliasTable reads rows back out of the Markdown table rendered by
// renderAliasTable. Lines that are not a 5-column data row (header,
// separator, blank, prose) are skipped.
func parseAliasTable(body string) ([]Alias, error) {
	var rows []Alias
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}
		cols := splitTableRow(line)
		if len(cols) != 5 {
			continue
		}
		if cols[0] == "Alias" || strings.HasPrefix(cols[0], "---") {
			continue
		}
		rows = append(rows, Alias{
			Alias:    cols[0],
			Value:    cols[1],
			Type:     AliasType(cols[2]),
			Platform: cols[3],
			Notes:    cols[4],
		})
	}
	return rows, nil
}

func splitTableRow(line string) []string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(line, "|"), "|")
	var out []string
	var cell strings.Builder
	for i := 0; i < len(trimmed); i++ {
		switch {
		case trimmed[i] == '\\' && i+1 < len(trimmed) && trimmed[i+1] == '|':
			cell.WriteByte('|')
			i++
		case trimmed[i] == '|':
			out = append(out, strings.TrimSpace(cell.String()))
			cell.Reset()
		default:
			cell.WriteByte(trimmed[i])
		}
	}
	return append(out, strings.TrimSpace(cell.String()))
}
