package knowledge

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/olavhq/olav/internal/olaverr"
)

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// slugify implements spec §4.4.2's save_solution slugging rule: the title
// lower-cased with runs of non-alphanumeric characters collapsed to a
// single '-'.
func slugify(title string) string {
	s := slugNonAlnum.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(s, "-")
}

// SaveSolution implements spec §4.4.2's save_solution(...): render a
// standardized Markdown document and write it to
// knowledge/solutions/<slug>.md. On a slug collision a numeric suffix is
// appended (spec §8: "produces at most two distinct files; second gets a
// -2 suffix; never corrupts the first").
func (s *Store) SaveSolution(sol Solution, origin Origin, approved bool) (*Solution, error) {
	base := slugify(sol.Title)
	if base == "" {
		base = "solution"
	}

	slug := base
	if _, err := s.Read("knowledge/solutions/" + slug + ".md"); !olaverr.Is(err, olaverr.NotFound) {
		for n := 2; ; n++ {
			candidate := base + "-" + strconv.Itoa(n)
			if _, err := s.Read("knowledge/solutions/" + candidate + ".md"); olaverr.Is(err, olaverr.NotFound) {
				slug = candidate
				break
			}
		}
	}

	sol.Slug = slug
	sol.Path = "knowledge/solutions/" + slug + ".md"
	markdown := renderSolution(sol)

	if err := s.Write(sol.Path, markdown, origin, approved); err != nil {
		return nil, err
	}
	return &sol, nil
}

func renderSolution(sol Solution) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "title: %s\n", sol.Title)
	if len(sol.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(sol.Tags, ", "))
	}
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", sol.Title)
	b.WriteString("## Problem\n\n" + sol.Problem + "\n\n")
	b.WriteString("## Process\n\n" + sol.Process + "\n\n")
	b.WriteString("## Root cause\n\n" + sol.RootCause + "\n\n")
	b.WriteString("## Solution\n\n" + sol.Fix + "\n\n")
	if len(sol.Commands) > 0 {
		b.WriteString("## Commands\n\n```\n")
		for _, c := range sol.Commands {
			b.WriteString(c + "\n")
		}
		b.WriteString("```\n")
	}
	return b.String()
}
