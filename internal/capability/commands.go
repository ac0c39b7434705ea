package capability

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// loadCommandsDir scans dir for one plain-text file per platform. Each line
// is one operation; blank lines and `#...` comments are skipped; a leading
// `!` marks a write operation. Files whose basename begins with `_` are
// ignored entirely.
func loadCommandsDir(dir string) ([]Capability, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var caps []Capability
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasPrefix(name, "_") {
			continue
		}
		ext := filepath.Ext(name)
		if ext != ".txt" {
			continue
		}
		platform := strings.TrimSuffix(name, ext)
		path := filepath.Join(dir, name)
		fileCaps, err := parseCommandsFile(path, platform)
		if err != nil {
			return nil, err
		}
		caps = append(caps, fileCaps...)
	}
	return caps, nil
}

func parseCommandsFile(path, platform string) ([]Capability, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var caps []Capability
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		isWrite := false
		if strings.HasPrefix(line, "!") {
			isWrite = true
			line = strings.TrimSpace(strings.TrimPrefix(line, "!"))
		}
		if line == "" {
			continue
		}
		caps = append(caps, Capability{
			Kind:       KindCommand,
			Platform:   platform,
			Pattern:    line,
			IsWrite:    isWrite,
			SourceFile: path,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return caps, nil
}

// matchCommand applies spec §4.1's command matching rule: case-insensitive,
// whitespace-normalized compare; a pattern ending in `*` matches any
// operation whose trimmed form starts with the pattern prefix (minus `*`).
func matchCommand(pattern, operation string) bool {
	normPattern := normalizeWhitespace(pattern)
	normOp := normalizeWhitespace(operation)
	if strings.HasSuffix(normPattern, "*") {
		prefix := strings.TrimSuffix(normPattern, "*")
		return strings.HasPrefix(strings.ToLower(normOp), strings.ToLower(prefix))
	}
	return strings.EqualFold(normPattern, normOp)
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
