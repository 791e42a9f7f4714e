// Package dependencies provides shared dependency-string processing used by
// the Debian control-file normalizer.
package dependencies

import (
	"regexp"
	"strings"
)

// Processor strips version-constraint operators from dependency strings,
// e.g. "package>=1.0" -> "package".
type Processor struct {
	pattern *regexp.Regexp
}

// NewProcessor creates a new dependency processor.
func NewProcessor() *Processor {
	pattern := regexp.MustCompile(`(?m)(<=|>=|<|=|>)`)

	return &Processor{pattern: pattern}
}

// StripVersion removes a trailing "(op version)" version constraint and any
// inline version-operator suffix from a single dependency token, returning
// the bare package name.
func (p *Processor) StripVersion(depend string) string {
	depend = strings.TrimSpace(depend)

	if idx := strings.Index(depend, "("); idx != -1 {
		depend = strings.TrimSpace(depend[:idx])
	}

	result := p.pattern.Split(depend, -1)

	return strings.TrimSpace(result[0])
}

// NormalizeBackupFiles ensures all backup file paths have a leading slash.
func NormalizeBackupFiles(backupFiles []string) []string {
	normalized := make([]string, len(backupFiles))
	for i, filePath := range backupFiles {
		if !strings.HasPrefix(filePath, "/") {
			normalized[i] = "/" + filePath
		} else {
			normalized[i] = filePath
		}
	}

	return normalized
}
