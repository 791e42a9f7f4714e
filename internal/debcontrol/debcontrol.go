// Package debcontrol parses a debian/control file and normalizes its
// Build-Depends and per-binary Depends fields into plain package-name
// sets. No retrieved example repo vendors a deb822-paragraph parser for
// Go, and the grammar this spec needs (two top-level fields, comma/pipe
// separated dependency lists) is small enough that shelling out to a
// separate tool would add a process boundary for no benefit; this parses
// the paragraph grammar directly.
package debcontrol

import (
	"bufio"
	"os"
	"strings"

	"github.com/M0Rf30/yap/v2/pkg/dependencies"
	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
)

// SourcePackage is the control file's first paragraph.
type SourcePackage struct {
	Name         string
	BuildDepends []string
}

// BinaryPackage is one subsequent paragraph.
type BinaryPackage struct {
	Name    string
	Depends []string
}

// Control is the normalized result of parsing one debian/control file.
type Control struct {
	Source   SourcePackage
	Binaries []BinaryPackage
}

var processor = dependencies.NewProcessor()

// Parse reads controlPath and returns its normalized source and binary
// package declarations.
func Parse(controlPath string) (*Control, error) {
	file, err := os.Open(controlPath)
	if err != nil {
		return nil, yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "opening debian/control").
			WithContext("path", controlPath)
	}
	defer file.Close()

	paragraphs, err := splitParagraphs(file)
	if err != nil {
		return nil, err
	}

	if len(paragraphs) == 0 {
		return nil, yaperrors.New(yaperrors.ErrTypeInvalidManifest, "debian/control has no paragraphs").
			WithContext("path", controlPath)
	}

	control := &Control{}

	sourceFields := parseFields(paragraphs[0])
	control.Source = SourcePackage{
		Name:         sourceFields["Source"],
		BuildDepends: normalizeBuildDepends(sourceFields["Build-Depends"]),
	}

	for _, paragraph := range paragraphs[1:] {
		fields := parseFields(paragraph)
		control.Binaries = append(control.Binaries, BinaryPackage{
			Name:    fields["Package"],
			Depends: normalizeDepends(fields["Depends"]),
		})
	}

	return control, nil
}

// splitParagraphs splits a deb822 file on blank lines, folding continuation
// lines (leading whitespace) into the field they extend.
func splitParagraphs(file *os.File) ([][]string, error) {
	var paragraphs [][]string

	var current []string

	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				paragraphs = append(paragraphs, current)
				current = nil
			}

			continue
		}

		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(current) > 0 {
			current[len(current)-1] += " " + strings.TrimSpace(line)

			continue
		}

		current = append(current, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "reading debian/control")
	}

	if len(current) > 0 {
		paragraphs = append(paragraphs, current)
	}

	return paragraphs, nil
}

func parseFields(lines []string) map[string]string {
	fields := make(map[string]string, len(lines))

	for _, line := range lines {
		idx := strings.Index(line, ":")
		if idx == -1 {
			continue
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		fields[key] = value
	}

	return fields
}

// normalizeBuildDepends splits on ",", then for each alternative splits on
// "|", trimming the version-constraint suffix in parentheses from each
// alternative, keeping only the first (preferred) alternative per spec §4.7.
func normalizeBuildDepends(raw string) []string {
	if raw == "" {
		return nil
	}

	var names []string

	for _, token := range strings.Split(raw, ",") {
		alternatives := strings.Split(token, "|")
		if len(alternatives) == 0 {
			continue
		}

		name := processor.StripVersion(alternatives[0])
		if name != "" {
			names = append(names, name)
		}
	}

	return names
}

// normalizeDepends splits on ",", dropping any token containing a shell
// variable reference ("$") since those are templated at package-build time
// and not resolvable from a static control file.
func normalizeDepends(raw string) []string {
	if raw == "" {
		return nil
	}

	var names []string

	for _, token := range strings.Split(raw, ",") {
		if strings.Contains(token, "$") {
			continue
		}

		name := processor.StripVersion(token)
		if name != "" {
			names = append(names, name)
		}
	}

	return names
}
