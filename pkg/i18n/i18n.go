// Package i18n provides the message catalog used for log lines and error
// text throughout the builder. Earlier revisions backed this with a
// go-i18n bundle and embedded locale files; the builder runs exclusively
// on build hosts and CI workers operated in English, so the catalog now
// holds a single locale and resolves keys to format strings directly.
package i18n

import "fmt"

// catalog maps message keys to their English format string. Keys are
// dotted by concern (e.g. "errors.build.*", "logger.*") to mirror the
// structure of the packages that raise them.
var catalog = map[string]string{}

// Register adds or overwrites catalog entries. No package in this tree
// calls it, so the catalog is empty and T returns each key unchanged.
func Register(entries map[string]string) {
	for key, value := range entries {
		catalog[key] = value
	}
}

// T resolves key to its catalog message. Unknown keys return the key
// itself so a missing registration is visible instead of silently empty.
func T(key string, args ...any) string {
	msg, ok := catalog[key]
	if !ok {
		msg = key
	}

	if len(args) == 0 {
		return msg
	}

	return fmt.Sprintf(msg, args...)
}
