// Package importmap implements the subset of the import-map specifier
// substitution rules C1 needs: exact and longest-prefix matching of a
// "imports" table, applied before redirect resolution (spec.md §4.1, §9 —
// "Import maps and redirects compose").
package importmap

import (
	"encoding/json"
	"sort"
	"strings"
)

// Map is a parsed import map's "imports" table.
type Map struct {
	imports map[string]string
	// prefixes holds the subset of keys ending in "/", longest first, so
	// Resolve can do a simple linear scan for the longest matching prefix.
	prefixes []string
}

// document is the on-disk shape of an import map file.
type document struct {
	Imports map[string]string `json:"imports"`
}

// Parse decodes an import map JSON document.
func Parse(data []byte) (*Map, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return New(doc.Imports), nil
}

// New builds a Map directly from an imports table, useful in tests and
// for programmatically constructed maps.
func New(imports map[string]string) *Map {
	m := &Map{imports: imports}
	for k := range imports {
		if strings.HasSuffix(k, "/") {
			m.prefixes = append(m.prefixes, k)
		}
	}
	sort.Slice(m.prefixes, func(i, j int) bool { return len(m.prefixes[i]) > len(m.prefixes[j]) })
	return m
}

// Resolve substitutes specifier per spec.md §4.1 rule 1: an exact match
// wins outright; otherwise the longest matching "/"-suffixed prefix key
// has its prefix replaced by the mapped target and the remainder
// appended. ok is false when nothing in the map applies, in which case
// the caller should fall through to relative/absolute resolution
// unchanged.
func (m *Map) Resolve(specifier string) (string, bool) {
	if m == nil {
		return "", false
	}
	if target, ok := m.imports[specifier]; ok {
		return target, true
	}
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(specifier, prefix) {
			target := m.imports[prefix]
			return target + specifier[len(prefix):], true
		}
	}
	return "", false
}
