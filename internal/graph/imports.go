// Package graph implements C7: building an instantiable module graph by
// statically scanning each compiled module's JavaScript for its
// dependencies, resolving them via C1, and recursing through C6
// breadth-first.
//
// Import extraction is a lexical scan, not a full parse: esbuild's
// Transform API (used by C5) compiles one file at a time without a
// resolver, so it can't report a dependency list the way a bundler's
// Build API would, and goja's parser is built to execute a module, not
// to expose an import table. A regexp-based scanner over the
// ES-module-formatted output (spec.md §4.5 always compiles to
// FormatESModule) is the same tradeoff the JS ecosystem's own
// es-module-lexer makes for this exact problem, and it's precise enough
// for code esbuild itself produced.
package graph

import (
	"regexp"
	"sort"
)

// ImportKind distinguishes how a specifier was found, mirroring
// spec.md §4.7 step 2's four forms.
type ImportKind int

const (
	StaticImport ImportKind = iota
	DynamicImport
	ReferencePath
	ReferenceTypes
	DenoTypesPragma
)

// Import is one dependency found while scanning a module's source.
type Import struct {
	Kind       ImportKind
	Specifier  string
	// TypesFor is set on a DenoTypesPragma entry: the specifier of the
	// import it annotates (spec.md §4.7: "bind the pragma URL as a
	// type-only companion of that import").
	TypesFor string
}

var (
	// staticImportRe matches `import ... from "spec"`, `export ...
	// from "spec"`, and bare `import "spec"` — both quote styles.
	staticImportRe = regexp.MustCompile(`(?m)^\s*(?:import|export)\s[^;\n]*?\bfrom\s*(['"])([^'"]+)['"]|^\s*import\s*(['"])([^'"]+)['"]`)

	// dynamicImportRe matches import("spec") / import('spec') with a
	// string-literal argument; a non-literal argument (a variable, a
	// template with interpolation) simply won't match and is left for
	// the caller to treat as deferred per spec.md §4.7 step 2.
	dynamicImportRe = regexp.MustCompile(`\bimport\s*\(\s*(['"])([^'"]+)['"]\s*\)`)

	// referenceRe matches a triple-slash directive:
	// /// <reference path="..."/> or /// <reference types="..."/>.
	referenceRe = regexp.MustCompile(`(?m)^\s*///\s*<reference\s+(path|types)\s*=\s*"([^"]+)"\s*/?>`)

	// denoTypesRe matches a `@deno-types="..."` pragma comment.
	denoTypesRe = regexp.MustCompile(`@deno-types\s*=\s*(['"])([^'"]+)['"]`)
)

// ScanImports extracts every Import from source in source order. The
// order within each kind is preserved; callers that need the full
// "source order of the corresponding imports" ordering guarantee
// (spec.md §5) use the returned slice's order directly rather than
// re-sorting by kind.
func ScanImports(source string) []Import {
	var out []Import

	type hit struct {
		pos int
		imp Import
	}
	var hits []hit

	for _, m := range staticImportRe.FindAllStringSubmatchIndex(source, -1) {
		spec, pos := staticMatchSpecifier(source, m)
		if spec == "" {
			continue
		}
		hits = append(hits, hit{pos: pos, imp: Import{Kind: StaticImport, Specifier: spec}})
	}

	for _, m := range dynamicImportRe.FindAllStringSubmatchIndex(source, -1) {
		spec := source[m[4]:m[5]]
		hits = append(hits, hit{pos: m[0], imp: Import{Kind: DynamicImport, Specifier: spec}})
	}

	for _, m := range referenceRe.FindAllStringSubmatchIndex(source, -1) {
		kind := source[m[2]:m[3]]
		spec := source[m[4]:m[5]]
		k := ReferencePath
		if kind == "types" {
			k = ReferenceTypes
		}
		hits = append(hits, hit{pos: m[0], imp: Import{Kind: k, Specifier: spec}})
	}

	for _, m := range denoTypesRe.FindAllStringSubmatchIndex(source, -1) {
		spec := source[m[4]:m[5]]
		// Bind the pragma to the import statement immediately
		// following it, per spec.md §4.7: "immediately preceding an
		// import".
		target := nextStaticImportAfter(source, m[1])
		hits = append(hits, hit{pos: m[0], imp: Import{Kind: DenoTypesPragma, Specifier: spec, TypesFor: target}})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	for _, h := range hits {
		out = append(out, h.imp)
	}
	return out
}

func staticMatchSpecifier(source string, m []int) (string, int) {
	// m holds [whole, group1(quote/from), group2(spec/from),
	// group3(quote/bare), group4(spec/bare)] start/end pairs; exactly
	// one alternative matches per occurrence, the other's groups are -1.
	if m[4] != -1 && m[5] != -1 {
		return source[m[4]:m[5]], m[0]
	}
	if m[8] != -1 && m[9] != -1 {
		return source[m[8]:m[9]], m[0]
	}
	return "", m[0]
}

func nextStaticImportAfter(source string, from int) string {
	rest := source[from:]
	loc := staticImportRe.FindStringSubmatchIndex(rest)
	if loc == nil {
		return ""
	}
	spec, _ := staticMatchSpecifier(rest, loc)
	return spec
}
