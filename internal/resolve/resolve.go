// Package resolve implements C1: turning an import specifier and a
// referrer URL into the canonical absolute URL that identifies a module,
// applying an optional import map first and enforcing the scheme-mixing
// security rule last (spec.md §4.1).
package resolve

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/idna"

	"go.modpipe.dev/modpipe/internal/importmap"
)

// ErrBlank is returned when the specifier is empty.
var ErrBlank = errors.New("local or remote path required")

// ResolutionError is returned when a specifier can't be recognized as a
// supported scheme, or is malformed.
type ResolutionError struct {
	Specifier string
	Err       error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("the moduleSpecifier %q couldn't be recognised as something this pipeline supports: %s", e.Specifier, e.Err)
	}
	return fmt.Sprintf("the moduleSpecifier %q couldn't be recognised as something this pipeline supports", e.Specifier)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// SecurityError is returned when resolving specifier against referrer
// would violate the scheme-mixing rule (spec.md §4.1 rule 4).
type SecurityError struct {
	Referrer  *url.URL
	Specifier string
	Reason    string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("origin (%s) not allowed to %s: %s", e.Referrer, e.Reason, e.Specifier)
}

// supportedSchemes are the only schemes a resolved module URL may carry
// (spec.md's "supporting http:, https:, and file: schemes").
var supportedSchemes = map[string]bool{"file": true, "http": true, "https": true}

// Resolve computes the canonical URL for specifier as imported from
// referrer (which may be nil for a root/entrypoint specifier). im may be
// nil, meaning no import map is active.
//
// Order of operations follows spec.md §4.1 and the composition note in
// §9: the import map is consulted first (on the raw specifier, before
// any relative resolution), then the result (or the original specifier,
// if the map didn't match) is resolved against referrer.
func Resolve(referrer *url.URL, specifier string, im *importmap.Map) (*url.URL, error) {
	if specifier == "" {
		return nil, ErrBlank
	}

	var viaImportMap bool
	if mapped, ok := im.Resolve(specifier); ok {
		specifier = mapped
		viaImportMap = true
	}

	resolved, err := resolveRaw(referrer, specifier)
	if err != nil {
		return nil, err
	}

	if err := checkSchemeMixing(referrer, resolved, specifier, viaImportMap); err != nil {
		return nil, err
	}

	return resolved, nil
}

func resolveRaw(referrer *url.URL, specifier string) (*url.URL, error) {
	if u, err := url.Parse(specifier); err == nil && u.IsAbs() {
		if !supportedSchemes[u.Scheme] {
			return nil, &ResolutionError{Specifier: specifier, Err: fmt.Errorf("only supported schemes for imports are file, http, and https, %s has `%s`", specifier, u.Scheme)}
		}
		if u.Scheme == "https" || u.Scheme == "http" {
			if err := normalizeHost(u); err != nil {
				return nil, &ResolutionError{Specifier: specifier, Err: err}
			}
		}
		return u, nil
	}

	if !isRelative(specifier) {
		return nil, &ResolutionError{Specifier: specifier}
	}

	if referrer == nil {
		return nil, &ResolutionError{Specifier: specifier}
	}

	// referrer is treated as a directory (a "pwd"), not a module specifier
	// — callers resolving relative to a module's own URL pass Dir(moduleURL)
	// instead. Only a missing trailing slash is patched up here.
	base := *referrer
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	rel, err := url.Parse(specifier)
	if err != nil {
		return nil, &ResolutionError{Specifier: specifier, Err: err}
	}
	return base.ResolveReference(rel), nil
}

// normalizeHost rewrites u's host to its ASCII (Punycode) form so two
// specifiers that spell the same registry name differently — Unicode vs
// "xn--" — resolve to the same module and hash to the same cache key.
func normalizeHost(u *url.URL) error {
	ascii, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		return fmt.Errorf("host %q is not a valid domain name: %w", u.Hostname(), err)
	}
	if port := u.Port(); port != "" {
		u.Host = ascii + ":" + port
	} else {
		u.Host = ascii
	}
	return nil
}

// isRelative reports whether specifier uses one of the three relative
// forms spec.md §4.1 rule 2 recognizes: "./", "../", or "/".
func isRelative(specifier string) bool {
	return strings.HasPrefix(specifier, "./") ||
		strings.HasPrefix(specifier, "../") ||
		strings.HasPrefix(specifier, "/")
}

func checkSchemeMixing(referrer, resolved *url.URL, specifier string, viaImportMap bool) error {
	if referrer == nil {
		return nil
	}
	// A module served from https: may not import http: — downgrading to
	// plaintext mid-graph is the one scheme-mixing case spec.md §4.1 rule 4
	// forbids outright, import map or not.
	if referrer.Scheme == "https" && resolved.Scheme == "http" {
		return &SecurityError{Referrer: referrer, Specifier: specifier, Reason: "load a plaintext http module from a https module"}
	}
	if referrer.Scheme == "https" && resolved.Scheme == "file" && !viaImportMap {
		return &SecurityError{Referrer: referrer, Specifier: specifier, Reason: "load local file"}
	}
	return nil
}

// Dir returns the directory containing u: u with its final path segment
// stripped. Used to turn a module's URL into the referrer its relative
// imports resolve against.
//
// A path that isn't itself rooted (e.g. "-", the stdin placeholder) is
// first anchored at "/" before taking its directory, so Dir always
// returns a rooted path.
func Dir(u *url.URL) *url.URL {
	dir := *u
	d := path.Dir(path.Join("/", dir.Path))
	if d != "/" {
		d += "/"
	}
	dir.Path = d
	return &dir
}
