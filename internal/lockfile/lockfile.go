// Package lockfile implements C8: a JSON map of canonical module URL to
// the lowercase hex SHA-256 of its raw source bytes, used to either
// verify a run's fetched modules haven't changed (Check mode) or record
// them for a future run to verify against (Write mode). It is
// deliberately independent of C5's xxhash fingerprint — spec.md §4.8 is
// explicit that the lockfile exists for integrity, not for cache
// lookups, so it uses a cryptographic hash even though that makes it
// slower than C5's.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.modpipe.dev/modpipe/lib/fsext"
)

// Mode selects how a Lockfile is used over the course of a run.
type Mode int

const (
	// Check verifies every fetched module's hash against an existing
	// lockfile, failing the run on any mismatch.
	Check Mode = iota
	// Write records every fetched module's hash, overwriting the
	// lockfile at the end of the run.
	Write
)

// MismatchError is returned by Verify when a module's current hash
// doesn't match the lockfile's recorded one.
type MismatchError struct {
	URL      string
	Want     string
	Got      string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("lockfile: %s: expected hash %s, got %s", e.URL, e.Want, e.Got)
}

// Lockfile is the in-memory form of the on-disk JSON map (spec.md §6).
// It's safe for concurrent use: Verify is called from the dependency
// resolver's parallel fetch fan-out.
type Lockfile struct {
	mu      sync.Mutex
	mode    Mode
	entries map[string]string
}

// Load reads an existing lockfile from fs at path in either mode; in
// Write mode the loaded entries are kept, and Verify adds to or
// overwrites them. A missing file yields an empty Lockfile.
// A missing file in Write mode is not an error; a missing file in Check
// mode is also tolerated (there's nothing yet to check against), since
// spec.md §4.8 only requires checking URLs that are *present* in the
// lockfile.
func Load(fs fsext.Fs, path string, mode Mode) (*Lockfile, error) {
	l := &Lockfile{mode: mode, entries: map[string]string{}}
	ok, err := fsext.Exists(fs, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return l, nil
	}
	raw, err := fsext.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &l.entries); err != nil {
		return nil, fmt.Errorf("lockfile: parsing %s: %w", path, err)
	}
	return l, nil
}

// Hash computes the lockfile's content hash of source: raw bytes, no
// BOM stripping (SPEC_FULL.md §C — the original hashes exactly what was
// fetched).
func Hash(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// Verify checks source against the lockfile's recorded hash for url,
// per Check mode's contract. In Write mode it instead records the hash
// (overwriting any prior value) and never fails. Returns a
// *MismatchError in Check mode on a recorded, differing hash; a URL
// absent from the lockfile in Check mode is accepted without comment
// and is not added.
func (l *Lockfile) Verify(url string, source []byte) error {
	got := Hash(source)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.mode == Write {
		l.entries[url] = got
		return nil
	}

	want, ok := l.entries[url]
	if !ok {
		return nil
	}
	if want != got {
		return &MismatchError{URL: url, Want: want, Got: got}
	}
	return nil
}

// Save writes the lockfile's current entries to fs at path as sorted,
// indented JSON (spec.md §6: "sorted by URL").
func (l *Lockfile) Save(fs fsext.Fs, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// ordered is still a map: the sorted-by-URL output order comes from
	// encoding/json, which marshals map keys in sorted order.
	ordered := make(map[string]string, len(keys))
	for _, k := range keys {
		ordered[k] = l.entries[k]
	}

	raw, err := json.MarshalIndent(ordered, "", "  ")
	if err != nil {
		return err
	}
	return fsext.WriteFile(fs, path, raw, 0o644)
}

// Entries returns a snapshot copy of the lockfile's current contents.
func (l *Lockfile) Entries() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}
