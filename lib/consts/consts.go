// Package consts holds values shared across the pipeline that would
// otherwise invite import cycles: the engine version baked into every
// transpiler-cache fingerprint, and the User-Agent the fetcher sends.
package consts

import "fmt"

// Version is the pipeline's own release version. Overridden at build time
// via -ldflags.
var Version = "0.0.0-dev"

// EngineVersion identifies the embedded script engine build. It is part
// of every compile-cache fingerprint (spec.md §3: "Compiled artifact"),
// so bumping the engine invalidates every cached artifact on next run.
var EngineVersion = "goja-dev"

// FullVersion renders the pipeline version together with the engine
// version.
func FullVersion() string {
	return fmt.Sprintf("%s (engine %s)", Version, EngineVersion)
}

// UserAgent is sent with every outbound HTTP(S) fetch.
func UserAgent() string {
	return fmt.Sprintf("modpipe/%s", Version)
}
