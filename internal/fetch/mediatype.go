package fetch

import (
	"mime"
	"path"
	"strings"
)

// MediaType is the resolved kind of a fetched source file, used to pick
// the transpiler's parse mode (spec.md §4.4.3).
type MediaType int

const (
	Unknown MediaType = iota
	JavaScript
	TypeScript
	TSX
	JSX
	JSON
	WebAssembly
)

func (m MediaType) String() string {
	switch m {
	case JavaScript:
		return "JavaScript"
	case TypeScript:
		return "TypeScript"
	case TSX:
		return "TSX"
	case JSX:
		return "JSX"
	case JSON:
		return "JSON"
	case WebAssembly:
		return "WebAssembly"
	default:
		return "Unknown"
	}
}

// mimeTable and extTable encode the fixed precedence table from
// spec.md §4.4.3: a Content-Type header wins when recognized, the file
// extension is consulted otherwise, and anything matching neither falls
// through to JavaScript-with-a-warning by returning Unknown (the caller
// decides how to warn).
var mimeTable = map[string]MediaType{
	"application/javascript": JavaScript,
	"text/javascript":        JavaScript,
	"application/typescript": TypeScript,
	"text/typescript":        TypeScript,
	"application/json":       JSON,
	"text/json":              JSON,
	"application/wasm":       WebAssembly,
}

var extTable = map[string]MediaType{
	".js":    JavaScript,
	".mjs":   JavaScript,
	".cjs":   JavaScript,
	".ts":    TypeScript,
	".d.ts":  TypeScript,
	".tsx":   TSX,
	".jsx":   JSX,
	".json":  JSON,
	".wasm":  WebAssembly,
}

// DetectMediaType implements spec.md §4.4.3's precedence: an explicit
// X-TypeScript-Types pragma is handled separately by the caller (it
// yields a companion dependency, not a media type); here the precedence
// is Content-Type, then file extension, defaulting to Unknown.
func DetectMediaType(contentType, specifierPath string) MediaType {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			if m, ok := mimeTable[mt]; ok {
				return m
			}
		}
	}
	base := path.Base(specifierPath)
	if strings.HasSuffix(base, ".d.ts") {
		return TypeScript
	}
	ext := path.Ext(base)
	if m, ok := extTable[ext]; ok {
		return m
	}
	return Unknown
}

