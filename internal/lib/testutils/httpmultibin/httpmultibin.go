// Package httpmultibin provides a paired HTTP+HTTPS httptest server for
// exercising the fetcher and HTTP cache against real network round-trips
// instead of a hand-rolled RoundTripper fake.
package httpmultibin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// HTTPMultiBin bundles an HTTP and an HTTPS test server sharing one mux,
// plus a string Replacer that substitutes the tokens HTTPBIN_URL and
// HTTPSBIN_URL for the servers' actual addresses in test fixtures, so
// fixtures can write scheme-agnostic URLs.
type HTTPMultiBin struct {
	Mux           *http.ServeMux
	ServerHTTP    *httptest.Server
	ServerHTTPS   *httptest.Server
	Replacer      *strings.Replacer
	HTTPTransport *http.Transport
}

// NewHTTPMultiBin starts both servers and registers t.Cleanup to tear them
// down.
func NewHTTPMultiBin(t testing.TB) *HTTPMultiBin {
	root := http.NewServeMux()

	serverHTTP := httptest.NewServer(root)
	serverHTTPS := httptest.NewTLSServer(root)

	t.Cleanup(func() {
		serverHTTP.Close()
		serverHTTPS.Close()
	})

	transport := serverHTTPS.Client().Transport.(*http.Transport).Clone()

	tb := &HTTPMultiBin{
		Mux:         root,
		ServerHTTP:  serverHTTP,
		ServerHTTPS: serverHTTPS,
		Replacer: strings.NewReplacer(
			"HTTPBIN_IP_URL", serverHTTP.URL,
			"HTTPBIN_URL", serverHTTP.URL,
			"HTTPSBIN_IP_URL", serverHTTPS.URL,
			"HTTPSBIN_URL", serverHTTPS.URL,
		),
		HTTPTransport: transport,
	}
	return tb
}
