package httpapi

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/sp3esu/sentinel/internal/apperr"
)

// hopByHopHeaders are stripped from both the outbound request and the
// upstream response, per RFC 7230 §6.1 (and spec'd out explicitly for
// pass-through endpoints).
var hopByHopHeaders = []string{
	"Connection", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailer", "Transfer-Encoding", "Upgrade",
}

// passThroughProxy forwards the body of a pass-through endpoint
// (completions, embeddings, responses) to a single upstream base URL,
// replacing the caller's Authorization with the provider's own key and
// stripping hop-by-hop headers in both directions.
type passThroughProxy struct {
	proxy *httputil.ReverseProxy
}

// NewPassThroughProxy builds a passThroughProxy targeting baseURL,
// authenticating outbound requests with apiKey. Returns nil if baseURL
// is empty (pass-through disabled).
func NewPassThroughProxy(baseURL, apiKey string) *passThroughProxy {
	if baseURL == "" {
		return nil
	}
	target, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil
	}

	rp := httputil.NewSingleHostReverseProxy(target)
	originalDirector := rp.Director
	rp.Director = func(r *http.Request) {
		originalDirector(r)
		stripHopByHop(r.Header)
		r.Header.Set("Authorization", "Bearer "+apiKey)
		r.Header.Set("Content-Type", "application/json")
		r.Host = target.Host
	}
	rp.ModifyResponse = func(resp *http.Response) error {
		stripHopByHop(resp.Header)
		return nil
	}

	return &passThroughProxy{proxy: rp}
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// handlePassThrough forwards the raw request body to the configured
// upstream, dispatches the fixed request-only accounting increment, and
// relays the upstream response verbatim.
func (s *Server) handlePassThrough(w http.ResponseWriter, r *http.Request) {
	if s.passThru == nil {
		s.writeAppError(w, apperr.ServiceUnavailable("pass-through upstream not configured", 0))
		return
	}

	profile := profileFromContext(r.Context())
	s.pipeline.PassThrough(profile.ExternalID)

	s.passThru.proxy.ServeHTTP(w, r)
}
