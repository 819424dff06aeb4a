package outbound

import "net/http"

// Transport returns a RoundTripper that sets the Authorization header on
// requests that do not already carry one. A nil base uses
// http.DefaultTransport.
func (b *Bearer) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &bearerTransport{bearer: b, base: base}
}

// Client returns an *http.Client using Transport(nil).
func (b *Bearer) Client() *http.Client {
	return &http.Client{Transport: b.Transport(nil)}
}

type bearerTransport struct {
	bearer *Bearer
	base   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	h := t.bearer.Header()
	if h == "" || req.Header.Get("Authorization") != "" {
		return t.base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", h)
	return t.base.RoundTrip(r)
}
