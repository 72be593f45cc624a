package offline

import (
	"net/http"
	"net/http/httptest"
)

// HandlerTransport answers requests addressed to Host from Handler without
// touching the network. Requests for any other host go to Next, or to
// http.DefaultTransport when Next is nil.
type HandlerTransport struct {
	Host    string
	Handler http.Handler
	Next    http.RoundTripper
}

func (t *HandlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != t.Host {
		next := t.Next
		if next == nil {
			next = http.DefaultTransport
		}
		return next.RoundTrip(req)
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	rec := httptest.NewRecorder()
	t.Handler.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}
