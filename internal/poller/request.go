package poller

import (
	"fmt"
	"mime"
	"net/url"
	"sort"
	"strings"
)

// Method is an HTTP request method supported by the dispatcher.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// ParseMethod converts a case-insensitive method name. Empty means GET.
func ParseMethod(s string) (Method, error) {
	if s == "" {
		return MethodGet, nil
	}
	switch m := Method(strings.ToUpper(s)); m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
		return m, nil
	}
	return "", fmt.Errorf("unsupported method %q", s)
}

// AcceptsBody reports whether requests with this method carry a body.
func (m Method) AcceptsBody() bool {
	return m == MethodPost || m == MethodPut || m == MethodPatch
}

// RequestPlan is the static description of one request. It must not be
// modified after it is passed to [Build].
type RequestPlan struct {
	Method      Method
	Path        string
	QueryParams map[string]string
	Headers     map[string]string

	// RequestContentType is sent with bodies. Defaults to application/json.
	RequestContentType string
	// ResponseContentType, when set, is sent as Accept and checked against
	// the response's media type.
	ResponseContentType string
}

const defaultContentType = "application/json"

// mediaTypeMatches reports whether the Content-Type header got names the
// media type want. Parameters such as charset are ignored.
func mediaTypeMatches(want, got string) bool {
	mt, _, err := mime.ParseMediaType(got)
	if err != nil {
		mt, _, _ = strings.Cut(got, ";")
	}
	return strings.EqualFold(strings.TrimSpace(mt), strings.TrimSpace(want))
}

// joinURL joins base and path with exactly one '/' and appends the query
// string. Keys are encoded in sorted order.
func joinURL(base, path string, query map[string]string) (string, error) {
	raw := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if len(query) > 0 {
		values := u.Query()
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			values.Set(k, query[k])
		}
		u.RawQuery = values.Encode()
	}
	return u.String(), nil
}
