package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jpalmerr/telempoll/internal/errs"
	"github.com/jpalmerr/telempoll/internal/telem"
)

const maxResponseBodySize = 8 << 20 // 8MB

// Response is the outcome of one request issued by [Dispatcher.Run].
type Response struct {
	// StatusCode is zero if the request failed before receiving a response.
	StatusCode int
	Body       []byte
	// ContentType is the response's Content-Type header.
	ContentType string
	// Err is an errs.ErrParse error when the response media type does not
	// match RequestPlan.ResponseContentType. The body is still returned.
	Err error
	// TimeRange.Start is shared by every response of one Run call.
	// TimeRange.End is when this particular request completed.
	TimeRange telem.TimeRange
}

// handle is a pre-built request template.
type handle struct {
	method  Method
	url     string
	header  http.Header
	basic   *BasicAuth
	timeout time.Duration
	// accept is the expected response media type; empty skips the check.
	accept string
}

// Dispatcher issues a fixed set of requests concurrently.
//
// Handles are built once by [Build] and reused by every [Dispatcher.Run].
// At most one Run may be in flight at a time; the caller owns that
// synchronisation.
type Dispatcher struct {
	client  *http.Client
	handles []handle
	closed  bool
}

// Build prepares one handle per plan. It fails if any handle cannot be
// built.
func Build(conn ConnectionConfig, plans []RequestPlan) (*Dispatcher, error) {
	if err := conn.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection: %w", err)
	}
	auth := conn.Auth
	if auth == nil {
		auth = NoAuth{}
	}

	handles := make([]handle, 0, len(plans))
	for i, p := range plans {
		h, err := buildHandle(conn, auth, p)
		if err != nil {
			return nil, fmt.Errorf("request[%d] (%s %s): %w", i, p.Method, p.Path, err)
		}
		handles = append(handles, h)
	}

	return &Dispatcher{
		// no client timeout - each handle applies its own via context
		client:  &http.Client{Transport: sharedTransport(conn.VerifyTLS)},
		handles: handles,
	}, nil
}

func buildHandle(conn ConnectionConfig, auth Auth, p RequestPlan) (handle, error) {
	method, err := ParseMethod(string(p.Method))
	if err != nil {
		return handle{}, err
	}

	u, err := joinURL(conn.BaseURL, p.Path, p.QueryParams)
	if err != nil {
		return handle{}, err
	}

	header := make(http.Header)
	basic := auth.apply(header)
	for k, v := range conn.Headers {
		header.Add(k, v)
	}
	for k, v := range p.Headers {
		header.Add(k, v)
	}
	if method.AcceptsBody() {
		ct := p.RequestContentType
		if ct == "" {
			ct = defaultContentType
		}
		header.Set("Content-Type", ct)
	}
	if p.ResponseContentType != "" {
		header.Set("Accept", p.ResponseContentType)
	}

	return handle{
		method:  method,
		url:     u,
		header:  header,
		basic:   basic,
		timeout: conn.Timeout,
		accept:  p.ResponseContentType,
	}, nil
}

type completion struct {
	index       int
	status      int
	body        []byte
	contentType string
	mismatch    error
	err         error
}

// Run issues every request concurrently and waits for all of them.
//
// bodies[i] is the body for handle i; GET and DELETE never send one. The
// responses are returned in handle order. The returned error is the first
// transport failure in completion order, classified as errs.ErrUnreachable
// or errs.ErrTransport. HTTP error statuses are not errors here.
//
// A response whose media type does not match the plan's
// ResponseContentType carries an errs.ErrParse error in Response.Err and
// does not fail the call.
//
// If ctx is cancelled, in-flight requests are abandoned and ctx.Err() is
// returned unwrapped.
func (d *Dispatcher) Run(ctx context.Context, bodies []string) ([]Response, error) {
	if d.closed {
		return nil, errs.Wrap(errs.ErrTransport, "dispatcher is closed")
	}
	if len(bodies) != len(d.handles) {
		return nil, errs.Wrap(errs.ErrTransport, "expected %d request bodies, got %d", len(d.handles), len(bodies))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so abandoned requests never block after Run returns
	done := make(chan completion, len(d.handles))
	start := telem.Now()
	for i := range d.handles {
		go func(i int) {
			done <- d.perform(runCtx, i, bodies[i])
		}(i)
	}

	responses := make([]Response, len(d.handles))
	for i := range responses {
		responses[i].TimeRange = telem.TimeRange{Start: start, End: start}
	}

	var (
		firstErr error
		lastEnd  = start
	)
	for remaining := len(d.handles); remaining > 0; remaining-- {
		select {
		case c := <-done:
			// stamped as drained; strictly increasing in completion order
			end := telem.Now()
			if end <= lastEnd {
				end = lastEnd + 1
			}
			lastEnd = end

			responses[c.index] = Response{
				StatusCode:  c.status,
				Body:        c.body,
				ContentType: c.contentType,
				Err:         c.mismatch,
				TimeRange:   telem.TimeRange{Start: start, End: end},
			}
			if c.err != nil && firstErr == nil {
				firstErr = transportError(classifyTransport(c.err), c.err)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return responses, firstErr
}

func (d *Dispatcher) perform(ctx context.Context, i int, body string) completion {
	h := d.handles[i]
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var reqBody io.Reader
	if h.method.AcceptsBody() && body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, string(h.method), h.url, reqBody)
	if err != nil {
		return completion{index: i, err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header = h.header.Clone()
	if h.basic != nil {
		req.SetBasicAuth(h.basic.Username, h.basic.Password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return completion{index: i, err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		err = fmt.Errorf("failed to read response body: %w", err)
		return completion{index: i, status: resp.StatusCode, err: err}
	}
	c := completion{index: i, status: resp.StatusCode, body: data, contentType: resp.Header.Get("Content-Type")}
	if h.accept != "" && !mediaTypeMatches(h.accept, c.contentType) {
		c.mismatch = errs.Wrap(errs.ErrParse, "%s %s: expected content type %s, got %q",
			h.method, h.url, h.accept, c.contentType)
	}
	return c
}

// Close releases the handles. Run fails after Close. The shared transport
// stays open; see [CloseIdleTransports].
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closed = true
	d.handles = nil
}
