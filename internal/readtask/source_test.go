package readtask

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/telempoll/internal/errs"
	"github.com/jpalmerr/telempoll/internal/poller"
	"github.com/jpalmerr/telempoll/internal/telem"
)

type noWait struct{}

func (noWait) Wait(ctx context.Context) error { return ctx.Err() }

// stubRunner returns canned responses, one per endpoint.
type stubRunner struct {
	responses []poller.Response
	err       error
	calls     atomic.Int32
}

func (r *stubRunner) Run(_ context.Context, bodies []string) ([]poller.Response, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return r.responses, nil
}

func okResponse(body string, start, end telem.TimeStamp) poller.Response {
	return poller.Response{
		StatusCode: http.StatusOK,
		Body:       []byte(body),
		TimeRange:  telem.TimeRange{Start: start, End: end},
	}
}

func newTestSource(t *testing.T, spec TaskSpec, responses ...poller.Response) (*Source, *stubRunner) {
	t.Helper()
	plan, err := Parse(context.Background(), spec, testRegistry("http://h"))
	require.NoError(t, err)
	r := &stubRunner{responses: responses}
	return NewSourceWithClock(plan, r, noWait{}, nil), r
}

func TestSource_Read(t *testing.T) {
	src, _ := newTestSource(t, weatherSpec(), okResponse(`{"temperature":23.5,"humidity":80}`, 1000, 3000))

	frame, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warning)

	assert.Equal(t, []telem.ChannelKey{keyTemp, keyHumidity, keyIndex}, frame.Keys())
	temp, _ := frame.At(keyTemp, 0)
	hum, _ := frame.At(keyHumidity, 0)
	assert.Equal(t, 23.5, temp)
	assert.Equal(t, 80.0, hum)

	idx, ok := frame.Get(keyIndex)
	require.True(t, ok)
	assert.Equal(t, telem.TimeStampT, idx.DataType)
	assert.Equal(t, telem.TimeStamp(2000), idx.Samples[0])
}

func TestSource_MissingFieldIsWarning(t *testing.T) {
	src, _ := newTestSource(t, weatherSpec(), okResponse(`{"temperature":23.5}`, 0, 10))

	frame, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Contains(t, warning, "field /humidity not found in response from /api/data")
	assert.True(t, frame.Contains(keyTemp))
	assert.False(t, frame.Contains(keyHumidity))
	assert.True(t, frame.Contains(keyIndex))
}

func TestSource_ConversionFailureIsWarning(t *testing.T) {
	src, _ := newTestSource(t, weatherSpec(), okResponse(`{"temperature":"hot","humidity":80}`, 0, 10))

	frame, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Contains(t, warning, "failed to convert /temperature for channel temperature")
	assert.Equal(t, []telem.ChannelKey{keyHumidity, keyIndex}, frame.Keys())
}

func TestSource_UnparseableBodyIsWarning(t *testing.T) {
	src, _ := newTestSource(t, weatherSpec(), okResponse(`<html>`, 0, 10))

	frame, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, frame.Empty())
	assert.Contains(t, warning, "failed to parse response from /api/data")
}

func TestSource_NoIndexWithoutFieldData(t *testing.T) {
	src, _ := newTestSource(t, weatherSpec(), okResponse(`{}`, 0, 10))

	frame, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, frame.Empty())
	assert.Equal(t, 2, strings.Count(warning, "not found"))
}

func TestSource_StatusErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, errs.ErrClientStatus},
		{http.StatusUnauthorized, errs.ErrClientStatus},
		{http.StatusInternalServerError, errs.ErrServerStatus},
		{http.StatusServiceUnavailable, errs.ErrServerStatus},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			resp := okResponse(`{"temperature":1,"humidity":2}`, 0, 10)
			resp.StatusCode = tt.status
			src, _ := newTestSource(t, weatherSpec(), resp)

			frame, _, err := src.Read(context.Background())
			require.ErrorIs(t, err, tt.want)
			assert.True(t, errs.Fatal(err))
			assert.True(t, frame.Empty())
		})
	}
}

func TestSource_StatusErrorDropsOtherEndpoints(t *testing.T) {
	spec := weatherSpec()
	spec.Endpoints = append(spec.Endpoints, EndpointSpec{
		Path:   "/label",
		Fields: []FieldSpec{{Pointer: "/label", Channel: uint32(keyLabel)}},
	})
	bad := okResponse(`{}`, 0, 10)
	bad.StatusCode = http.StatusBadGateway
	src, _ := newTestSource(t, spec, okResponse(`{"temperature":1,"humidity":2}`, 0, 10), bad)

	frame, _, err := src.Read(context.Background())
	require.ErrorIs(t, err, errs.ErrServerStatus)
	assert.Contains(t, err.Error(), "GET /label returned status 502")
	assert.True(t, frame.Empty())
}

func TestSource_TransportErrorIsFatal(t *testing.T) {
	src, r := newTestSource(t, weatherSpec())
	r.err = errs.Wrap(errs.ErrUnreachable, "connect: refused")

	_, _, err := src.Read(context.Background())
	assert.ErrorIs(t, err, errs.ErrUnreachable)
}

func TestSource_IndexFromResponseTimestamp(t *testing.T) {
	spec := weatherSpec()
	spec.Endpoints[0].Fields[0].TimePointer = &TimeInfoSpec{Pointer: "/meta/ts", Format: "unix_ms"}
	src, _ := newTestSource(t, spec, okResponse(`{"temperature":1,"humidity":2,"meta":{"ts":1700000000123}}`, 0, 10))

	frame, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warning)
	ts, ok := frame.At(keyIndex, 0)
	require.True(t, ok)
	assert.Equal(t, telem.TimeStamp(1700000000123000000), ts)
}

func TestSource_IndexTimestampMissingIsWarning(t *testing.T) {
	spec := weatherSpec()
	spec.Endpoints[0].Fields[0].TimePointer = &TimeInfoSpec{Pointer: "/ts", Format: "iso8601"}
	src, _ := newTestSource(t, spec, okResponse(`{"temperature":1,"humidity":2}`, 0, 10))

	frame, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Contains(t, warning, "timestamp field /ts not found for index channel 100")
	assert.False(t, frame.Contains(keyIndex))
	assert.True(t, frame.Contains(keyTemp))
}

func TestSource_StrictMode(t *testing.T) {
	spec := TaskSpec{
		Device: "dev",
		Rate:   1,
		Strict: true,
		Endpoints: []EndpointSpec{{
			Path:   "/state",
			Fields: []FieldSpec{{Pointer: "/state", Channel: uint32(keyState)}},
		}},
	}
	src, _ := newTestSource(t, spec, okResponse(`{"state":1.5}`, 0, 10))
	_, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Contains(t, warning, "failed to convert /state")

	spec.Strict = false
	src, _ = newTestSource(t, spec, okResponse(`{"state":1.5}`, 0, 10))
	frame, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warning)
	v, _ := frame.At(keyState, 0)
	assert.Equal(t, uint8(1), v)
}

func TestSource_EnumValues(t *testing.T) {
	spec := weatherSpec()
	spec.Endpoints[0].Fields[1].EnumValues = map[string]float64{"low": 10, "high": 90}
	src, _ := newTestSource(t, spec, okResponse(`{"temperature":1,"humidity":"high"}`, 0, 10))

	frame, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warning)
	v, _ := frame.At(keyHumidity, 0)
	assert.Equal(t, 90.0, v)
}

func TestSource_DisabledFieldsAreSkipped(t *testing.T) {
	spec := weatherSpec()
	spec.Endpoints[0].Fields[1].Enabled = boolPtr(false)
	src, _ := newTestSource(t, spec, okResponse(`{"temperature":1}`, 0, 10))

	frame, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, []telem.ChannelKey{keyTemp, keyIndex}, frame.Keys())
	assert.Equal(t, []telem.ChannelKey{keyTemp, keyIndex}, src.WriterConfig().Keys)
}

func TestSource_WriterConfigAndChannels(t *testing.T) {
	spec := weatherSpec()
	spec.DataSaving = boolPtr(false)
	src, _ := newTestSource(t, spec)

	cfg := src.WriterConfig()
	assert.Equal(t, []telem.ChannelKey{keyTemp, keyHumidity, keyIndex}, cfg.Keys)
	assert.False(t, cfg.DataSaving)

	names := make([]string, 0)
	for _, ch := range src.Channels() {
		names = append(names, ch.Name)
	}
	assert.Equal(t, []string{"temperature", "humidity", "time"}, names)
}

func TestSource_CancelledBeforeRead(t *testing.T) {
	src, r := newTestSource(t, weatherSpec(), okResponse(`{}`, 0, 10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := src.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errs.ErrTransport)
	assert.Zero(t, r.calls.Load())
}

func TestConfigure_EndToEnd(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/data":
			_, _ = w.Write([]byte(`{"temperature":23.5,"humidity":80}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	spec := weatherSpec()
	spec.Rate = 1000
	src, err := Configure(context.Background(), spec, testRegistry(srv.URL), nil)
	require.NoError(t, err)
	defer src.Close()

	var prev telem.TimeStamp
	for i := 0; i < 10; i++ {
		frame, warning, err := src.Read(context.Background())
		require.NoError(t, err)
		assert.Empty(t, warning)
		assert.Equal(t, 3, frame.Len())

		temp, _ := frame.At(keyTemp, 0)
		assert.Equal(t, 23.5, temp)

		ts, _ := frame.At(keyIndex, 0)
		assert.Greater(t, ts.(telem.TimeStamp), prev)
		prev = ts.(telem.TimeStamp)
	}
	assert.Equal(t, int32(10), hits.Load())
}

func TestConfigure_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src, err := Configure(context.Background(), weatherSpec(), testRegistry(srv.URL), nil)
	require.NoError(t, err)
	defer src.Close()

	_, _, err = src.Read(context.Background())
	assert.ErrorIs(t, err, errs.ErrClientStatus)
}

func TestConfigure_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	src, err := Configure(context.Background(), weatherSpec(), testRegistry(url), nil)
	require.NoError(t, err)
	defer src.Close()

	_, _, err = src.Read(context.Background())
	assert.ErrorIs(t, err, errs.ErrUnreachable)
}

func TestConfigure_InvalidSpec(t *testing.T) {
	spec := weatherSpec()
	spec.Endpoints = nil
	_, err := Configure(context.Background(), spec, testRegistry("http://h"), nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestSource_ContentTypeMismatchIsWarning(t *testing.T) {
	spec := weatherSpec()
	spec.Endpoints = append(spec.Endpoints, EndpointSpec{
		Path:                "/label",
		ResponseContentType: "application/json",
		Fields:              []FieldSpec{{Pointer: "/label", Channel: uint32(keyLabel)}},
	})
	mismatched := okResponse(`{"label":"ok"}`, 0, 10)
	mismatched.ContentType = "text/plain"
	mismatched.Err = errs.Wrap(errs.ErrParse, "GET /label: expected content type application/json, got %q", "text/plain")
	src, _ := newTestSource(t, spec, okResponse(`{"temperature":1,"humidity":2}`, 0, 10), mismatched)

	frame, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Contains(t, warning, "expected content type application/json")
	assert.True(t, frame.Contains(keyTemp))
	assert.False(t, frame.Contains(keyLabel))
}

func TestSource_FatalResponseErrorFailsCycle(t *testing.T) {
	resp := okResponse(`{"temperature":1,"humidity":2}`, 0, 10)
	resp.Err = errs.Wrap(errs.ErrTransport, "truncated")
	src, _ := newTestSource(t, weatherSpec(), resp)

	frame, _, err := src.Read(context.Background())
	require.ErrorIs(t, err, errs.ErrTransport)
	assert.True(t, frame.Empty())
}

func TestConfigure_ResponseContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"temperature":23.5,"humidity":80}`))
	}))
	defer server.Close()

	spec := weatherSpec()
	spec.Endpoints[0].ResponseContentType = "application/json"
	src, err := Configure(context.Background(), spec, testRegistry(server.URL), nil)
	require.NoError(t, err)
	defer src.Close()

	frame, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.True(t, frame.Contains(keyTemp))
}

func TestSource_WarningsWrapParseErrors(t *testing.T) {
	src, _ := newTestSource(t, weatherSpec(), okResponse(`{"temperature":"hot"}`, 0, 10))

	_, warning, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Contains(t, warning, errs.ErrParse.Error())
}

func TestSource_OnResponse(t *testing.T) {
	src, _ := newTestSource(t, weatherSpec(), okResponse(`{"temperature":1,"humidity":2}`, 1000, 4000))

	var paths []string
	var spans []time.Duration
	src.OnResponse(func(path string, resp poller.Response) {
		paths = append(paths, path)
		spans = append(spans, resp.TimeRange.Span())
	})

	_, _, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/data"}, paths)
	assert.Equal(t, []time.Duration{3000 * time.Nanosecond}, spans)
}
