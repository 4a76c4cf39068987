package logging

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"
)

// maxLoggedTransportBody caps logged outbound bodies; artifact downloads are
// megabytes of PNG.
const maxLoggedTransportBody = 2048

// Transport wraps an http.RoundTripper and logs every exchange with a
// backend at debug level, with credential headers masked. Backend names the
// peer in the log lines ("text-engine", "comfyui").
type Transport struct {
	Transport http.RoundTripper
	Logger    *slog.Logger
	Backend   string
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.Logger.Enabled(req.Context(), slog.LevelDebug) {
		return t.transport().RoundTrip(req)
	}

	start := time.Now()

	var reqBody []byte
	if req.Body != nil {
		var err error
		reqBody, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	reqHeaders := make(map[string]string)
	for k, v := range req.Header {
		if len(v) > 0 {
			reqHeaders[k] = MaskHeader(k, v[0])
		}
	}

	t.Logger.Debug("backend request",
		"backend", t.Backend,
		"method", req.Method,
		"url", req.URL.String(),
		"headers", reqHeaders,
		"body", trimBody(reqBody),
	)

	resp, err := t.transport().RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.Logger.Debug("backend request failed",
			"backend", t.Backend,
			"method", req.Method,
			"url", req.URL.String(),
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	t.Logger.Debug("backend response",
		"backend", t.Backend,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"body", trimBody(respBody),
	)

	return resp, nil
}

func (t *Transport) transport() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

func trimBody(body []byte) string {
	if !utf8.Valid(body) {
		return FormatBinaryData(body)
	}
	if len(body) > maxLoggedTransportBody {
		return string(body[:maxLoggedTransportBody]) + "...[truncated]"
	}
	return string(body)
}
