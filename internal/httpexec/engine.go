// Package httpexec performs one HTTP call for one job and converts
// whatever happens into a structured outcome. Nothing in here panics a
// caller or escapes as an error: the dispatch loop above only ever sees
// an Outcome.
package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"webcron/internal/challenge"
	"webcron/internal/domain"
)

type Config struct {
	// Timeout is the absolute per-attempt network timeout. 0 applies
	// the default of 30s.
	Timeout time.Duration
	// UserAgent is applied when the job supplies none.
	UserAgent string
	// Challenge configures the interstitial resolver for GET attempts.
	Challenge challenge.Config
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "webcron/1.0"
	}
	return c
}

type Engine struct {
	cfg Config
	// plain carries body-bearing verbs; GET attempts get a dedicated
	// client so each attempt owns a fresh cookie jar.
	plain *http.Client
}

func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{cfg: cfg, plain: &http.Client{Timeout: cfg.Timeout}}
}

const maxBodyRead = 1 << 20

// Execute performs one attempt and always returns a terminal outcome.
// There are no retries at this layer.
func (e *Engine) Execute(ctx context.Context, req domain.ExecutionRequest) domain.Outcome {
	started := time.Now()

	headers := withUserAgent(req.Headers, e.cfg.UserAgent)

	var (
		status int
		body   []byte
		err    error
	)
	if strings.EqualFold(req.Method, http.MethodGet) {
		status, body, err = e.executeGet(ctx, req.URL, headers)
	} else {
		status, body, err = e.executeDirect(ctx, req, headers)
	}

	o := domain.Outcome{
		JobID:     req.JobID,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	switch {
	case err != nil:
		o.ErrorKind, o.ErrorMessage = classifyError(err)
	case status >= 200 && status < 400:
		o.StatusCode = status
		o.Success = true
		o.ResponseExcerpt = domain.Excerpt(string(body))
	default:
		o.StatusCode = status
		o.ErrorKind = domain.ErrorHTTP
		o.ErrorMessage = fmt.Sprintf("HTTP %d: %s", status, shortMessage(body))
		o.ResponseExcerpt = domain.Excerpt(string(body))
	}

	ev := log.Info()
	if !o.Success {
		ev = log.Warn()
	}
	ev.Str("job_id", req.JobID).
		Str("method", req.Method).
		Int("status", o.StatusCode).
		Bool("success", o.Success).
		Dur("duration", o.Duration).
		Msg("job executed")
	return o
}

// executeGet delegates to the challenge resolver with a fresh cookie
// jar; a clean target resolves on the first hop with no extra cost.
func (e *Engine) executeGet(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return 0, nil, err
	}
	client := &http.Client{Timeout: e.cfg.Timeout, Jar: jar}
	res, err := challenge.New(client, e.cfg.Challenge).Resolve(ctx, url, headers)
	if err != nil {
		return 0, nil, err
	}
	// GaveUp is not a distinct failure class: the last hop's status
	// speaks for itself.
	return res.StatusCode, res.Body, nil
}

// executeDirect issues a body-bearing request as-is. A declared JSON
// content type means the body is parsed and reserialized; anything else
// passes through opaquely.
func (e *Engine) executeDirect(ctx context.Context, req domain.ExecutionRequest, headers map[string]string) (int, []byte, error) {
	payload := req.Body
	contentType := req.ContentType
	if ct, ok := lookupHeader(headers, "Content-Type"); ok {
		contentType = ct
	}

	if len(payload) > 0 && isJSONContentType(contentType) {
		var v any
		if err := json.Unmarshal(payload, &v); err != nil {
			return 0, nil, malformedBodyError{err}
		}
		p, err := json.Marshal(v)
		if err != nil {
			return 0, nil, malformedBodyError{err}
		}
		payload = p
	}

	var reader io.Reader
	if len(payload) > 0 {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), req.URL, reader)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := e.plain.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

type malformedBodyError struct{ err error }

func (m malformedBodyError) Error() string { return "malformed body: " + m.err.Error() }
func (m malformedBodyError) Unwrap() error { return m.err }

func classifyError(err error) (domain.ErrorKind, string) {
	var mb malformedBodyError
	if errors.As(err, &mb) {
		return domain.ErrorMalformedBody, mb.Error()
	}
	return domain.ErrorTransport, "request failed: " + err.Error()
}

func isJSONContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.TrimSpace(strings.Split(ct, ";")[0])
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func withUserAgent(headers map[string]string, ua string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	if _, ok := lookupHeader(out, "User-Agent"); !ok {
		out["User-Agent"] = ua
	}
	return out
}

func shortMessage(body []byte) string {
	s := string(body)
	r := []rune(s)
	if len(r) > 200 {
		return string(r[:200])
	}
	return s
}
