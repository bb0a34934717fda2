// Package challenge defeats anti-automation interstitial pages that
// interpose script redirects, cookies and encoded tokens before serving
// real content. A resolver is scoped to a single GET attempt and owns
// that attempt's cookie jar; nothing here is shared across attempts.
package challenge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type Config struct {
	// MaxHops bounds the redirect loop. 0 applies the default of 10.
	MaxHops int
	// HopDelay spaces consecutive hops so the client is not flagged
	// as non-human. 0 applies the default of 1s.
	HopDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxHops <= 0 {
		c.MaxHops = 10
	}
	if c.HopDelay <= 0 {
		c.HopDelay = time.Second
	}
	return c
}

// Result is the final response of a resolved (or given-up) attempt.
type Result struct {
	StatusCode int
	Body       []byte
	Hops       int
	GaveUp     bool
}

type Resolver struct {
	client     *http.Client
	cfg        Config
	strategies []Strategy
}

// New builds a resolver around the attempt's HTTP client. The client
// must carry the attempt's cookie jar: bypass tokens are set through
// client.Jar and have to ride on every subsequent hop.
func New(client *http.Client, cfg Config) *Resolver {
	return &Resolver{client: client, cfg: cfg.withDefaults(), strategies: defaultStrategies()}
}

const maxBodyRead = 1 << 20

var (
	reLocationHref = regexp.MustCompile(`location(?:\.href)?\s*=\s*"([^"]+)"`)
	reLocationRepl = regexp.MustCompile(`location\.replace\(\s*"([^"]+)"\s*\)`)
)

// interstitial markers: the aes.js script-redirect page and the
// "cookies required" notice.
func IsInterstitial(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "aes.js") ||
		strings.Contains(s, "slowAES") ||
		strings.Contains(s, "toNumbers(") ||
		isCookieNotice(s)
}

func isCookieNotice(s string) bool {
	return strings.Contains(s, "Cookies are not enabled") ||
		strings.Contains(s, "requires cookies")
}

// Resolve runs the bypass state machine starting at rawURL and returns
// the first non-interstitial response, or the last response received
// when it gives up. Only transport-level failures are errors.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, headers map[string]string) (Result, error) {
	limiter := rate.NewLimiter(rate.Every(r.cfg.HopDelay), 1)
	limiter.Allow() // burn the initial token so every Wait paces a full delay

	cur := rawURL
	sawNotice := false

	for hops := 0; ; hops++ {
		status, body, err := r.fetch(ctx, cur, headers)
		if err != nil {
			return Result{Hops: hops}, err
		}

		if !IsInterstitial(body) {
			// Resolved: real content.
			if hops > 0 {
				log.Debug().Int("hops", hops).Str("url", cur).Msg("challenge resolved")
			}
			return Result{StatusCode: status, Body: body, Hops: hops}, nil
		}

		if hops >= r.cfg.MaxHops {
			log.Warn().Int("hops", hops).Str("url", cur).Msg("challenge hop bound reached, giving up")
			return Result{StatusCode: status, Body: body, Hops: hops, GaveUp: true}, nil
		}

		page := string(body)
		name, value, found := r.attempt(page)
		if found {
			r.setCookie(cur, name, value)
		}

		if isCookieNotice(page) {
			if !found && sawNotice {
				// The notice came back and nothing is left to try.
				return Result{StatusCode: status, Body: body, Hops: hops, GaveUp: true}, nil
			}
			sawNotice = true
		}

		target := redirectTarget(page, cur)
		if target == "" {
			return Result{StatusCode: status, Body: body, Hops: hops, GaveUp: true}, nil
		}
		cur = target

		if err := limiter.Wait(ctx); err != nil {
			return Result{Hops: hops}, err
		}
	}
}

// attempt runs the strategy list in confidence order. Each strategy
// type runs at most once per hop.
func (r *Resolver) attempt(page string) (string, string, bool) {
	for _, s := range r.strategies {
		if name, value, ok := s.Attempt(page); ok {
			log.Debug().Str("strategy", s.Name()).Str("cookie", name).Msg("bypass token extracted")
			return name, value, true
		}
	}
	return "", "", false
}

func (r *Resolver) setCookie(rawURL, name, value string) {
	if r.client.Jar == nil {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	r.client.Jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

func (r *Resolver) fetch(ctx context.Context, rawURL string, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := r.client.Do(req)
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

// redirectTarget extracts the page's script-based navigation target and
// resolves it against the current URL.
func redirectTarget(page, cur string) string {
	var raw string
	if m := reLocationHref.FindStringSubmatch(page); m != nil {
		raw = m[1]
	} else if m := reLocationRepl.FindStringSubmatch(page); m != nil {
		raw = m[1]
	}
	if raw == "" {
		return ""
	}
	base, err := url.Parse(cur)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
