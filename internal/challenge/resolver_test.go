package challenge

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func fastConfig(maxHops int) Config {
	return Config{MaxHops: maxHops, HopDelay: time.Millisecond}
}

func TestResolveCleanPage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer srv.Close()

	res, err := New(testClient(t), fastConfig(10)).Resolve(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.GaveUp || res.Hops != 0 || res.StatusCode != 200 || string(res.Body) != "OK" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestResolveHopBoundTermination(t *testing.T) {
	t.Parallel()
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		// Always an interstitial, always a redirect target.
		w.Write([]byte(`<script src="/aes.js"></script><script>location.href="/again?i=1";</script>`))
	}))
	defer srv.Close()

	const bound = 4
	res, err := New(testClient(t), fastConfig(bound)).Resolve(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.GaveUp {
		t.Fatal("expected GaveUp")
	}
	if res.Hops != bound {
		t.Fatalf("hops = %d, want exactly %d", res.Hops, bound)
	}
	if n := atomic.LoadInt64(&requests); n != bound+1 {
		t.Fatalf("requests = %d, want %d", n, bound+1)
	}
}

func TestResolveLiteralCookieOneRedirect(t *testing.T) {
	t.Parallel()
	var sawCookie atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script src="/aes.js"></script><script>
document.cookie = "__test=abc123def456; path=/";
location.href = "/real?i=1";
</script>`))
	})
	mux.HandleFunc("/real", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("__test"); err == nil && c.Value == "abc123def456" {
			sawCookie.Store(true)
		}
		w.Write([]byte("welcome"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := New(testClient(t), fastConfig(10)).Resolve(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.GaveUp {
		t.Fatal("gave up unexpectedly")
	}
	if res.Hops != 1 {
		t.Fatalf("hops = %d, want 1", res.Hops)
	}
	if res.StatusCode != 200 || string(res.Body) != "welcome" {
		t.Fatalf("final response: %d %q", res.StatusCode, res.Body)
	}
	if !sawCookie.Load() {
		t.Fatal("bypass cookie was not sent on the second hop")
	}
}

func TestResolveCookieNoticeGivesUp(t *testing.T) {
	t.Parallel()
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		// Notice page with a redirect but nothing extractable.
		w.Write([]byte(`<p>Cookies are not enabled on your browser.</p><script>location.href="/retry?i=1";</script>`))
	}))
	defer srv.Close()

	res, err := New(testClient(t), fastConfig(10)).Resolve(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.GaveUp {
		t.Fatal("expected GaveUp when the notice reappears with nothing to try")
	}
	if res.Hops != 1 {
		t.Fatalf("hops = %d, want 1", res.Hops)
	}
	if n := atomic.LoadInt64(&requests); n != 2 {
		t.Fatalf("requests = %d, want 2", n)
	}
}

func TestResolveNoRedirectTargetGivesUp(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`<script src="/aes.js"></script><p>checking your browser</p>`))
	}))
	defer srv.Close()

	res, err := New(testClient(t), fastConfig(10)).Resolve(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.GaveUp || res.Hops != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// The last response is returned as-is for the caller to classify.
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", res.StatusCode)
	}
}

func TestRedirectTargetResolution(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		page string
		cur  string
		want string
	}{
		{
			name: "relative href",
			page: `location.href="/next?i=1";`,
			cur:  "http://a.test/start",
			want: "http://a.test/next?i=1",
		},
		{
			name: "absolute href",
			page: `window.location.href = "http://b.test/landing";`,
			cur:  "http://a.test/",
			want: "http://b.test/landing",
		},
		{
			name: "location.replace",
			page: `location.replace("/other");`,
			cur:  "http://a.test/x/y",
			want: "http://a.test/other",
		},
		{
			name: "no target",
			page: `<p>nothing here</p>`,
			cur:  "http://a.test/",
			want: "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := redirectTarget(tt.page, tt.cur); got != tt.want {
				t.Fatalf("redirectTarget = %q, want %q", got, tt.want)
			}
		})
	}
}
