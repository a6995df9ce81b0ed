package texts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGreetingFetches(t *testing.T) {
	srv := newServer(t, http.StatusOK, "Welcome aboard!\n")
	f := NewFetcher(srv.Client(), srv.URL, "", "")

	if got := f.Greeting(context.Background()); got != "Welcome aboard!" {
		t.Fatalf("Greeting = %q", got)
	}
}

func TestGreetingFallsBack(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		url    bool
	}{
		{name: "no url", url: false},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", url: true},
		{name: "empty body", status: http.StatusOK, body: "  \n", url: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var f *Fetcher
			if tc.url {
				srv := newServer(t, tc.status, tc.body)
				f = NewFetcher(srv.Client(), srv.URL, "", "")
			} else {
				f = NewFetcher(nil, "", "", "")
			}
			if got := f.Greeting(context.Background()); got != FallbackGreeting {
				t.Fatalf("Greeting = %q, want fallback", got)
			}
		})
	}
}

func TestNotificationErrorsSkipCycle(t *testing.T) {
	srv := newServer(t, http.StatusNotFound, "")
	f := NewFetcher(srv.Client(), "", srv.URL, "")

	if _, err := f.Notification(context.Background()); err == nil {
		t.Fatal("want error on failed fetch")
	}

	f = NewFetcher(nil, "", "", "")
	if _, err := f.Notification(context.Background()); err == nil {
		t.Fatal("want error when url unset")
	}
}

func TestNotificationReturnsBody(t *testing.T) {
	srv := newServer(t, http.StatusOK, "New message waiting.\n")
	f := NewFetcher(srv.Client(), "", srv.URL, "")

	got, err := f.Notification(context.Background())
	if err != nil {
		t.Fatalf("Notification: %v", err)
	}
	if got != "New message waiting." {
		t.Fatalf("Notification = %q", got)
	}
}

func TestIsFraud(t *testing.T) {
	srv := newServer(t, http.StatusOK, "111\n 222 \n333\n")
	f := NewFetcher(srv.Client(), "", "", srv.URL)
	ctx := context.Background()

	if !f.IsFraud(ctx, 222) {
		t.Fatal("listed chat not flagged")
	}
	if f.IsFraud(ctx, 444) {
		t.Fatal("unlisted chat flagged")
	}

	// No list configured means nobody is flagged.
	f = NewFetcher(nil, "", "", "")
	if f.IsFraud(ctx, 222) {
		t.Fatal("flagged without a configured list")
	}
}
