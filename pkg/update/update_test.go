package update_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ptcan/msdflash/pkg/update"
)

func releaseServer(t *testing.T, release update.Release) *update.Checker {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if err := json.NewEncoder(w).Encode(release); err != nil {
			t.Error(err)
		}
	}))
	t.Cleanup(srv.Close)
	return &update.Checker{Endpoint: srv.URL}
}

func TestCheck(t *testing.T) {
	c := releaseServer(t, update.Release{
		TagName: "v1.2.0",
		HTMLURL: "https://example.com/releases/v1.2.0",
	})

	tests := []struct {
		current  string
		upToDate bool
	}{
		{"v1.0.0", false},
		{"1.0.0", false},
		{"v1.2.0", true},
		{"v1.3.0", true},
		{"v1.2.1-dev", true},
	}
	for _, tt := range tests {
		res, err := c.Check(context.Background(), tt.current)
		if err != nil {
			t.Fatalf("%s: %v", tt.current, err)
		}
		if res.UpToDate != tt.upToDate {
			t.Errorf("%s: upToDate = %v, want %v", tt.current, res.UpToDate, tt.upToDate)
		}
		if res.Latest != "v1.2.0" {
			t.Errorf("%s: latest = %q", tt.current, res.Latest)
		}
	}

	res, err := c.Check(context.Background(), "v1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if res.URL != "https://example.com/releases/v1.2.0" {
		t.Errorf("url = %q", res.URL)
	}
}

func TestCheckRejectsBadVersion(t *testing.T) {
	c := releaseServer(t, update.Release{TagName: "v1.0.0"})
	if _, err := c.Check(context.Background(), "snapshot"); err == nil {
		t.Fatal("expected error for non-semver version")
	}
}

func TestCheckServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer srv.Close()
	c := &update.Checker{Endpoint: srv.URL}
	if _, err := c.Check(context.Background(), "v1.0.0"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestLatest(t *testing.T) {
	c := releaseServer(t, update.Release{TagName: "v2.1.0", Name: "msdflash 2.1.0"})
	rel, err := c.Latest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rel.TagName != "v2.1.0" || rel.Name != "msdflash 2.1.0" {
		t.Errorf("release = %+v", rel)
	}
}
