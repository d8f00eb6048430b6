// Package update checks the project's GitHub releases for a version
// newer than the running binary.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const defaultEndpoint = "https://api.github.com/repos/ptcan/msdflash/releases/latest"

// Release is the subset of the GitHub release object the checker reads.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	HTMLURL     string    `json:"html_url"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Body        string    `json:"body"`
}

// Result compares the running version against the newest release.
type Result struct {
	Current  string
	Latest   string
	URL      string
	UpToDate bool
}

// Checker fetches the latest release. The zero value queries GitHub
// with a ten second timeout.
type Checker struct {
	Endpoint string
	Client   *http.Client
}

func (c *Checker) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return defaultEndpoint
}

func (c *Checker) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Latest fetches the newest published release.
func (c *Checker) Latest(ctx context.Context) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release query: %s", resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	release := new(Release)
	if err := json.Unmarshal(b, release); err != nil {
		return nil, err
	}
	return release, nil
}

// Check reports whether current is the newest released version. The
// leading v on either side is optional.
func (c *Checker) Check(ctx context.Context, current string) (*Result, error) {
	cv := canonical(current)
	if !semver.IsValid(cv) {
		return nil, fmt.Errorf("bad version %q", current)
	}
	latest, err := c.Latest(ctx)
	if err != nil {
		return nil, err
	}
	lv := canonical(latest.TagName)
	return &Result{
		Current:  cv,
		Latest:   lv,
		URL:      latest.HTMLURL,
		UpToDate: semver.Compare(lv, cv) <= 0,
	}, nil
}

func canonical(version string) string {
	if version == "" || strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}
