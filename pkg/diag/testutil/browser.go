// Package testutil drives a headless Chrome through the echo endpoint's
// browser check, so end-to-end tests can compare the browser's view of a
// path with the Go probes'.
package testutil

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrCheckFailed is returned by WaitConnected when the page reports an
// error instead of a connection.
var ErrCheckFailed = errors.New("browser connectivity check failed")

// BrowserConfig configures Chrome launch options.
type BrowserConfig struct {
	Headless bool          // Run in headless mode (default: true)
	Timeout  time.Duration // Default operation timeout (default: 30s)
}

// DefaultBrowserConfig returns sensible defaults for E2E testing.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless: true,
		Timeout:  30 * time.Second,
	}
}

// BrowserClient is a Chrome instance with a fake microphone that runs the
// echo page's connectivity check.
type BrowserClient struct {
	browser *rod.Browser
	page    *rod.Page
	timeout time.Duration
}

// NewBrowserClient launches Chrome with fake media devices, auto-granted
// permissions and autoplay enabled.
func NewBrowserClient(cfg BrowserConfig) (*BrowserClient, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("use-fake-device-for-media-stream").
		Set("use-fake-ui-for-media-stream").
		Set("autoplay-policy", "no-user-gesture-required")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch Chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to Chrome: %w", err)
	}

	return &BrowserClient{
		browser: browser,
		timeout: cfg.Timeout,
	}, nil
}

// CheckURL returns the echo page URL for the server at addr that starts
// the check on load with the given token and edge.
func CheckURL(addr, token, edge string) string {
	q := url.Values{}
	q.Set("autostart", "1")
	if token != "" {
		q.Set("token", token)
	}
	if edge != "" {
		q.Set("edge", edge)
	}
	return (&url.URL{Scheme: "http", Host: addr, Path: "/", RawQuery: q.Encode()}).String()
}

// Navigate opens a URL with timeout.
func (c *BrowserClient) Navigate(u string) (*rod.Page, error) {
	page, err := c.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	c.page = page

	if err := page.Timeout(c.timeout).Navigate(u); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", u, err)
	}
	return page, nil
}

// Page returns the current page, or nil if none open.
func (c *BrowserClient) Page() *rod.Page {
	return c.page
}

// Status returns the page's current check state and detail text.
func (c *BrowserClient) Status() (state, detail string, err error) {
	if c.page == nil {
		return "", "", errors.New("no page open, call Navigate first")
	}
	res, err := c.page.Eval(`() => [
		document.getElementById('status').dataset.state,
		document.getElementById('details').textContent,
	]`)
	if err != nil {
		return "", "", fmt.Errorf("eval failed: %w", err)
	}
	arr := res.Value.Arr()
	if len(arr) != 2 {
		return "", "", fmt.Errorf("unexpected status %v", res.Value)
	}
	return arr[0].Str(), arr[1].Str(), nil
}

// WaitConnected polls the page until its check reports connected, reports
// an error, or the timeout passes.
func (c *BrowserClient) WaitConnected() error {
	deadline := time.Now().Add(c.timeout)
	for {
		state, detail, err := c.Status()
		if err != nil {
			return err
		}
		switch state {
		case "connected":
			return nil
		case "error":
			return fmt.Errorf("%w: %s", ErrCheckFailed, detail)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out in state %q", state)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// HangUp ends the page's call.
func (c *BrowserClient) HangUp() error {
	if c.page == nil {
		return errors.New("no page open")
	}
	_, err := c.page.Eval(`() => stopCall()`)
	return err
}

// Close cleans up browser resources.
// Always call this (via defer) to prevent orphaned Chrome processes.
func (c *BrowserClient) Close() error {
	if c.browser != nil {
		return c.browser.Close()
	}
	return nil
}
