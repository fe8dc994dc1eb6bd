package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HTTPDriver is the headless BrowserDriver used in CLI runs. It backs
// http_request with a real client; page-interaction calls report that
// no browser is attached so the agent falls back to other checks.
type HTTPDriver struct {
	Client *http.Client
}

var errNoBrowser = fmt.Errorf("no browser attached to this run")

func (d *HTTPDriver) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (d *HTTPDriver) Navigate(ctx context.Context, url string) error { return errNoBrowser }

func (d *HTTPDriver) Click(ctx context.Context, selector string) error { return errNoBrowser }

func (d *HTTPDriver) Type(ctx context.Context, sel, text string) error { return errNoBrowser }

func (d *HTTPDriver) Fill(ctx context.Context, f map[string]string) error { return errNoBrowser }

func (d *HTTPDriver) Screenshot(ctx context.Context) ([]byte, error) { return nil, errNoBrowser }

func (d *HTTPDriver) IsVisible(ctx context.Context, selector string) (bool, error) {
	return false, errNoBrowser
}

func (d *HTTPDriver) Text(ctx context.Context, selector string) (string, error) {
	return "", errNoBrowser
}

func (d *HTTPDriver) HTTPRequest(ctx context.Context, method, url, body string) (int, string, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, "", err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(data), nil
}

// DirSink saves binary payloads as files under one directory.
type DirSink struct {
	Dir string
}

func (s DirSink) SaveBinary(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.Dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
