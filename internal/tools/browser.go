package tools

import (
	"context"
	"fmt"
	"time"
)

// BrowserDriver is the browser-automation collaborator. The registry
// executes browser_ tools against it directly rather than letting the
// remote agent shell out.
type BrowserDriver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Fill(ctx context.Context, fields map[string]string) error
	Screenshot(ctx context.Context) ([]byte, error)
	IsVisible(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	HTTPRequest(ctx context.Context, method, url, body string) (status int, respBody string, err error)
}

// ArtifactSink receives raw binary payloads that are too large or too
// opaque for the agent-visible tool result.
type ArtifactSink interface {
	SaveBinary(name string, data []byte) (path string, err error)
}

// binaryPlaceholder stands in for raw bytes in agent-visible results.
const binaryPlaceholder = "[binary data saved to artifact storage]"

func registerBrowserTools(r *Registry, driver BrowserDriver, sink ArtifactSink) {
	r.register("browser_navigate", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		url := stringArg(args, "url")
		if url == "" {
			return nil, fmt.Errorf("missing url")
		}
		if err := driver.Navigate(ctx, url); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "url": url}, nil
	})

	r.register("browser_click", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		sel := stringArg(args, "selector")
		if sel == "" {
			return nil, fmt.Errorf("missing selector")
		}
		if err := driver.Click(ctx, sel); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	})

	r.register("browser_type", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		sel := stringArg(args, "selector")
		if sel == "" {
			return nil, fmt.Errorf("missing selector")
		}
		text, _ := args["text"].(string)
		if err := driver.Type(ctx, sel, text); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	})

	r.register("browser_fill", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		raw, _ := args["fields"].(map[string]any)
		if len(raw) == 0 {
			return nil, fmt.Errorf("missing fields")
		}
		fields := make(map[string]string, len(raw))
		for k, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("field %s: value must be a string", k)
			}
			fields[k] = s
		}
		if err := driver.Fill(ctx, fields); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "filled": len(fields)}, nil
	})

	r.register("browser_screenshot", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		data, err := driver.Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		result := map[string]any{"ok": true, "image": binaryPlaceholder, "bytes": len(data)}
		if sink != nil {
			name := fmt.Sprintf("screenshot-%d.png", time.Now().UnixMilli())
			path, err := sink.SaveBinary(name, data)
			if err != nil {
				return nil, fmt.Errorf("save screenshot: %w", err)
			}
			result["path"] = path
		}
		return result, nil
	})

	r.register("browser_assert_visible", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		sel := stringArg(args, "selector")
		if sel == "" {
			return nil, fmt.Errorf("missing selector")
		}
		visible, err := driver.IsVisible(ctx, sel)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": visible, "selector": sel, "visible": visible}, nil
	})

	r.register("browser_assert_text", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		sel := stringArg(args, "selector")
		want := stringArg(args, "text")
		if sel == "" || want == "" {
			return nil, fmt.Errorf("missing selector or text")
		}
		got, err := driver.Text(ctx, sel)
		if err != nil {
			return nil, err
		}
		ok := got == want
		return map[string]any{"ok": ok, "expected": want, "actual": got}, nil
	})

	r.register("browser_wait", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		ms, ok := args["milliseconds"].(float64)
		if !ok || ms <= 0 {
			return nil, fmt.Errorf("missing milliseconds")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(ms) * time.Millisecond):
		}
		return map[string]any{"ok": true}, nil
	})

	r.register("browser_http_request", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		method := stringArg(args, "method")
		url := stringArg(args, "url")
		if method == "" || url == "" {
			return nil, fmt.Errorf("missing method or url")
		}
		body, _ := args["body"].(string)
		status, respBody, err := driver.HTTPRequest(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": status < 400, "status": status, "body": respBody}, nil
	})
}
