package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/axrun/ax/internal/ax/ipc/server"
)

func registerBrowser(reg *server.Registry, d Deps) {
	if d.Browser == nil {
		return
	}

	reg.Register("browser.launch", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		if err := d.Browser.Launch(ctx, cc.SessionID); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	reg.Register("browser.navigate", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("browser.navigate: %w", err)
		}
		if err := d.Browser.Navigate(ctx, cc.SessionID, req.URL); err != nil {
			return nil, err
		}
		d.recordExternal(cc, len(req.URL))
		return map[string]bool{"ok": true}, nil
	})

	reg.Register("browser.snapshot", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		snap, err := d.Browser.Snapshot(ctx, cc.SessionID)
		if err != nil {
			return nil, err
		}
		d.recordExternal(cc, len(snap.Text))
		return snap, nil
	})

	reg.Register("browser.click_by_ref", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			Ref string `json:"ref"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("browser.click_by_ref: %w", err)
		}
		if err := d.Browser.ClickByRef(ctx, cc.SessionID, req.Ref); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	reg.Register("browser.type_by_ref", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		var req struct {
			Ref  string `json:"ref"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("browser.type_by_ref: %w", err)
		}
		if err := d.Browser.TypeByRef(ctx, cc.SessionID, req.Ref, req.Text); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})

	reg.Register("browser.screenshot", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		png, err := d.Browser.Screenshot(ctx, cc.SessionID)
		if err != nil {
			return nil, err
		}
		return map[string]string{"png_base64": base64.StdEncoding.EncodeToString(png)}, nil
	})

	reg.Register("browser.close", func(ctx context.Context, cc server.ConnContext, args json.RawMessage) (interface{}, error) {
		if err := d.Browser.Close(ctx, cc.SessionID); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	})
}
