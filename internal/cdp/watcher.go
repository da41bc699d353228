package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/haptic_agent/internal/config"
	"github.com/dgnsrekt/haptic_agent/internal/tabs"
)

// TabSink receives tab lifecycle observations from the watcher.
// Implemented by the hub.
type TabSink interface {
	OnTabClosed(ctx context.Context, tabID string)
	OnTabNavigated(ctx context.Context, tabID, url string)
}

// Watcher observes the browser's tab lifecycle over CDP. It never
// attaches to page content; target discovery events are enough to know
// when the controlling tab navigates or closes while its session is
// quiet. The watcher is an enhancement: if the browser exposes no CDP
// endpoint the agent still works from session events alone.
type Watcher struct {
	cfg      *config.Config
	registry *tabs.Registry
	sink     TabSink

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
}

// NewWatcher creates a watcher feeding the registry and the sink.
func NewWatcher(cfg *config.Config, registry *tabs.Registry, sink TabSink) *Watcher {
	return &Watcher{cfg: cfg, registry: registry, sink: sink}
}

// Start connects to the browser and begins observing target events.
func (w *Watcher) Start(ctx context.Context) error {
	cdpURL := w.cfg.CDPURL()
	slog.Info("connecting tab watcher to browser", "url", cdpURL)

	w.allocCtx, w.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	w.browserCtx, w.browserStop = chromedp.NewContext(w.allocCtx)

	if err := chromedp.Run(w.browserCtx); err != nil {
		w.Close()
		return fmt.Errorf("cdp: connect to browser: %w", err)
	}

	chromedp.ListenBrowser(w.browserCtx, w.onEvent(ctx))

	if err := chromedp.Run(w.browserCtx, chromedp.ActionFunc(func(runCtx context.Context) error {
		return target.SetDiscoverTargets(true).Do(runCtx)
	})); err != nil {
		w.Close()
		return fmt.Errorf("cdp: enable target discovery: %w", err)
	}

	// Seed the registry with tabs already open.
	targets, err := chromedp.Targets(w.browserCtx)
	if err != nil {
		slog.Warn("initial target enumeration failed", "error", err)
		return nil
	}
	for _, t := range targets {
		if t.Type != "page" || !w.matchesFilter(t.URL) {
			continue
		}
		w.registry.Upsert(string(t.TargetID), t.URL, t.Title)
	}
	slog.Info("tab watcher started", "known_tabs", w.registry.Count())
	return nil
}

func (w *Watcher) onEvent(ctx context.Context) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *target.EventTargetCreated:
			if e.TargetInfo.Type != "page" || !w.matchesFilter(e.TargetInfo.URL) {
				return
			}
			w.registry.Upsert(string(e.TargetInfo.TargetID), e.TargetInfo.URL, e.TargetInfo.Title)

		case *target.EventTargetInfoChanged:
			if e.TargetInfo.Type != "page" {
				return
			}
			tabID := string(e.TargetInfo.TargetID)
			prev, known := w.registry.Get(tabID)
			w.registry.Upsert(tabID, e.TargetInfo.URL, e.TargetInfo.Title)
			if known && prev.URL != e.TargetInfo.URL {
				slog.Debug("tab navigation observed", "tab_id", tabID, "url", truncateURL(e.TargetInfo.URL))
				w.sink.OnTabNavigated(ctx, tabID, e.TargetInfo.URL)
			}

		case *target.EventTargetDestroyed:
			tabID := string(e.TargetID)
			if _, known := w.registry.Get(tabID); !known {
				return
			}
			slog.Debug("tab closure observed", "tab_id", tabID)
			w.registry.Remove(tabID)
			w.sink.OnTabClosed(ctx, tabID)
		}
	}
}

func (w *Watcher) matchesFilter(url string) bool {
	if w.cfg.TabURLFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(w.cfg.TabURLFilter))
}

// Close disconnects from the browser.
func (w *Watcher) Close() {
	if w.browserStop != nil {
		w.browserStop()
	}
	if w.allocCancel != nil {
		w.allocCancel()
	}
	slog.Info("tab watcher closed")
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
