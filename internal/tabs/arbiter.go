package tabs

import (
	"log/slog"
	"sync"
)

// Claim records which browser tab/frame currently controls playback.
// At most one claim exists at a time.
type Claim struct {
	TabID        string
	FrameID      int64
	LastKnownURL string
}

// Arbiter is a single-writer lock over playback control. Transport
// events are admitted only from the claim holder; in-tab navigation
// auto-releases stale claims.
type Arbiter struct {
	hasScript func() bool

	mu    sync.Mutex
	claim *Claim
	urls  map[string]string // tabID → last-seen URL
}

// NewArbiter creates an arbiter. hasScript reports whether a script is
// currently active; without one every event is rejected.
func NewArbiter(hasScript func() bool) *Arbiter {
	return &Arbiter{hasScript: hasScript, urls: make(map[string]string)}
}

// Admit evaluates a transport event from (tabID, frameID, url) and
// reports whether the event may act on playback. Rejections are an
// expected outcome of multi-tab browsing, never an error.
func (a *Arbiter) Admit(tabID string, frameID int64, url string) bool {
	if tabID == "" {
		return false
	}
	if !a.hasScript() {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// In-tab navigation by the claim holder releases the claim: the
	// loaded script no longer corresponds to the tab's content. The
	// triggering event itself is rejected; the next one may re-claim.
	if prev, seen := a.urls[tabID]; seen && url != "" && prev != url {
		a.urls[tabID] = url
		if a.claim != nil && a.claim.TabID == tabID {
			slog.Info("control claim released by navigation", "tab_id", tabID, "from", prev, "to", url)
			a.claim = nil
			return false
		}
		return a.admitLocked(tabID, frameID, url)
	}
	if url != "" {
		a.urls[tabID] = url
	}

	return a.admitLocked(tabID, frameID, url)
}

func (a *Arbiter) admitLocked(tabID string, frameID int64, url string) bool {
	if a.claim == nil {
		a.claim = &Claim{TabID: tabID, FrameID: frameID, LastKnownURL: url}
		slog.Info("control claim acquired", "tab_id", tabID, "frame_id", frameID)
		return true
	}
	if a.claim.TabID != tabID {
		return false
	}
	// Sub-frame taking over once identified: refine the placeholder
	// frame id, e.g. an embedded player frame inside a wrapper tab.
	if frameID != 0 && a.claim.FrameID == 0 {
		a.claim.FrameID = frameID
	}
	if url != "" {
		a.claim.LastKnownURL = url
	}
	return true
}

// SetActiveTab assigns the claim directly, bypassing admission rules.
// Used right after a successful script load: the requesting tab is
// trusted a priori as controller.
func (a *Arbiter) SetActiveTab(tabID string, frameID int64, url string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.claim = &Claim{TabID: tabID, FrameID: frameID, LastKnownURL: url}
	if url != "" {
		a.urls[tabID] = url
	}
	slog.Info("control claim assigned", "tab_id", tabID, "frame_id", frameID)
}

// NoteNavigation records an externally observed URL change. If the
// navigating tab holds the claim, the claim is released and true is
// returned so the caller can tear playback down.
func (a *Arbiter) NoteNavigation(tabID, url string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev, seen := a.urls[tabID]
	a.urls[tabID] = url
	if !seen || prev == url {
		return false
	}
	if a.claim != nil && a.claim.TabID == tabID {
		slog.Info("control claim released by navigation", "tab_id", tabID, "from", prev, "to", url)
		a.claim = nil
		return true
	}
	return false
}

// ReleaseTab handles an observed tab closure: the claim is released if
// the closed tab held it, and the tab's remembered URL is forgotten.
// Returns whether the closed tab was the claim holder.
func (a *Arbiter) ReleaseTab(tabID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.urls, tabID)
	if a.claim != nil && a.claim.TabID == tabID {
		slog.Info("control claim released by tab close", "tab_id", tabID)
		a.claim = nil
		return true
	}
	return false
}

// Release unconditionally clears the claim.
func (a *Arbiter) Release() {
	a.mu.Lock()
	a.claim = nil
	a.mu.Unlock()
}

// Claim returns a copy of the current claim, if any.
func (a *Arbiter) Claim() (Claim, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.claim == nil {
		return Claim{}, false
	}
	return *a.claim, true
}
