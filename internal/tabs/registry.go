package tabs

import "sync"

// TabInfo holds metadata about an observed browser tab.
type TabInfo struct {
	TabID string `json:"tab_id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Registry maps tab ids to tab metadata fed by the CDP watcher.
type Registry struct {
	mu   sync.RWMutex
	tabs map[string]*TabInfo
}

func NewRegistry() *Registry {
	return &Registry{tabs: make(map[string]*TabInfo)}
}

func (r *Registry) Upsert(tabID, url, title string) TabInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.tabs[tabID]
	if !ok {
		info = &TabInfo{TabID: tabID}
		r.tabs[tabID] = info
	}
	info.URL = url
	if title != "" {
		info.Title = title
	}
	return *info
}

func (r *Registry) Get(tabID string) (TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tabs[tabID]
	if !ok {
		return TabInfo{}, false
	}
	return *info, true
}

func (r *Registry) Remove(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, tabID)
}

func (r *Registry) List() []TabInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TabInfo, 0, len(r.tabs))
	for _, info := range r.tabs {
		out = append(out, *info)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
