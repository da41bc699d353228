package script

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/haptic_agent/internal/protocol"
	"github.com/google/uuid"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Meta describes a locally stored script.
type Meta struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Kind      protocol.ScriptKind `json:"kind"`
	SizeBytes int                 `json:"size_bytes"`
	CreatedAt time.Time           `json:"created_at"`
}

// Store manages locally uploaded script files on disk. Uploads above
// maxBytes are rejected before any write.
type Store struct {
	dir      string
	maxBytes int
	mu       sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string, maxBytes int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("script store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

func (s *Store) validateID(id string) error {
	if !uuidRe.MatchString(id) {
		return fmt.Errorf("invalid script id: %q", id)
	}
	return nil
}

// Save stores script content under a generated id and returns its metadata.
func (s *Store) Save(name string, kind protocol.ScriptKind, content []byte) (Meta, error) {
	if len(content) > s.maxBytes {
		return Meta{}, protocol.NewError(protocol.CodeValidation,
			fmt.Sprintf("script exceeds %d byte limit (%d bytes)", s.maxBytes, len(content)), nil)
	}
	if kind == "" {
		kind = protocol.ScriptGeneric
	}

	meta := Meta{
		ID:        uuid.NewString(),
		Name:      name,
		Kind:      kind,
		SizeBytes: len(content),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	contentPath := filepath.Join(s.dir, meta.ID+".script")
	metaPath := filepath.Join(s.dir, meta.ID+".json")

	if err := os.WriteFile(contentPath, content, 0o644); err != nil {
		return Meta{}, fmt.Errorf("script store: write content: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(contentPath)
		return Meta{}, fmt.Errorf("script store: marshal meta: %w", err)
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		_ = os.Remove(contentPath)
		return Meta{}, fmt.Errorf("script store: write meta: %w", err)
	}

	return meta, nil
}

// Get returns the metadata and content for a stored script.
func (s *Store) Get(id string) (Meta, []byte, error) {
	if err := s.validateID(id); err != nil {
		return Meta{}, nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	metaData, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, nil, protocol.NewError(protocol.CodeScriptNotFound, "script not found: "+id, nil)
		}
		return Meta{}, nil, fmt.Errorf("script store: read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return Meta{}, nil, fmt.Errorf("script store: unmarshal meta: %w", err)
	}

	content, err := os.ReadFile(filepath.Join(s.dir, id+".script"))
	if err != nil {
		return Meta{}, nil, fmt.Errorf("script store: read content: %w", err)
	}
	return meta, content, nil
}

// List returns all stored scripts, newest first.
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("script store: glob: %w", err)
	}

	metas := make([]Meta, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedAt.After(metas[j].CreatedAt) })
	return metas, nil
}

// Delete removes a stored script and its metadata.
func (s *Store) Delete(id string) error {
	if err := s.validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil {
		if os.IsNotExist(err) {
			return protocol.NewError(protocol.CodeScriptNotFound, "script not found: "+id, nil)
		}
		return fmt.Errorf("script store: remove meta: %w", err)
	}
	_ = os.Remove(filepath.Join(s.dir, id+".script"))
	return nil
}
