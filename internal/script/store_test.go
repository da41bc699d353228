package script

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dgnsrekt/haptic_agent/internal/protocol"
)

func TestSaveRejectsOversizedScript(t *testing.T) {
	store, err := NewStore(t.TempDir(), 64)
	if err != nil {
		t.Fatalf("NewStore() = %v", err)
	}

	_, err = store.Save("big", protocol.ScriptFunscript, bytes.Repeat([]byte("x"), 65))
	var coded *protocol.CodedError
	if !errors.As(err, &coded) || coded.Code != protocol.CodeValidation {
		t.Fatalf("Save() error = %v; want %s before any write", err, protocol.CodeValidation)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(metas) != 0 {
		t.Fatalf("store has %d entries after rejected upload; want 0", len(metas))
	}
}

func TestSaveGetDeleteRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("NewStore() = %v", err)
	}

	meta, err := store.Save("clip", protocol.ScriptFunscript, []byte(`{"actions":[{"at":0,"pos":0}]}`))
	if err != nil {
		t.Fatalf("Save() = %v", err)
	}

	got, content, err := store.Get(meta.ID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if got.Name != "clip" || got.Kind != protocol.ScriptFunscript {
		t.Fatalf("meta = %+v; want saved values", got)
	}
	if string(content) != `{"actions":[{"at":0,"pos":0}]}` {
		t.Fatalf("content = %q; want saved content", content)
	}

	if err := store.Delete(meta.ID); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if _, _, err := store.Get(meta.ID); err == nil {
		t.Fatal("Get() after delete = nil; want not found")
	}
}

func TestGetRejectsMalformedID(t *testing.T) {
	store, err := NewStore(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("NewStore() = %v", err)
	}
	if _, _, err := store.Get("../escape"); err == nil {
		t.Fatal("Get() accepted a malformed id")
	}
}
