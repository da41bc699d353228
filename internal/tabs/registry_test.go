package tabs

import "testing"

func TestRegistryUpsertAndGet(t *testing.T) {
	r := NewRegistry()

	r.Upsert("t1", "https://vids.example/a", "A")
	info, ok := r.Get("t1")
	if !ok || info.URL != "https://vids.example/a" || info.Title != "A" {
		t.Fatalf("Get() = (%+v, %v); want stored tab", info, ok)
	}

	// URL updates keep the last non-empty title.
	r.Upsert("t1", "https://vids.example/b", "")
	info, _ = r.Get("t1")
	if info.URL != "https://vids.example/b" || info.Title != "A" {
		t.Fatalf("after update Get() = %+v; want new url, old title", info)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Upsert("t1", "https://vids.example/a", "")
	r.Remove("t1")

	if _, ok := r.Get("t1"); ok {
		t.Fatal("Get() found removed tab")
	}
	if r.Count() != 0 {
		t.Fatalf("Count() = %d; want 0", r.Count())
	}
}

func TestRegistryListCopies(t *testing.T) {
	r := NewRegistry()
	r.Upsert("t1", "https://vids.example/a", "")
	r.Upsert("t2", "https://vids.example/b", "")

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d tabs; want 2", len(list))
	}
	list[0].URL = "mutated"
	for _, info := range r.List() {
		if info.URL == "mutated" {
			t.Fatal("List() exposes internal state")
		}
	}
}
