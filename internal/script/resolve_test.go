package script

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/dgnsrekt/haptic_agent/internal/protocol"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newTestResolver(t *testing.T, rt roundTripFunc) *Resolver {
	t.Helper()
	store, err := NewStore(t.TempDir(), 2*1024*1024)
	if err != nil {
		t.Fatalf("NewStore() = %v", err)
	}
	var client *http.Client
	if rt != nil {
		client = &http.Client{Transport: rt}
	}
	return NewResolver(store, client, "http://catalog.test/api/token")
}

func TestResolveLocalNotFound(t *testing.T) {
	r := newTestResolver(t, nil)

	_, err := r.Resolve(context.Background(), protocol.ScriptReference{
		Kind: protocol.RefLocal,
		ID:   "123e4567-e89b-12d3-a456-426614174000",
	}, "")
	var coded *protocol.CodedError
	if !errors.As(err, &coded) || coded.Code != protocol.CodeScriptNotFound {
		t.Fatalf("Resolve() error = %v; want %s", err, protocol.CodeScriptNotFound)
	}
}

func TestResolveLocalRoundTrip(t *testing.T) {
	r := newTestResolver(t, nil)
	meta, err := r.store.Save("demo", protocol.ScriptFunscript, []byte(`{"actions":[]}`))
	if err != nil {
		t.Fatalf("Save() = %v", err)
	}

	payload, err := r.Resolve(context.Background(), protocol.ScriptReference{
		Kind: protocol.RefLocal,
		ID:   meta.ID,
	}, "")
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if payload.Kind != protocol.ScriptFunscript || payload.Content != `{"actions":[]}` {
		t.Fatalf("payload = %+v; want stored content", payload)
	}
}

func TestResolveRemoteDerivesKindFromExtension(t *testing.T) {
	r := newTestResolver(t, nil)

	cases := []struct {
		url  string
		want protocol.ScriptKind
	}{
		{"https://example.com/a.funscript", protocol.ScriptFunscript},
		{"https://example.com/a.csv?dl=1", protocol.ScriptCSV},
		{"https://example.com/a", protocol.ScriptGeneric},
	}
	for _, tc := range cases {
		payload, err := r.Resolve(context.Background(), protocol.ScriptReference{
			Kind: protocol.RefRemote,
			URL:  tc.url,
		}, "")
		if err != nil {
			t.Fatalf("Resolve(%q) = %v", tc.url, err)
		}
		if payload.Kind != tc.want || payload.URL != tc.url {
			t.Fatalf("payload for %q = %+v; want kind %s", tc.url, payload, tc.want)
		}
	}
}

func TestResolveInline(t *testing.T) {
	r := newTestResolver(t, nil)

	payload, err := r.Resolve(context.Background(), protocol.ScriptReference{
		Kind:    protocol.RefInline,
		Content: `{"actions":[{"at":0,"pos":50}]}`,
		Format:  protocol.ScriptFunscript,
	}, "")
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if payload.Kind != protocol.ScriptFunscript || payload.URL != "" || payload.Content == "" {
		t.Fatalf("payload = %+v; want inline funscript content", payload)
	}

	_, err = r.Resolve(context.Background(), protocol.ScriptReference{Kind: protocol.RefInline}, "")
	var coded *protocol.CodedError
	if !errors.As(err, &coded) || coded.Code != protocol.CodeValidation {
		t.Fatalf("Resolve() error = %v; want %s for empty content", err, protocol.CodeValidation)
	}
}

func TestResolveCataloguedRejectsShortCredential(t *testing.T) {
	r := newTestResolver(t, nil)

	_, err := r.Resolve(context.Background(), protocol.ScriptReference{
		Kind:        protocol.RefCatalogued,
		ContainerID: "c1",
		ItemID:      "i1",
	}, "short")
	var coded *protocol.CodedError
	if !errors.As(err, &coded) || coded.Code != protocol.CodeResolveFailure {
		t.Fatalf("Resolve() error = %v; want %s", err, protocol.CodeResolveFailure)
	}
}

func TestResolveCataloguedExchange(t *testing.T) {
	var gotPath string
	r := newTestResolver(t, func(req *http.Request) (*http.Response, error) {
		gotPath = req.URL.Path
		return jsonResponse(http.StatusOK, `{"url":"https://cdn.test/v/i1.funscript?exp=60"}`), nil
	})

	payload, err := r.Resolve(context.Background(), protocol.ScriptReference{
		Kind:        protocol.RefCatalogued,
		ContainerID: "c1",
		ItemID:      "i1",
	}, "long-enough-credential")
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if gotPath != "/api/token" {
		t.Fatalf("exchange path = %q; want /api/token", gotPath)
	}
	if payload.Kind != protocol.ScriptFunscript || payload.URL == "" {
		t.Fatalf("payload = %+v; want funscript with url", payload)
	}
}

func TestResolveCataloguedRejectsMissingURLField(t *testing.T) {
	r := newTestResolver(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"status":"ok"}`), nil
	})

	_, err := r.Resolve(context.Background(), protocol.ScriptReference{
		Kind:        protocol.RefCatalogued,
		ContainerID: "c1",
		ItemID:      "i1",
	}, "long-enough-credential")
	if err == nil || !strings.Contains(err.Error(), "missing url") {
		t.Fatalf("Resolve() = %v; want missing url error", err)
	}
}

func TestResolveCataloguedRejectsNonSuccessStatus(t *testing.T) {
	r := newTestResolver(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusForbidden, `{}`), nil
	})

	_, err := r.Resolve(context.Background(), protocol.ScriptReference{
		Kind:        protocol.RefCatalogued,
		ContainerID: "c1",
		ItemID:      "i1",
	}, "long-enough-credential")
	if err == nil {
		t.Fatal("Resolve() = nil; want exchange failure")
	}
}

func TestExtractScriptURL(t *testing.T) {
	markup := `<div data-player>
		<script>var cfg = {zone_id: "vz-4f21", file: "media/clips/scene-12.funscript"};</script>
	</div>`
	got := ExtractScriptURL(markup)
	want := "https://vz-4f21.b-cdn.net/media/clips/scene-12.funscript"
	if got != want {
		t.Fatalf("ExtractScriptURL() = %q; want %q", got, want)
	}
}

func TestExtractScriptURLParseFailureReturnsEmpty(t *testing.T) {
	if got := ExtractScriptURL("<html>no script here</html>"); got != "" {
		t.Fatalf("ExtractScriptURL() = %q; want empty on parse failure", got)
	}
	if got := ExtractScriptURL(`zone_id: "vz-1" but no path`); got != "" {
		t.Fatalf("ExtractScriptURL() = %q; want empty when path missing", got)
	}
}
