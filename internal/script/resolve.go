package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/dgnsrekt/haptic_agent/internal/protocol"
)

const minCredentialLen = 8

// Resolver turns a ScriptReference into a concrete ScriptPayload.
type Resolver struct {
	store    *Store
	client   *http.Client
	tokenURL string
}

// NewResolver creates a resolver. client may be nil to use a default.
func NewResolver(store *Store, client *http.Client, tokenURL string) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Resolver{store: store, client: client, tokenURL: tokenURL}
}

// Resolve branches on the reference kind. Resolution failures are
// returned as coded errors with descriptive messages; the hub mirrors
// them into the broadcast error field.
func (r *Resolver) Resolve(ctx context.Context, ref protocol.ScriptReference, credential string) (protocol.ScriptPayload, error) {
	switch ref.Kind {
	case protocol.RefLocal:
		meta, content, err := r.store.Get(ref.ID)
		if err != nil {
			return protocol.ScriptPayload{}, err
		}
		return protocol.ScriptPayload{Kind: meta.Kind, Content: string(content)}, nil

	case protocol.RefRemote:
		if ref.URL == "" {
			return protocol.ScriptPayload{}, protocol.NewError(protocol.CodeValidation, "remote reference has no url", nil)
		}
		return protocol.ScriptPayload{Kind: protocol.KindFromURL(ref.URL), URL: ref.URL}, nil

	case protocol.RefInline:
		if ref.Content == "" {
			return protocol.ScriptPayload{}, protocol.NewError(protocol.CodeValidation, "inline reference has no content", nil)
		}
		kind := ref.Format
		if kind == "" {
			kind = protocol.ScriptGeneric
		}
		return protocol.ScriptPayload{Kind: kind, Content: ref.Content}, nil

	case protocol.RefCatalogued:
		return r.resolveCatalogued(ctx, ref, credential)
	}
	return protocol.ScriptPayload{}, protocol.NewError(protocol.CodeValidation,
		fmt.Sprintf("unknown script reference kind %q", ref.Kind), nil)
}

// resolveCatalogued exchanges (containerId, itemId) plus the caller's
// credential for a short-lived content URL at the token endpoint.
func (r *Resolver) resolveCatalogued(ctx context.Context, ref protocol.ScriptReference, credential string) (protocol.ScriptPayload, error) {
	if len(strings.TrimSpace(credential)) < minCredentialLen {
		return protocol.ScriptPayload{}, protocol.NewError(protocol.CodeResolveFailure,
			"catalogue credential missing or too short", nil)
	}

	reqBody, err := json.Marshal(map[string]string{
		"container_id": ref.ContainerID,
		"item_id":      ref.ItemID,
		"token":        credential,
	})
	if err != nil {
		return protocol.ScriptPayload{}, protocol.NewError(protocol.CodeResolveFailure, "encode token request", err)
	}

	var exchange struct {
		URL string `json:"url"`
	}
	err = retry.New(
		retry.Attempts(3),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, bytes.NewReader(reqBody))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("token exchange status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Unrecoverable(err)
			}
			return err
		}
		return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&exchange)
	})
	if err != nil {
		return protocol.ScriptPayload{}, protocol.NewError(protocol.CodeResolveFailure, "catalogue token exchange failed", err)
	}

	if exchange.URL == "" {
		return protocol.ScriptPayload{}, protocol.NewError(protocol.CodeResolveFailure,
			"token exchange response missing url", nil)
	}
	return protocol.ScriptPayload{Kind: protocol.KindFromURL(exchange.URL), URL: exchange.URL}, nil
}

var (
	zoneIDRe     = regexp.MustCompile(`zone[_-]?id["':=\s]+["']?([A-Za-z0-9-]+)`)
	scriptPathRe = regexp.MustCompile(`["']([^"']*\.funscript[^"']*)["']`)
)

// ExtractScriptURL pulls a real script URL out of page markup that hides
// it behind a CDN-zone + relative-path pattern. Best-effort fallback
// heuristic: any parse failure returns "" rather than an error.
func ExtractScriptURL(markup string) string {
	zone := zoneIDRe.FindStringSubmatch(markup)
	if zone == nil {
		slog.Debug("script url extraction: no zone id in markup")
		return ""
	}
	path := scriptPathRe.FindStringSubmatch(markup)
	if path == nil {
		slog.Debug("script url extraction: no script path in markup")
		return ""
	}
	rel := path[1]
	if strings.HasPrefix(rel, "http://") || strings.HasPrefix(rel, "https://") {
		return rel
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return "https://" + zone[1] + ".b-cdn.net" + rel
}
