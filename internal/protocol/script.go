package protocol

import (
	"net/url"
	"path"
	"strings"
)

// ScriptRefKind tags the ways a script can be referenced.
type ScriptRefKind string

const (
	RefLocal      ScriptRefKind = "local"
	RefRemote     ScriptRefKind = "remote"
	RefInline     ScriptRefKind = "inline"
	RefCatalogued ScriptRefKind = "catalogued"
)

// ScriptReference is a tagged union identifying a script before resolution.
// Exactly the fields for its kind are set; references are immutable.
type ScriptReference struct {
	Kind        ScriptRefKind `json:"kind"`
	ID          string        `json:"id,omitempty"`
	URL         string        `json:"url,omitempty"`
	Content     string        `json:"content,omitempty"`
	Format      ScriptKind    `json:"format,omitempty"`
	ContainerID string        `json:"container_id,omitempty"`
	ItemID      string        `json:"item_id,omitempty"`
}

// ScriptKind is the declared payload format of a resolved script.
type ScriptKind string

const (
	ScriptFunscript ScriptKind = "funscript"
	ScriptCSV       ScriptKind = "csv"
	ScriptGeneric   ScriptKind = "script"
)

// ScriptPayload is a resolved script: either inline content or a
// fetchable URL, never both.
type ScriptPayload struct {
	Kind    ScriptKind `json:"kind"`
	URL     string     `json:"url,omitempty"`
	Content string     `json:"content,omitempty"`
}

// KindFromURL derives a script kind from a URL's file extension,
// defaulting to the generic kind when the extension is unknown or absent.
func KindFromURL(raw string) ScriptKind {
	u, err := url.Parse(raw)
	if err != nil {
		return ScriptGeneric
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".funscript", ".json":
		return ScriptFunscript
	case ".csv":
		return ScriptCSV
	}
	return ScriptGeneric
}
