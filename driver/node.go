package driver

import (
	"context"
	"encoding/json"
)

// NodeType distinguishes a VFS node's kind in an external node store.
type NodeType string

const (
	NodeDir  NodeType = "dir"
	NodeFile NodeType = "file"
)

// ContentRefKind identifies the wire shape of Node.ContentRef.
type ContentRefKind string

const (
	// ContentRefSingle: one message, one attachment.
	ContentRefSingle ContentRefKind = "discord_attachment_v1"
	// ContentRefChunks: an ordered sequence of message/attachment parts.
	ContentRefChunks ContentRefKind = "discord_chunks_v1"
)

// ContentRefPart is one ordered part of a discord_chunks_v1 content ref.
type ContentRefPart struct {
	PartNumber    int    `json:"part_no"`
	Size          *int64 `json:"size,omitempty"`
	ByteStart     *int64 `json:"byte_start,omitempty"`
	ByteEnd       *int64 `json:"byte_end,omitempty"`
	ChannelID     string `json:"channel_id,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	AttachmentID  string `json:"attachment_id,omitempty"`
	URL           string `json:"url,omitempty"`
}

// ContentRef is the attachment-store node's pointer to its backing
// message(s), grounded on spec.md §3/§6's content_ref shapes.
type ContentRef struct {
	Kind          ContentRefKind   `json:"kind"`
	ChannelID     string           `json:"channel_id,omitempty"`
	MessageID     string           `json:"message_id,omitempty"`
	AttachmentID  string           `json:"attachment_id,omitempty"`
	URL           string           `json:"url,omitempty"`
	Size          int64            `json:"size,omitempty"`
	ContentType   string           `json:"content_type,omitempty"`
	Parts         []ContentRefPart `json:"parts,omitempty"`
}

// Node is one entry in the attachment store's external VFS index.
type Node struct {
	ID         string          `json:"id"`
	ParentID   string          `json:"parent_id"`
	Owner      string          `json:"owner"`
	Scope      string          `json:"scope"`
	Name       string          `json:"name"`
	NodeType   NodeType        `json:"node_type"`
	Mime       string          `json:"mime,omitempty"`
	Size       int64           `json:"size,omitempty"`
	ModTime    int64           `json:"mod_time,omitempty"` // unix nanos
	ContentRef json.RawMessage `json:"content_ref,omitempty"`
}

// DecodeContentRef unmarshals n.ContentRef into a ContentRef.
func (n Node) DecodeContentRef() (ContentRef, error) {
	var cr ContentRef
	if len(n.ContentRef) == 0 {
		return cr, nil
	}
	err := json.Unmarshal(n.ContentRef, &cr)
	return cr, err
}

// EncodeContentRef marshals cr for storage on a Node.
func EncodeContentRef(cr ContentRef) (json.RawMessage, error) {
	return json.Marshal(cr)
}

// NodeStore is the external collaborator maintaining the
// attachment driver's directory tree (spec.md §4.5/§6): the driver
// never persists the tree itself, only reads/writes through this
// interface, the same way SessionStore stands in for the upload-
// session ledger.
type NodeStore interface {
	// GetByPath resolves a logical path (scoped by owner/scope) to its
	// Node, or (Node{}, false, nil) if absent.
	GetByPath(ctx context.Context, owner, scope, path string) (Node, bool, error)
	// ListChildren returns the direct children of parentID.
	ListChildren(ctx context.Context, owner, scope, parentID string) ([]Node, error)
	// Create inserts a new node and returns its assigned ID.
	Create(ctx context.Context, n Node) (string, error)
	// Update replaces the stored node with the same ID.
	Update(ctx context.Context, n Node) error
	// Delete removes a node by ID (non-recursive; caller expands trees).
	Delete(ctx context.Context, id string) error
	// EnsureDir returns the directory Node at path, creating it (and any
	// missing ancestors) if absent, mirroring MKCOL-walk semantics.
	EnsureDir(ctx context.Context, owner, scope, path string) (Node, error)
}
