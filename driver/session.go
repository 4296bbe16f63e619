package driver

import (
	"context"
	"encoding/json"
	"time"
)

// Strategy identifies which of the three multipart-upload protocols an
// upload session follows (spec.md §3, §4.3.4, §4.5, §4.4).
type Strategy string

const (
	StrategyPerPartURL    Strategy = "per_part_url"
	StrategySingleSession Strategy = "single_session"
	StrategyProviderCommit Strategy = "provider_commit"
)

// Mode records whether a part/object transfer is expected, whether it
// should be skipped because the server already deduped it, or whether
// it has already happened.
type Mode string

const (
	ModeBasic          Mode = "basic"
	ModeMultipart      Mode = "multipart"
	ModeAlreadyUploaded Mode = "already_uploaded"
)

// Status is the upload session's lifecycle state.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusAborted    Status = "aborted"
	StatusCompleted  Status = "completed"
)

// Session is the persistent record of one multipart upload (spec.md
// §3). ProviderMeta is opaque JSON the driver owns; the orchestrator
// and the session store must never interpret it (spec.md §9).
type Session struct {
	ID           string
	Strategy     Strategy
	PartSize     int64
	TotalParts   int
	Mode         Mode
	Status       Status
	ExpiresAt    *time.Time
	ProviderMeta json.RawMessage
}

// SessionStore is the external collaborator spec.md §6 requires: a
// key/value record with update semantics. This module never persists
// sessions itself; every driver that supports Multipart is handed a
// SessionStore at construction time.
type SessionStore interface {
	Create(ctx context.Context, rec Session) (string, error)
	Get(ctx context.Context, id string) (Session, error)
	Update(ctx context.Context, id string, partial func(Session) Session) error
	ListActive(ctx context.Context, filter map[string]string) ([]Session, error)
}

// DecodeMeta unmarshals a session's ProviderMeta into dst.
func (s Session) DecodeMeta(dst any) error {
	if len(s.ProviderMeta) == 0 {
		return nil
	}
	return json.Unmarshal(s.ProviderMeta, dst)
}

// EncodeMeta marshals v and returns it ready to assign to ProviderMeta.
func EncodeMeta(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
