package attachment

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/logging"
)

// sessionMeta is this driver's ProviderMeta shape for the single_session
// strategy (spec.md §4.5, §3): the client splits the file and submits
// each chunk to the driver, which re-posts it as its own message and
// appends a part record.
type sessionMeta struct {
	Path  string                    `json:"path"`
	Parts []driver.ContentRefPart   `json:"parts"`
}

// InitializeFrontendMultipartUpload opens a session the client will
// drive chunk-by-chunk via ProxyFrontendMultipartChunk.
func (f *Fs) InitializeFrontendMultipartUpload(ctx context.Context, path string, size int64, contentType string) (driver.Session, error) {
	if err := driver.RequireCapability(f.caps, driver.Writer, driver.Multipart); err != nil {
		return driver.Session{}, err
	}
	if f.sessions == nil {
		return driver.Session{}, driver.NewError(driver.CodeInvalidConfig, "attachment: no session store configured")
	}
	totalParts := int((size + ChunkSize - 1) / ChunkSize)
	if totalParts < 1 {
		totalParts = 1
	}
	meta, err := driver.EncodeMeta(sessionMeta{Path: path})
	if err != nil {
		return driver.Session{}, driver.Wrap(driver.CodeInternal, err, "attachment: encoding session meta")
	}
	rec := driver.Session{
		Strategy:     driver.StrategySingleSession,
		PartSize:     ChunkSize,
		TotalParts:   totalParts,
		Mode:         driver.ModeMultipart,
		Status:       driver.StatusInitiated,
		ProviderMeta: meta,
	}
	id, err := f.sessions.Create(ctx, rec)
	if err != nil {
		return driver.Session{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: creating session")
	}
	rec.ID = id
	return rec, nil
}

// SignMultipartParts is a no-op for this driver: there are no
// presigned URLs to hand back, since every chunk is proxied through
// ProxyFrontendMultipartChunk instead.
func (f *Fs) SignMultipartParts(ctx context.Context, sessionID string, partNumbers []int) (driver.Session, error) {
	return f.sessions.Get(ctx, sessionID)
}

// ListMultipartParts reports the parts already proxied so far.
func (f *Fs) ListMultipartParts(ctx context.Context, sessionID string) ([]driver.PartInfo, error) {
	rec, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: session lookup failed")
	}
	var meta sessionMeta
	if err := rec.DecodeMeta(&meta); err != nil {
		return nil, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: decoding session meta")
	}
	out := make([]driver.PartInfo, 0, len(meta.Parts))
	for _, p := range meta.Parts {
		var size int64
		if p.Size != nil {
			size = *p.Size
		}
		out = append(out, driver.PartInfo{PartNumber: p.PartNumber, ETag: p.AttachmentID, Size: size, URL: p.URL})
	}
	return out, nil
}

// ListMultipartUploads lists active sessions this driver owns matching
// filter, delegating straight to the session store.
func (f *Fs) ListMultipartUploads(ctx context.Context, filter map[string]string) ([]driver.Session, error) {
	return f.sessions.ListActive(ctx, filter)
}

// ProxyFrontendMultipartChunk re-posts one client-submitted chunk as
// its own message and appends its part record to the session's
// provider_meta (spec.md §4.5).
func (f *Fs) ProxyFrontendMultipartChunk(ctx context.Context, sessionID string, partNumber int, body io.Reader, size int64) (driver.PartInfo, error) {
	if err := f.sem.Acquire(ctx); err != nil {
		return driver.PartInfo{}, driver.Wrap(driver.CodeAborted, err, "attachment: acquiring upload semaphore")
	}
	defer f.sem.Release()

	buf, err := io.ReadAll(body)
	if err != nil {
		return driver.PartInfo{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: reading chunk body")
	}
	channel := f.randomChannel()
	msg, err := f.bot.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
		Content: f.opt.ChunkMessage,
		Files: []*discordgo.File{{Name: uuid.New().String(), Reader: bytes.NewReader(buf)}},
	})
	if err != nil {
		return driver.PartInfo{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: chunk message send failed")
	}
	if len(msg.Attachments) != 1 {
		return driver.PartInfo{}, driver.NewError(driver.CodeInvalidResponse, "attachment: message posted without exactly one attachment")
	}
	atc := msg.Attachments[0]

	rec, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return driver.PartInfo{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: session lookup failed")
	}
	var meta sessionMeta
	if err := rec.DecodeMeta(&meta); err != nil {
		return driver.PartInfo{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: decoding session meta")
	}
	var byteStart int64
	for _, p := range meta.Parts {
		if p.ByteEnd != nil {
			byteStart += *p.ByteEnd - valueOr(p.ByteStart, 0) + 1
		}
	}
	part := driver.ContentRefPart{
		PartNumber:   partNumber,
		Size:         driver.WithSize(int64(len(buf))),
		ByteStart:    driver.WithSize(byteStart),
		ByteEnd:      driver.WithSize(byteStart + int64(len(buf)) - 1),
		ChannelID:    channel.ID,
		MessageID:    msg.ID,
		AttachmentID: atc.ID,
		URL:          atc.URL,
	}
	meta.Parts = append(meta.Parts, part)
	newMeta, err := driver.EncodeMeta(meta)
	if err != nil {
		return driver.PartInfo{}, driver.Wrap(driver.CodeInternal, err, "attachment: encoding session meta")
	}
	err = f.sessions.Update(ctx, sessionID, func(s driver.Session) driver.Session {
		s.ProviderMeta = newMeta
		s.Status = driver.StatusInProgress
		return s
	})
	if err != nil {
		// one-shot ledger update failures are tolerated: log and proceed,
		// the part itself is already durably posted (spec.md §5's
		// "Upload-session ledger... tolerates one-shot update failures").
		logging.Errorf(f, "session ledger update failed for part %d: %v", partNumber, err)
	}
	return driver.PartInfo{PartNumber: partNumber, ETag: atc.ID, Size: int64(len(buf)), URL: atc.URL}, nil
}

func valueOr(p *int64, def int64) int64 {
	if p == nil {
		return def
	}
	return *p
}

// CompleteFrontendMultipartUpload promotes the accumulated parts to a
// discord_chunks_v1 node under the session's target path.
func (f *Fs) CompleteFrontendMultipartUpload(ctx context.Context, sessionID string, parts []driver.PartCompletion) (driver.UploadResult, error) {
	rec, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		return driver.UploadResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: session lookup failed")
	}
	var meta sessionMeta
	if err := rec.DecodeMeta(&meta); err != nil {
		return driver.UploadResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: decoding session meta")
	}
	if len(parts) != len(meta.Parts) {
		return driver.UploadResult{}, driver.NewError(driver.CodePartsMismatch, "attachment: completion part count mismatch").
			WithDetails("expected", len(meta.Parts), "got", len(parts))
	}

	var total int64
	for _, p := range meta.Parts {
		if p.Size != nil {
			total += *p.Size
		}
	}
	cr := driver.ContentRef{Kind: driver.ContentRefChunks, Parts: meta.Parts, Size: total}
	if len(meta.Parts) == 1 {
		p := meta.Parts[0]
		cr = driver.ContentRef{Kind: driver.ContentRefSingle, ChannelID: p.ChannelID, MessageID: p.MessageID, AttachmentID: p.AttachmentID, URL: p.URL, Size: total}
	}
	raw, err := driver.EncodeContentRef(cr)
	if err != nil {
		return driver.UploadResult{}, driver.Wrap(driver.CodeInternal, err, "attachment: encoding content_ref")
	}

	full, err := f.fullPath(meta.Path)
	if err != nil {
		return driver.UploadResult{}, err
	}
	parentDir, err := f.nodes.EnsureDir(ctx, f.owner(), f.scope(), driver.Parent(full))
	if err != nil {
		return driver.UploadResult{}, driver.Wrap(driver.CodeInvalidResponse, err, "attachment: ensuring parent directory")
	}
	node := driver.Node{
		ParentID:   parentDir.ID,
		Owner:      f.owner(),
		Scope:      f.scope(),
		Name:       driver.Name(full),
		NodeType:   driver.NodeFile,
		Size:       total,
		ModTime:    time.Now().UnixNano(),
		ContentRef: raw,
	}
	if err := f.writeIndexWithRetry(ctx, full, node); err != nil {
		return driver.UploadResult{}, err
	}
	if err := f.sessions.Update(ctx, sessionID, func(s driver.Session) driver.Session {
		s.Status = driver.StatusCompleted
		return s
	}); err != nil {
		logging.Errorf(f, "session ledger completion update failed: %v", err)
	}
	return driver.UploadResult{StoragePath: meta.Path}, nil
}

// AbortFrontendMultipartUpload marks the session aborted. Cleanup of
// already-uploaded messages is not required for correctness (spec.md
// §4.5): they simply become unreferenced attachments.
func (f *Fs) AbortFrontendMultipartUpload(ctx context.Context, sessionID string) error {
	return f.sessions.Update(ctx, sessionID, func(s driver.Session) driver.Session {
		s.Status = driver.StatusAborted
		return s
	})
}
