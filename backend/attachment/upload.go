package attachment

import (
	"bytes"
	"context"
	"io"

	"github.com/bwmarrin/discordgo"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/hubdrive/drivercore/driver"
)

// uploadChunks splits src into ChunkSize pieces, posting each as its
// own message attachment, the way the teacher's Object.Update drives
// newChunkingReader + ChannelMessageSendComplex in a loop. Unlike the
// teacher, uploads never retry (spec.md §4.5: "the upload itself is
// never retried, because the message is already persisted"). The
// returned sniffedType is a best-effort mimetype.Detect guess from the
// first chunk's bytes (the same detection call the teacher's
// backend/compress.go makes mid-pipeline), for callers with no
// declared content type.
func (f *Fs) uploadChunks(ctx context.Context, src io.Reader, contentLength int64) (driver.ContentRef, int64, string, error) {
	var parts []driver.ContentRefPart
	var total int64
	var sniffedType string
	buf := make([]byte, ChunkSize)
	partNo := 0

	if err := f.sem.Acquire(ctx); err != nil {
		return driver.ContentRef{}, 0, "", driver.Wrap(driver.CodeAborted, err, "attachment: acquiring upload semaphore")
	}
	defer f.sem.Release()

	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if partNo == 0 {
				sniffedType = mimetype.Detect(buf[:n]).String()
			}
			channel := f.randomChannel()
			name := uuid.New().String()
			msg, err := f.bot.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
				Content: f.opt.ChunkMessage,
				Files: []*discordgo.File{{
					Name:   name,
					Reader: bytes.NewReader(buf[:n]),
				}},
			})
			if err != nil {
				return driver.ContentRef{}, 0, "", driver.Wrap(driver.CodeInvalidResponse, err, "attachment: message send failed")
			}
			if len(msg.Attachments) != 1 {
				return driver.ContentRef{}, 0, "", driver.NewError(driver.CodeInvalidResponse, "attachment: message posted without exactly one attachment")
			}
			atc := msg.Attachments[0]
			start := total
			end := total + int64(n) - 1
			parts = append(parts, driver.ContentRefPart{
				PartNumber:   partNo,
				Size:         driver.WithSize(int64(n)),
				ByteStart:    driver.WithSize(start),
				ByteEnd:      driver.WithSize(end),
				ChannelID:    channel.ID,
				MessageID:    msg.ID,
				AttachmentID: atc.ID,
				URL:          atc.URL,
			})
			total += int64(n)
			partNo++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return driver.ContentRef{}, 0, "", driver.Wrap(driver.CodeInvalidResponse, readErr, "attachment: reading upload source")
		}
	}

	if len(parts) == 0 {
		// zero-byte file: post one empty attachment so there is always
		// at least a content_ref to stat against.
		channel := f.randomChannel()
		msg, err := f.bot.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
			Content: f.opt.ChunkMessage,
			Files: []*discordgo.File{{Name: uuid.New().String(), Reader: bytes.NewReader(nil)}},
		})
		if err != nil {
			return driver.ContentRef{}, 0, "", driver.Wrap(driver.CodeInvalidResponse, err, "attachment: empty-file message send failed")
		}
		if len(msg.Attachments) != 1 {
			return driver.ContentRef{}, 0, "", driver.NewError(driver.CodeInvalidResponse, "attachment: message posted without exactly one attachment")
		}
		return driver.ContentRef{
			Kind:         driver.ContentRefSingle,
			ChannelID:    channel.ID,
			MessageID:    msg.ID,
			AttachmentID: msg.Attachments[0].ID,
			URL:          msg.Attachments[0].URL,
		}, 0, "", nil
	}

	if len(parts) == 1 {
		p := parts[0]
		return driver.ContentRef{
			Kind:         driver.ContentRefSingle,
			ChannelID:    p.ChannelID,
			MessageID:    p.MessageID,
			AttachmentID: p.AttachmentID,
			URL:          p.URL,
			Size:         total,
		}, total, sniffedType, nil
	}

	return driver.ContentRef{Kind: driver.ContentRefChunks, Parts: parts, Size: total}, total, sniffedType, nil
}
