package githost

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/hubdrive/drivercore/driver"
	"github.com/hubdrive/drivercore/internal/rest"
)

// blobMaxSize is the backend's hard limit on a single blob-creation
// call (spec.md §4.4.1: "Files ≤ the 100 MiB backend limit").
const blobMaxSize = 100 << 20

// blobReadBlockSize is the chunk size the streaming encoder reads from
// src at a time.
const blobReadBlockSize = 256 << 10

// createBlob streams src into a JSON POST body of the form
// {"content":"<base64>","encoding":"base64"} without ever buffering
// the whole base64 string in memory (spec.md §4.4.1): src is read in
// blocks, a 3-byte carry is held between blocks so every base64 quantum
// the encoder emits (other than a final padded one) is aligned, and
// the JSON prefix/suffix are written directly around the streamed
// body. An oversize input fails eagerly.
func (f *Fs) createBlob(ctx context.Context, size int64, src io.Reader) (string, error) {
	if size > blobMaxSize {
		return "", driver.NewError(driver.CodeFileTooLarge,
			fmt.Sprintf("githost: blob of %d bytes exceeds the %d byte limit", size, blobMaxSize))
	}

	pr, pw := io.Pipe()
	go func() {
		err := streamBase64JSON(pw, src)
		pw.CloseWithError(err)
	}()

	var resp blobCreateResponse
	contentLen := int64(-1)
	_, err := f.client.CallJSON(ctx, &rest.Opts{
		Method:        "POST",
		Path:          fmt.Sprintf("/api/repos/%s/git/blobs", f.opt.Repo),
		Body:          pr,
		ContentType:   "application/json",
		ContentLength: &contentLen,
	}, nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.SHA, nil
}

// streamBase64JSON writes {"content":"...","encoding":"base64"} to w,
// base64-encoding src chunk by chunk. Between blocks it carries over
// the 0-2 trailing bytes that don't divide evenly into a 3-byte base64
// quantum, so every write except the final one emits unpadded,
// decodable-in-isolation base64 — the same peak-memory-bounded
// approach as the original JS pipeline this is grounded on (spec.md
// §4.4.1: "a pipeline that reads the source in blocks, buffers a
// 3-byte carry, emits base64 for the 3-aligned prefix, and flushes the
// tail").
func streamBase64JSON(w io.Writer, src io.Reader) error {
	if _, err := io.WriteString(w, `{"content":"`); err != nil {
		return err
	}

	enc := base64.NewEncoder(base64.StdEncoding, w)
	var carry []byte
	buf := make([]byte, blobReadBlockSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			block := append(carry, buf[:n]...)
			whole := len(block) - (len(block) % 3)
			if _, werr := enc.Write(block[:whole]); werr != nil {
				return werr
			}
			carry = append([]byte(nil), block[whole:]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if len(carry) > 0 {
		if _, err := enc.Write(carry); err != nil {
			return err
		}
	}
	if err := enc.Close(); err != nil {
		return err
	}

	_, err := io.WriteString(w, `","encoding":"base64"}`)
	return err
}
