package webdav

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubdrive/drivercore/driver"
)

func newTestFs(t *testing.T, handler http.HandlerFunc) (*Fs, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	d, err := NewDriver(context.Background(), "test", "/", map[string]string{
		"url":           srv.URL,
		"quota_enabled": "false",
	}, driver.Collaborators{})
	require.NoError(t, err)
	f := d.(*Fs)
	require.NoError(t, f.Initialize(context.Background()))
	return f, srv.Close
}

const listingBody = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/</d:href>
    <d:propstat><d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
  <d:response>
    <d:href>/sub/</d:href>
    <d:propstat><d:prop><d:resourcetype><d:collection/></d:resourcetype><d:getlastmodified>Tue, 19 Dec 2017 22:02:36 GMT</d:getlastmodified></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
  <d:response>
    <d:href>/tiny.bin</d:href>
    <d:propstat><d:prop><d:getcontentlength>2</d:getcontentlength><d:getlastmodified>Tue, 19 Dec 2017 22:02:36 GMT</d:getlastmodified></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
  <d:response>
    <d:href>/normal.bin</d:href>
    <d:propstat><d:prop><d:getcontentlength>4096</d:getcontentlength><d:getlastmodified>Tue, 19 Dec 2017 22:02:36 GMT</d:getlastmodified></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
</d:multistatus>`

const tinyRestatBody = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/tiny.bin</d:href>
    <d:propstat><d:prop><d:getcontentlength>123456</d:getcontentlength><d:getlastmodified>Tue, 19 Dec 2017 22:02:36 GMT</d:getlastmodified></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
</d:multistatus>`

// TestListDirectoryReStatsFalsifiedSize covers spec.md §4.6's quirk:
// a listed child reporting size<=2 must be re-stat'd individually.
func TestListDirectoryReStatsFalsifiedSize(t *testing.T) {
	var propfindCalls int
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PROPFIND", r.Method)
		propfindCalls++
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		if r.Header.Get("Depth") == "1" {
			fmt.Fprint(w, listingBody)
		} else {
			fmt.Fprint(w, tinyRestatBody)
		}
	})
	defer tidy()

	page, err := f.ListDirectory(context.Background(), "/", driver.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)

	byName := map[string]driver.Stat{}
	for _, it := range page.Items {
		byName[it.Name] = it
	}
	assert.True(t, byName["sub"].IsDirectory)
	require.NotNil(t, byName["tiny.bin"].Size)
	assert.EqualValues(t, 123456, *byName["tiny.bin"].Size)
	require.NotNil(t, byName["normal.bin"].Size)
	assert.EqualValues(t, 4096, *byName["normal.bin"].Size)
	assert.GreaterOrEqual(t, propfindCalls, 2) // depth:1 listing + one re-stat
}

func TestStatNotFound(t *testing.T) {
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<?xml version="1.0"?><d:error xmlns:d="DAV:"><d:message>missing</d:message></d:error>`)
	})
	defer tidy()

	_, err := f.Stat(context.Background(), "/missing.bin")
	require.Error(t, err)
	assert.True(t, driver.Is(err, driver.CodeNotFound))
}

// TestUploadFileEnsuresParent checks that UploadFile issues MKCOL for
// the missing parent before the PUT (spec.md §4.6).
func TestUploadFileEnsuresParent(t *testing.T) {
	var methods []string
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		switch r.Method {
		case "MKCOL":
			w.WriteHeader(http.StatusCreated)
		case "PUT":
			w.WriteHeader(http.StatusCreated)
		}
	})
	defer tidy()

	_, err := f.UploadFile(context.Background(), "/a/b/file.txt", strings.NewReader("hello"), driver.UploadInfo{ContentLength: 5})
	require.NoError(t, err)
	assert.Contains(t, methods, "MKCOL")
	assert.Contains(t, methods, "PUT")
}

// TestCopyItemSkipExisting checks that a 412 Precondition Failed from
// Overwrite:F maps to OpSkipped, not an error.
func TestCopyItemSkipExisting(t *testing.T) {
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "COPY":
			assert.Equal(t, "F", r.Header.Get("Overwrite"))
			w.WriteHeader(http.StatusPreconditionFailed)
		case "MKCOL":
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	defer tidy()

	result, err := f.CopyItem(context.Background(), "/src.bin", "/dst.bin", true)
	require.NoError(t, err)
	assert.Equal(t, driver.OpSkipped, result.Status)
}

func TestGenerateDirectLinkUnavailable(t *testing.T) {
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {})
	defer tidy()

	_, err := f.GenerateDirectLink(context.Background(), "/a.bin", false)
	require.Error(t, err)
	assert.True(t, driver.Is(err, driver.CodeDirectLinkUnavail))
}

func TestGenerateProxyLink(t *testing.T) {
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {})
	defer tidy()

	link, err := f.GenerateProxyLink(context.Background(), "/a.bin")
	require.NoError(t, err)
	assert.Equal(t, driver.LinkProxy, link.Type)
	assert.Equal(t, "proxy://test/a.bin", link.URL)
}

func TestDownloadFileRangeFallbackPolicyIsFull(t *testing.T) {
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "HEAD" {
			w.Header().Set("Content-Length", "10")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "0123456789")
	})
	defer tidy()

	desc, err := f.DownloadFile(context.Background(), "/a.bin")
	require.NoError(t, err)
	assert.Equal(t, driver.FullFetch, desc.RangeFallbackPolicy)
	require.NotNil(t, desc.Size)
	assert.EqualValues(t, 10, *desc.Size)
}

func TestBatchRemoveItemsDedupsAndToleratesAbsent(t *testing.T) {
	var deletes int
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "DELETE" {
			deletes++
			if strings.Contains(r.URL.Path, "gone") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}
	})
	defer tidy()

	result, err := f.BatchRemoveItems(context.Background(), []string{"/a.bin", "/a.bin", "/gone.bin"}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/a.bin", "/gone.bin"}, result.Success)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 2, deletes) // dedup collapsed the repeated /a.bin
}

// TestCommandQuotaParsesAvailability covers the RFC 4331 quota probe,
// including an unbounded server that omits quota-available-bytes.
func TestCommandQuotaParsesAvailability(t *testing.T) {
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "PROPFIND", r.Method)
		require.Equal(t, "0", r.Header.Get("Depth"))
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
  <d:response><d:propstat><d:prop><d:quota-used-bytes>512</d:quota-used-bytes></d:prop></d:propstat></d:response>
</d:multistatus>`)
	})
	defer tidy()

	out, err := f.Command(context.Background(), "quota", nil, nil)
	require.NoError(t, err)
	q, ok := out.(*Quota)
	require.True(t, ok)
	assert.EqualValues(t, 512, q.UsedBytes)
	assert.EqualValues(t, -1, q.AvailableBytes) // absent => unbounded/unknown
}

func TestCommandUnknown(t *testing.T) {
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {})
	defer tidy()

	_, err := f.Command(context.Background(), "bogus", nil, nil)
	require.Error(t, err)
	assert.True(t, driver.Is(err, driver.CodeInvalidConfig))
}
