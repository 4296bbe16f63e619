package httpmirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
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
		"url": srv.URL,
	}, driver.Collaborators{})
	require.NoError(t, err)
	f := d.(*Fs)
	require.NoError(t, f.Initialize(context.Background()))
	return f, srv.Close
}

const anchorListingHTML = `<html><body>
<a href="../">Parent Directory</a>
<a href="sub/">sub/</a>
<a href="file.txt">file.txt</a>
<a href="https://evil.example.com/hack.txt">hack.txt</a>
<a href="/other-root/nope.txt">nope.txt</a>
</body></html>`

func TestListDirectoryHTMLAnchorsFiltersExternalOrigin(t *testing.T) {
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "HEAD":
			w.Header().Set("Content-Length", "5")
			w.WriteHeader(http.StatusOK)
		case "GET":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, anchorListingHTML)
		}
	})
	defer tidy()

	page, err := f.ListDirectory(context.Background(), "/", driver.ListOptions{})
	require.NoError(t, err)

	names := map[string]driver.Stat{}
	for _, it := range page.Items {
		names[it.Name] = it
	}
	assert.Len(t, page.Items, 2) // "sub" and "file.txt" only
	assert.True(t, names["sub"].IsDirectory)
	assert.False(t, names["file.txt"].IsDirectory)
	_, hasHack := names["hack.txt"]
	_, hasNope := names["nope.txt"]
	assert.False(t, hasHack, "cross-origin anchor must not yield an entry")
	assert.False(t, hasNope, "anchor escaping the current directory must not yield an entry")
}

func TestStatClassifiesHTMLDirectoryIndexViaSniff(t *testing.T) {
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "HEAD":
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusOK)
		case "GET":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, anchorListingHTML)
		}
	})
	defer tidy()

	st, err := f.Stat(context.Background(), "/sub")
	require.NoError(t, err)
	assert.True(t, st.IsDirectory)
}

func TestStatPlainFileStaysAFile(t *testing.T) {
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "HEAD", r.Method)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", "42")
		w.WriteHeader(http.StatusOK)
	})
	defer tidy()

	st, err := f.Stat(context.Background(), "/a.bin")
	require.NoError(t, err)
	assert.False(t, st.IsDirectory)
	require.NotNil(t, st.Size)
	assert.EqualValues(t, 42, *st.Size)
}

func TestStatNotFound(t *testing.T) {
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer tidy()

	_, err := f.Stat(context.Background(), "/missing")
	require.Error(t, err)
	assert.True(t, driver.Is(err, driver.CodeNotFound))
}

func TestDownloadFilePrefersHonor206(t *testing.T) {
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
	assert.Equal(t, driver.Honor206, desc.RangeFallbackPolicy)
	assert.True(t, desc.SupportsRange)
}

func TestGenerateDirectLinkIsNativeDirect(t *testing.T) {
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {})
	defer tidy()

	link, err := f.GenerateDirectLink(context.Background(), "/a.bin", false)
	require.NoError(t, err)
	assert.Equal(t, driver.LinkNativeDirect, link.Type)
	assert.True(t, strings.HasSuffix(link.URL, "/a.bin"))
}

func TestWriteOperationsRefuseBeforeAnyNetworkCall(t *testing.T) {
	calls := 0
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	defer tidy()
	calls = 0 // reset past Initialize's own traffic, if any

	_, err := f.UploadFile(context.Background(), "/x", strings.NewReader("x"), driver.UploadInfo{})
	require.Error(t, err)
	assert.True(t, driver.Is(err, driver.CodeCapabilityMissing))

	_, err = f.CreateDirectory(context.Background(), "/x")
	require.Error(t, err)
	assert.True(t, driver.Is(err, driver.CodeCapabilityMissing))

	_, err = f.RenameItem(context.Background(), "/x", "/y")
	require.Error(t, err)
	assert.True(t, driver.Is(err, driver.CodeCapabilityMissing))

	_, err = f.BatchRemoveItems(context.Background(), []string{"/x"}, nil)
	require.Error(t, err)
	assert.True(t, driver.Is(err, driver.CodeCapabilityMissing))

	assert.Zero(t, calls, "a capability-refused write must not touch the network")
}

func TestCommandRefreshBypassesCache(t *testing.T) {
	var gets int
	f, tidy := newTestFs(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "HEAD":
			w.Header().Set("Content-Length", "5")
			w.WriteHeader(http.StatusOK)
		case "GET":
			gets++
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<a href="file.txt">file.txt</a>`)
		}
	})
	defer tidy()

	_, err := f.ListDirectory(context.Background(), "/", driver.ListOptions{})
	require.NoError(t, err)
	_, err = f.ListDirectory(context.Background(), "/", driver.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, gets, "second listing within the TTL must hit the cache")

	_, err = f.Command(context.Background(), "refresh", nil, nil)
	require.NoError(t, err)

	_, err = f.ListDirectory(context.Background(), "/", driver.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, gets, "refresh must force the next listing past the cache")
}

// --- parser unit tests (no server needed) ---

func TestParseListingAutodetectsJSONAutoindex(t *testing.T) {
	base, _ := url.Parse("https://mirror.example.com/pub/")
	body := []byte(`[{"name":"readme.txt","type":"file","size":123,"mtime":"Tue, 21 Jan 2020 10:00:00 GMT"},
		{"name":"sub","type":"directory"}]`)
	entries, err := parseListing(base, "application/json", body, Options{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byName := map[string]mirrorEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.EqualValues(t, 123, byName["readme.txt"].Size)
	assert.True(t, byName["sub"].IsDir)
}

func TestParseListingAutodetectsXMLAutoindex(t *testing.T) {
	base, _ := url.Parse("https://mirror.example.com/pub/")
	body := []byte(`<?xml version="1.0" encoding="utf-8"?>
<list><directory mtime="2020-01-21T10:00:00Z">sub</directory><file mtime="2020-01-21T10:00:00Z" size="456">data.bin</file></list>`)
	entries, err := parseListing(base, "application/xml", body, Options{})
	require.NoError(t, err)
	byName := map[string]mirrorEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.True(t, byName["sub"].IsDir)
	assert.EqualValues(t, 456, byName["data.bin"].Size)
}

const tunaTableHTML = `<table>
<tr><th>Name</th><th>Last modified</th><th>Size</th></tr>
<tr><td><a href="../">Parent Directory</a></td><td></td><td>-</td></tr>
<tr><td><a href="bullseye/">bullseye/</a></td><td>2023-04-01 10:00</td><td>-</td></tr>
<tr><td><a href="ISO-8859-1.gz">ISO-8859-1.gz</a></td><td>2023-04-01 10:05</td><td>3.2M</td></tr>
</table>`

func TestParseTableListingExtractsHumanSizeAndMtime(t *testing.T) {
	base, _ := url.Parse("https://mirrors.tuna.tsinghua.edu.cn/debian/")
	entries, err := parseTableListing(base, []byte(tunaTableHTML))
	require.NoError(t, err)
	byName := map[string]mirrorEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	require.Contains(t, byName, "bullseye")
	assert.True(t, byName["bullseye"].IsDir)
	require.Contains(t, byName, "ISO-8859-1.gz")
	iso := byName["ISO-8859-1.gz"]
	assert.False(t, iso.IsDir)
	assert.EqualValues(t, 3200000, iso.Size) // humanize.ParseBytes("3.2M")
	assert.False(t, iso.Modified.IsZero())
}

func TestDedupeEntriesCollapsesByKindAndName(t *testing.T) {
	in := []mirrorEntry{
		{Name: "a", IsDir: false},
		{Name: "a", IsDir: false},
		{Name: "a", IsDir: true},
	}
	out := dedupeEntries(in)
	assert.Len(t, out, 2)
}

func TestNextAliyunPageOnlyOnFirstPage(t *testing.T) {
	base, _ := url.Parse("https://mirrors.aliyun.com/centos/")
	next, ok := nextAliyunPage(base)
	require.True(t, ok)
	assert.Contains(t, next, "p=2")

	second, _ := url.Parse(next)
	_, ok = nextAliyunPage(second)
	assert.False(t, ok, "must not paginate past page 2")
}

var _ = io.EOF // keep io imported for future streaming assertions
