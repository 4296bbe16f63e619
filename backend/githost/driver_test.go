package githost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubdrive/drivercore/driver"
)

func newTestFs(t *testing.T, opts map[string]string, handler http.HandlerFunc) (*Fs, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	raw := map[string]string{
		"endpoint":          srv.URL,
		"repo":              "org/repo",
		"revision":          "main",
		"write_throttle_ms": "1",
	}
	for k, v := range opts {
		raw[k] = v
	}
	d, err := NewDriver(context.Background(), "test", "/", raw, driver.Collaborators{})
	require.NoError(t, err)
	f := d.(*Fs)
	require.NoError(t, f.Initialize(context.Background()))
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func decodeBody(t *testing.T, r *http.Request, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(r.Body).Decode(v))
}

func TestCapabilitiesGrantWriterForWritableBranch(t *testing.T) {
	f, _ := newTestFs(t, map[string]string{"token": "tok123"}, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	caps := f.Capabilities()
	assert.True(t, driver.RequireCapability(caps, driver.Writer) == nil)
	assert.True(t, driver.RequireCapability(caps, driver.Atomic) == nil)
	assert.True(t, driver.RequireCapability(caps, driver.Reader) == nil)
}

func TestCapabilitiesStayReaderOnlyOnCommitRevision(t *testing.T) {
	f, _ := newTestFs(t, map[string]string{
		"token":    "tok123",
		"revision": strings.Repeat("a", 40),
	}, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	caps := f.Capabilities()
	assert.Error(t, driver.RequireCapability(caps, driver.Writer))
	assert.True(t, driver.RequireCapability(caps, driver.Reader) == nil)
}

func TestCapabilitiesStayReaderOnlyWithoutToken(t *testing.T) {
	f, _ := newTestFs(t, nil, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	caps := f.Capabilities()
	assert.Error(t, driver.RequireCapability(caps, driver.Writer))
}

func TestListDirectorySmallUsesContentsAPI(t *testing.T) {
	f, _ := newTestFs(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/repos/org/repo/contents", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		writeJSON(t, w, 200, []contentsEntry{
			{Name: "a.txt", Path: "a.txt", Type: "file", Size: 12, SHA: "sha1"},
			{Name: "sub", Path: "sub", Type: "dir"},
			{Name: ".gitkeep", Path: ".gitkeep", Type: "file"},
			{Name: "vendor", Path: "vendor", Type: "submodule"},
		})
	})
	page, err := f.ListDirectory(context.Background(), "/", driver.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	names := map[string]driver.Stat{}
	for _, it := range page.Items {
		names[it.Name] = it
	}
	assert.Contains(t, names, "a.txt")
	assert.Contains(t, names, "sub")
	assert.Contains(t, names, "vendor")
	assert.NotContains(t, names, ".gitkeep")
	assert.True(t, names["sub"].IsDirectory)
	assert.Equal(t, submoduleMimetype, names["vendor"].Mimetype)
	require.NotNil(t, names["a.txt"].Size)
	assert.Equal(t, int64(12), *names["a.txt"].Size)
}

func TestListDirectoryFallsBackToTreeAboveThreshold(t *testing.T) {
	calls := 0
	f, _ := newTestFs(t, nil, func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch {
		case strings.HasSuffix(r.URL.Path, "/contents"):
			entries := make([]contentsEntry, largeListThreshold)
			for i := range entries {
				entries[i] = contentsEntry{Name: fmt.Sprintf("f%d", i), Path: fmt.Sprintf("f%d", i), Type: "file"}
			}
			writeJSON(t, w, 200, entries)
		case strings.Contains(r.URL.Path, "/git/refs/heads/main"):
			writeJSON(t, w, 200, refResponse{Object: refObject{SHA: "commitsha"}})
		case strings.Contains(r.URL.Path, "/git/commits/commitsha"):
			writeJSON(t, w, 200, commitObject{SHA: "commitsha", Tree: commitTreeLink{SHA: "treesha"}})
		case strings.Contains(r.URL.Path, "/git/trees/treesha"):
			writeJSON(t, w, 200, treeResponse{SHA: "treesha", Tree: []treeEntry{
				{Path: "big.bin", Type: "blob", SHA: "bsha", Size: 99},
				{Path: "nested", Type: "tree", SHA: "nestedsha"},
			}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	page, err := f.ListDirectory(context.Background(), "/", driver.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
}

func TestListViaTreeReportsTruncated(t *testing.T) {
	f, _ := newTestFs(t, nil, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contents"):
			entries := make([]contentsEntry, largeListThreshold)
			writeJSON(t, w, 200, entries)
		case strings.Contains(r.URL.Path, "/git/refs/heads/main"):
			writeJSON(t, w, 200, refResponse{Object: refObject{SHA: "c"}})
		case strings.Contains(r.URL.Path, "/git/commits/c"):
			writeJSON(t, w, 200, commitObject{SHA: "c", Tree: commitTreeLink{SHA: "t"}})
		case strings.Contains(r.URL.Path, "/git/trees/t"):
			writeJSON(t, w, 200, treeResponse{SHA: "t", Truncated: true})
		}
	})
	_, err := f.ListDirectory(context.Background(), "/", driver.ListOptions{})
	require.Error(t, err)
	de, ok := driver.AsError(err)
	require.True(t, ok)
	assert.Equal(t, driver.CodeTreeTruncated, de.Code)
}

func TestStatReadsBestEffortLastModified(t *testing.T) {
	f, _ := newTestFs(t, nil, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contents/a.txt"):
			writeJSON(t, w, 200, contentsEntry{Name: "a.txt", Path: "a.txt", Type: "file", Size: 5, SHA: "sha1"})
		case strings.HasSuffix(r.URL.Path, "/commits"):
			writeJSON(t, w, 200, []commitsListEntry{{Commit: struct {
				Committer struct {
					Date string `json:"date"`
				} `json:"committer"`
			}{Committer: struct {
				Date string `json:"date"`
			}{Date: "2025-01-02T03:04:05Z"}}}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	st, err := f.Stat(context.Background(), "/a.txt")
	require.NoError(t, err)
	require.NotNil(t, st.Modified)
	assert.Equal(t, 2025, st.Modified.Year())
}

func TestStatSubmoduleSkipsLastModifiedLookup(t *testing.T) {
	var commitsCalled bool
	f, _ := newTestFs(t, nil, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contents/vendor"):
			writeJSON(t, w, 200, contentsEntry{Name: "vendor", Path: "vendor", Type: "submodule", SHA: "subsha"})
		case strings.HasSuffix(r.URL.Path, "/commits"):
			commitsCalled = true
			writeJSON(t, w, 200, []commitsListEntry{})
		}
	})
	st, err := f.Stat(context.Background(), "/vendor")
	require.NoError(t, err)
	assert.Equal(t, submoduleMimetype, st.Mimetype)
	assert.False(t, commitsCalled)
}

func TestDownloadFileRejectsSubmodule(t *testing.T) {
	f, _ := newTestFs(t, nil, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, 200, contentsEntry{Name: "vendor", Path: "vendor", Type: "submodule", SHA: "s"})
	})
	_, err := f.DownloadFile(context.Background(), "/vendor")
	require.Error(t, err)
	de, _ := driver.AsError(err)
	assert.Equal(t, driver.CodeSubmoduleUnsup, de.Code)
}

func TestDownloadFilePublicPrefersCDNAndFallsBackOn404(t *testing.T) {
	var cdnHits, contentsHits int
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cdnHits++
		http.NotFound(w, r)
	}))
	defer cdn.Close()

	f, api := newTestFs(t, map[string]string{"cdn_base": cdn.URL}, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contents/a.txt") && r.URL.Query().Get("raw") == "":
			writeJSON(t, w, 200, contentsEntry{Name: "a.txt", Path: "a.txt", Type: "file", Size: 5, SHA: "sha1"})
		case strings.HasSuffix(r.URL.Path, "/commits"):
			writeJSON(t, w, 200, []commitsListEntry{})
		case strings.Contains(r.URL.RawQuery, "raw=1"):
			contentsHits++
			w.Write([]byte("hello"))
		default:
			t.Fatalf("unexpected path %s?%s", r.URL.Path, r.URL.RawQuery)
		}
	})
	_ = api
	desc, err := f.DownloadFile(context.Background(), "/a.txt")
	require.NoError(t, err)
	resp, err := desc.OpenFull(context.Background())
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, 1, cdnHits)
	assert.Equal(t, 1, contentsHits)
}

func TestDownloadFilePrivateAlwaysUsesContentsAPI(t *testing.T) {
	var cdnHits int
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cdnHits++
	}))
	defer cdn.Close()

	f, _ := newTestFs(t, map[string]string{"cdn_base": cdn.URL, "private": "true", "token": "tok"}, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contents/a.txt") && r.URL.Query().Get("raw") == "":
			writeJSON(t, w, 200, contentsEntry{Name: "a.txt", Path: "a.txt", Type: "file", Size: 5, SHA: "sha1"})
		case strings.HasSuffix(r.URL.Path, "/commits"):
			writeJSON(t, w, 200, []commitsListEntry{})
		case strings.Contains(r.URL.RawQuery, "raw=1"):
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Write([]byte("secret"))
		default:
			t.Fatalf("unexpected path %s?%s", r.URL.Path, r.URL.RawQuery)
		}
	})
	desc, err := f.DownloadFile(context.Background(), "/a.txt")
	require.NoError(t, err)
	resp, err := desc.OpenFull(context.Background())
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "secret", string(body))
	assert.Equal(t, 0, cdnHits)
}

func TestDownloadFileRangePassthrough(t *testing.T) {
	f, _ := newTestFs(t, map[string]string{"private": "true"}, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contents/a.txt") && r.URL.Query().Get("raw") == "":
			writeJSON(t, w, 200, contentsEntry{Name: "a.txt", Path: "a.txt", Type: "file", Size: 5, SHA: "sha1"})
		case strings.HasSuffix(r.URL.Path, "/commits"):
			writeJSON(t, w, 200, []commitsListEntry{})
		case strings.Contains(r.URL.RawQuery, "raw=1"):
			assert.Equal(t, "bytes=2-4", r.Header.Get("Range"))
			w.Write([]byte("llo"))
		}
	})
	desc, err := f.DownloadFile(context.Background(), "/a.txt")
	require.NoError(t, err)
	resp, err := desc.OpenRange(context.Background(), driver.ByteRange{Start: 2, End: 4})
	require.NoError(t, err)
	defer resp.Body.Close()
}

func TestGenerateDirectLinkRefusedForPrivate(t *testing.T) {
	f, _ := newTestFs(t, map[string]string{"private": "true"}, func(w http.ResponseWriter, r *http.Request) {})
	_, err := f.GenerateDirectLink(context.Background(), "/a.txt", false)
	require.Error(t, err)
	de, _ := driver.AsError(err)
	assert.Equal(t, driver.CodeDirectLinkUnavail, de.Code)
}

func TestGenerateDirectLinkPublicUsesCDN(t *testing.T) {
	f, _ := newTestFs(t, map[string]string{"cdn_base": "https://cdn.example.com"}, func(w http.ResponseWriter, r *http.Request) {})
	link, err := f.GenerateDirectLink(context.Background(), "/a.txt", false)
	require.NoError(t, err)
	assert.Equal(t, driver.LinkNativeDirect, link.Type)
	assert.Equal(t, "https://cdn.example.com/org/repo/main/a.txt", link.URL)
}

func TestGenerateDirectLinkRewritesThroughProxyBase(t *testing.T) {
	f, _ := newTestFs(t, map[string]string{
		"cdn_base":   "https://cdn.example.com",
		"proxy_base": "https://proxy.example.com/fetch",
	}, func(w http.ResponseWriter, r *http.Request) {})
	link, err := f.GenerateDirectLink(context.Background(), "/a.txt", false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link.URL, "https://proxy.example.com/fetch?url="))
	assert.Contains(t, link.URL, "cdn.example.com%2Forg%2Frepo%2Fmain%2Fa.txt")
}

func TestGenerateProxyLinkReturnsProxyLink(t *testing.T) {
	f, _ := newTestFs(t, nil, func(w http.ResponseWriter, r *http.Request) {})
	link, err := f.GenerateProxyLink(context.Background(), "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, driver.LinkProxy, link.Type)
}

func TestWriteOperationsRefuseWithoutWriterCapability(t *testing.T) {
	f, _ := newTestFs(t, nil, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no HTTP call expected, got %s", r.URL.Path)
	})
	_, err := f.UploadFile(context.Background(), "/a.txt", strings.NewReader("x"), driver.UploadInfo{})
	require.Error(t, err)
	_, err = f.RenameItem(context.Background(), "/a.txt", "/b.txt")
	require.Error(t, err)
	_, err = f.CreateDirectory(context.Background(), "/sub")
	require.Error(t, err)
}

func TestUploadFileCommitsStandardSequence(t *testing.T) {
	var gotTreeReq newTreeRequest
	var gotCommitReq newCommitRequest
	var gotPatchReq patchRefRequest
	f, _ := newTestFs(t, map[string]string{"token": "tok"}, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/git/refs/heads/main") && r.Method == "GET":
			writeJSON(t, w, 200, refResponse{Object: refObject{SHA: "c1"}})
		case strings.Contains(r.URL.Path, "/git/commits/c1") && r.Method == "GET":
			writeJSON(t, w, 200, commitObject{SHA: "c1", Tree: commitTreeLink{SHA: "t1"}})
		case strings.HasSuffix(r.URL.Path, "/git/blobs") && r.Method == "POST":
			var body map[string]string
			decodeBody(t, r, &body)
			raw, err := base64.StdEncoding.DecodeString(body["content"])
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(raw))
			assert.Equal(t, "base64", body["encoding"])
			writeJSON(t, w, 201, blobCreateResponse{SHA: "blobsha"})
		case strings.HasSuffix(r.URL.Path, "/git/trees") && r.Method == "POST":
			decodeBody(t, r, &gotTreeReq)
			writeJSON(t, w, 201, newTreeResponse{SHA: "treesha2"})
		case strings.HasSuffix(r.URL.Path, "/git/commits") && r.Method == "POST":
			decodeBody(t, r, &gotCommitReq)
			writeJSON(t, w, 201, newCommitResponse{SHA: "commitsha2"})
		case strings.Contains(r.URL.Path, "/git/refs/heads/main") && r.Method == "PATCH":
			decodeBody(t, r, &gotPatchReq)
			w.WriteHeader(204)
		default:
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	res, err := f.UploadFile(context.Background(), "/a.txt", strings.NewReader("hello world"), driver.UploadInfo{ContentLength: 11})
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", res.StoragePath)
	require.Len(t, gotTreeReq.Tree, 1)
	assert.Equal(t, "a.txt", gotTreeReq.Tree[0].Path)
	require.NotNil(t, gotTreeReq.Tree[0].SHA)
	assert.Equal(t, "blobsha", *gotTreeReq.Tree[0].SHA)
	assert.Equal(t, "t1", gotTreeReq.BaseTree)
	assert.Equal(t, []string{"c1"}, gotCommitReq.Parents)
	assert.Equal(t, "commitsha2", gotPatchReq.SHA)
	assert.False(t, gotPatchReq.Force)
}

func TestUploadFileRejectsOversizeBlob(t *testing.T) {
	f, _ := newTestFs(t, map[string]string{"token": "tok"}, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no HTTP call expected for an eagerly rejected upload")
	})
	_, err := f.UploadFile(context.Background(), "/huge.bin", strings.NewReader("x"), driver.UploadInfo{ContentLength: blobMaxSize + 1})
	require.Error(t, err)
	de, _ := driver.AsError(err)
	assert.Equal(t, driver.CodeFileTooLarge, de.Code)
}

func TestUploadFileBootstrapsEmptyRepository(t *testing.T) {
	var putBody contentsPutRequest
	f, _ := newTestFs(t, map[string]string{"token": "tok"}, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/git/refs/heads/main") && r.Method == "GET":
			http.NotFound(w, r)
		case strings.HasSuffix(r.URL.Path, "/contents/a.txt") && r.Method == "PUT":
			decodeBody(t, r, &putBody)
			w.WriteHeader(201)
		default:
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	res, err := f.UploadFile(context.Background(), "/a.txt", strings.NewReader("seed"), driver.UploadInfo{ContentLength: 4})
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", res.StoragePath)
	raw, err := base64.StdEncoding.DecodeString(putBody.Content)
	require.NoError(t, err)
	assert.Equal(t, "seed", string(raw))
	assert.Equal(t, "main", putBody.Branch)
}

func TestBatchRemoveItemsReportsFailureOnCommitError(t *testing.T) {
	f, _ := newTestFs(t, map[string]string{"token": "tok"}, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/git/refs/heads/main") && r.Method == "GET":
			writeJSON(t, w, 200, refResponse{Object: refObject{SHA: "c1"}})
		case strings.Contains(r.URL.Path, "/git/commits/c1") && r.Method == "GET":
			writeJSON(t, w, 200, commitObject{SHA: "c1", Tree: commitTreeLink{SHA: "t1"}})
		case strings.Contains(r.URL.Path, "/git/trees/t1") && r.URL.Query().Get("recursive") == "1":
			writeJSON(t, w, 200, treeResponse{SHA: "t1", Tree: []treeEntry{
				{Path: "a.txt", Type: "blob", SHA: "sha-a"},
				{Path: "b.txt", Type: "blob", SHA: "sha-b"},
			}})
		case strings.HasSuffix(r.URL.Path, "/git/trees") && r.Method == "POST":
			writeJSON(t, w, 500, map[string]string{"message": "server error"})
		default:
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	result, err := f.BatchRemoveItems(context.Background(), []string{"/a.txt", "/b.txt"}, []string{"a.txt", "b.txt"})
	require.NoError(t, err)
	assert.Empty(t, result.Success)
	assert.Len(t, result.Failed, 2)
}

func TestBatchRemoveItemsRejectsSubmoduleTarget(t *testing.T) {
	f, _ := newTestFs(t, map[string]string{"token": "tok"}, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/git/refs/heads/main") && r.Method == "GET":
			writeJSON(t, w, 200, refResponse{Object: refObject{SHA: "c1"}})
		case strings.Contains(r.URL.Path, "/git/commits/c1") && r.Method == "GET":
			writeJSON(t, w, 200, commitObject{SHA: "c1", Tree: commitTreeLink{SHA: "t1"}})
		case strings.Contains(r.URL.Path, "/git/trees/t1") && r.URL.Query().Get("recursive") == "1":
			writeJSON(t, w, 200, treeResponse{SHA: "t1", Tree: []treeEntry{
				{Path: "vendor", Type: "commit", SHA: "subsha"},
			}})
		default:
			t.Fatalf("unexpected %s %s: submodule check should have aborted before any commit call", r.Method, r.URL.Path)
		}
	})
	_, err := f.BatchRemoveItems(context.Background(), []string{"/vendor"}, []string{"vendor"})
	require.Error(t, err)
	de, _ := driver.AsError(err)
	assert.Equal(t, driver.CodeSubmoduleUnsup, de.Code)
}

func TestRenameItemReusesBlobSHAs(t *testing.T) {
	var treeReq newTreeRequest
	f, _ := newTestFs(t, map[string]string{"token": "tok"}, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contents/dst"):
			http.NotFound(w, r)
		case strings.Contains(r.URL.Path, "/git/refs/heads/main") && r.Method == "GET":
			writeJSON(t, w, 200, refResponse{Object: refObject{SHA: "c1"}})
		case strings.Contains(r.URL.Path, "/git/commits/c1") && r.Method == "GET":
			writeJSON(t, w, 200, commitObject{SHA: "c1", Tree: commitTreeLink{SHA: "t1"}})
		case strings.Contains(r.URL.Path, "/git/trees/t1") && r.URL.Query().Get("recursive") == "1":
			writeJSON(t, w, 200, treeResponse{SHA: "t1", Tree: []treeEntry{
				{Path: "src/a.txt", Type: "blob", SHA: "sha-a"},
				{Path: "src/b.txt", Type: "blob", SHA: "sha-b"},
				{Path: "other.txt", Type: "blob", SHA: "sha-o"},
			}})
		case strings.HasSuffix(r.URL.Path, "/git/trees") && r.Method == "POST":
			decodeBody(t, r, &treeReq)
			writeJSON(t, w, 201, newTreeResponse{SHA: "t2"})
		case strings.HasSuffix(r.URL.Path, "/git/commits") && r.Method == "POST":
			writeJSON(t, w, 201, newCommitResponse{SHA: "c2"})
		case strings.Contains(r.URL.Path, "/git/refs/heads/main") && r.Method == "PATCH":
			w.WriteHeader(204)
		default:
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	res, err := f.RenameItem(context.Background(), "/src", "/dst")
	require.NoError(t, err)
	assert.Equal(t, driver.OpSuccess, res.Status)
	shas := map[string]string{}
	for _, e := range treeReq.Tree {
		if e.SHA != nil {
			shas[e.Path] = *e.SHA
		}
	}
	assert.Equal(t, "sha-a", shas["dst/a.txt"])
	assert.Equal(t, "sha-b", shas["dst/b.txt"])
}

func TestRenameItemRejectsSubmoduleInSubtree(t *testing.T) {
	f, _ := newTestFs(t, map[string]string{"token": "tok"}, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contents/dst"):
			http.NotFound(w, r)
		case strings.Contains(r.URL.Path, "/git/refs/heads/main") && r.Method == "GET":
			writeJSON(t, w, 200, refResponse{Object: refObject{SHA: "c1"}})
		case strings.Contains(r.URL.Path, "/git/commits/c1") && r.Method == "GET":
			writeJSON(t, w, 200, commitObject{SHA: "c1", Tree: commitTreeLink{SHA: "t1"}})
		case strings.Contains(r.URL.Path, "/git/trees/t1") && r.URL.Query().Get("recursive") == "1":
			writeJSON(t, w, 200, treeResponse{SHA: "t1", Tree: []treeEntry{
				{Path: "src/vendor", Type: "commit", SHA: "subsha"},
			}})
		default:
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	_, err := f.RenameItem(context.Background(), "/src", "/dst")
	require.Error(t, err)
	de, _ := driver.AsError(err)
	assert.Equal(t, driver.CodeSubmoduleUnsup, de.Code)
}

func TestCopyItemSkipsExistingDestination(t *testing.T) {
	f, _ := newTestFs(t, map[string]string{"token": "tok"}, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contents/dst"):
			writeJSON(t, w, 200, contentsEntry{Name: "dst", Path: "dst", Type: "file"})
		default:
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	res, err := f.CopyItem(context.Background(), "/src", "/dst", true)
	require.NoError(t, err)
	assert.Equal(t, driver.OpSkipped, res.Status)
}

func TestCreateDirectorySkipsWhenGitkeepAlreadyExists(t *testing.T) {
	f, _ := newTestFs(t, map[string]string{"token": "tok"}, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contents/sub/.gitkeep"):
			writeJSON(t, w, 200, contentsEntry{Name: ".gitkeep", Path: "sub/.gitkeep", Type: "file"})
		default:
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	res, err := f.CreateDirectory(context.Background(), "/sub")
	require.NoError(t, err)
	assert.True(t, res.AlreadyExisted)
}

func TestDoGetRetriesOnRetryAfterHeader(t *testing.T) {
	attempts := 0
	f, _ := newTestFs(t, map[string]string{"max_retries": "2"}, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(t, w, 200, contentsEntry{Name: "a.txt", Path: "a.txt", Type: "file", Size: 1})
	})
	var out contentsEntry
	_, err := f.doGet(context.Background(), "/api/repos/org/repo/contents/a.txt", &out)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, "a.txt", out.Name)
}

func TestCommandRefreshPurgesCaches(t *testing.T) {
	f, _ := newTestFs(t, nil, func(w http.ResponseWriter, r *http.Request) {})
	_, err := f.Command(context.Background(), "refresh", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, f.modifiedCache.Len())
	assert.Equal(t, 0, f.treeShaCache.Len())
}

func TestCommandUnknownReturnsInvalidConfig(t *testing.T) {
	f, _ := newTestFs(t, nil, func(w http.ResponseWriter, r *http.Request) {})
	_, err := f.Command(context.Background(), "bogus", nil, nil)
	require.Error(t, err)
	de, _ := driver.AsError(err)
	assert.Equal(t, driver.CodeInvalidConfig, de.Code)
}

func TestStreamBase64JSONRoundTripsOddLengths(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 4, 5, 1000, 1001} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i % 251)
		}
		var buf strings.Builder
		require.NoError(t, streamBase64JSON(&buf, strings.NewReader(string(data))))
		var decoded struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
		}
		require.NoError(t, json.Unmarshal([]byte(buf.String()), &decoded))
		assert.Equal(t, "base64", decoded.Encoding)
		raw, err := base64.StdEncoding.DecodeString(decoded.Content)
		require.NoError(t, err)
		assert.Equal(t, data, raw)
	}
}
