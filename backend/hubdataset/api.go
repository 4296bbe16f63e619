package hubdataset

import "encoding/json"

// repoMeta is the subset of the dataset-metadata probe this driver
// reads during Initialize (spec.md §4.3: "probe dataset metadata to
// set is_private/is_gated/requires_auth").
type repoMeta struct {
	Private      bool `json:"private"`
	Gated        bool `json:"gated"`
	RequiresAuth bool `json:"requiresAuth"`
}

// refsResponse is the backend's branch/tag listing, used to populate
// the refs cache (spec.md §4.3.2).
type refsResponse struct {
	Branches []refEntry `json:"branches"`
	Tags     []refEntry `json:"tags"`
}

type refEntry struct {
	Name string `json:"name"`
}

// treeEntry is one row of a tree page (spec.md §4.3.1).
type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "file", "directory", "commit" (submodule)
	Size int64  `json:"size"`
	OID  string `json:"oid"`
}

// treePage is the deserialized body of one tree-listing call; the
// cursor itself travels out-of-band via the Link response header
// (rest.ParseLinkNext), not in the JSON body.
type treePage struct {
	Entries []treeEntry `json:"entries"`
}

// lfsInfo is the LFS pointer metadata paths-info may carry for a blob.
type lfsInfo struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

// lastCommitInfo is the paths-info endpoint's optional per-path commit
// summary.
type lastCommitInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Date  string `json:"date"`
}

// pathInfo is one result row of the paths-info batch (spec.md §4.3.3).
type pathInfo struct {
	Path       string          `json:"path"`
	Size       int64           `json:"size"`
	Type       string          `json:"type"`
	LFS        *lfsInfo        `json:"lfs,omitempty"`
	XetHash    string          `json:"xetHash,omitempty"`
	LastCommit *lastCommitInfo `json:"lastCommit,omitempty"`
}

// pathsInfoRequest is the batch query body.
type pathsInfoRequest struct {
	Paths    []string `json:"paths"`
	Expand   bool     `json:"expand"`
	Purpose  string   `json:"purpose,omitempty"`
}

// lfsBatchRequest is the request body for the LFS batch API (spec.md
// §4.3.4): "basic" for the small/single-file route, "basic,multipart"
// for the front-end multipart route.
type lfsBatchRequest struct {
	Operation string         `json:"operation"` // "upload" or "download"
	Transfers []string       `json:"transfers"`
	Objects   []lfsBatchItem `json:"objects"`
}

type lfsBatchItem struct {
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

// lfsBatchResponse is the LFS batch API's response. AlreadyUploaded is
// true when the server deduped the object server-side and no
// actions.upload is present.
type lfsBatchResponse struct {
	Objects []lfsBatchObject `json:"objects"`
}

type lfsBatchObject struct {
	OID             string              `json:"oid"`
	Size            int64               `json:"size"`
	AlreadyUploaded bool                `json:"already_uploaded"`
	Actions         lfsBatchObjectActns `json:"actions"`
}

type lfsBatchObjectActns struct {
	Upload *lfsAction `json:"upload,omitempty"`
}

// lfsAction describes one URL the caller must PUT (or, for multipart,
// a completion URL plus numbered part URLs).
type lfsAction struct {
	Href      string            `json:"href"`
	Header    map[string]string `json:"header,omitempty"`
	ExpiresIn int64             `json:"expires_in,omitempty"`
	// ChunkSize and Parts are only present for multipart uploads.
	ChunkSize int64             `json:"chunk_size,omitempty"`
	Parts     map[string]string `json:"parts,omitempty"` // "00001" -> url
}

// commitLine is one line of the NDJSON commit stream (spec.md §4.3.4,
// §4.3.5): a commit opens with a "header" line and is followed by any
// number of "lfsFile", "file", or "deletedFile" lines.
type commitLine struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type commitHeader struct {
	Summary string `json:"summary"`
}

type commitLFSFile struct {
	Path string `json:"path"`
	Algo string `json:"algo"`
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

type commitPlainFile struct {
	Path    string `json:"path"`
	Content string `json:"content"` // base64
}

type commitDeletedFile struct {
	Path string `json:"path"`
}

type commitResponse struct {
	CommitOID string `json:"commitOid"`
}

// lfsFilesPage is one page of the dangerous "list every LFS blob"
// listing scanned during delete_lfs_on_remove cleanup (spec.md
// §4.3.5).
type lfsFilesPage struct {
	Files []lfsFileEntry `json:"files"`
}

type lfsFileEntry struct {
	OID    string `json:"oid"`
	FileOID string `json:"fileOid"`
}

type lfsBatchDeleteRequest struct {
	FileOIDs       []string `json:"fileOids"`
	RewriteHistory bool     `json:"rewriteHistory"`
}
