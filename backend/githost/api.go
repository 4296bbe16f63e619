package githost

// contentsEntry is one element of the Contents-API directory listing
// (spec.md §4.4: "directory listings use Contents-API object+json").
type contentsEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"` // "file", "dir", "submodule", "symlink"
	Size        int64  `json:"size"`
	SHA         string `json:"sha"`
	DownloadURL string `json:"download_url"`
}

// refResponse is a single ref lookup (refs/heads/{branch}).
type refResponse struct {
	Object refObject `json:"object"`
}

type refObject struct {
	SHA  string `json:"sha"`
	Type string `json:"type"`
}

// commitObject is a Git commit object.
type commitObject struct {
	SHA  string         `json:"sha"`
	Tree commitTreeLink `json:"tree"`
}

type commitTreeLink struct {
	SHA string `json:"sha"`
}

// treeResponse is the Git Database tree listing, recursive or not.
type treeResponse struct {
	SHA       string      `json:"sha"`
	Truncated bool        `json:"truncated"`
	Tree      []treeEntry `json:"tree"`
}

type treeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"` // "blob", "tree", "commit" (submodule)
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

// blobCreateResponse is returned after streaming a base64 blob body.
type blobCreateResponse struct {
	SHA string `json:"sha"`
}

// newTreeRequest creates a tree with a base and a set of entries.
type newTreeRequest struct {
	BaseTree string            `json:"base_tree,omitempty"`
	Tree     []newTreeRefEntry `json:"tree"`
}

// newTreeRefEntry is one entry of a tree-creation request: either a
// blob (SHA set) or a deletion (SHA nil, which encodes as JSON null).
type newTreeRefEntry struct {
	Path string  `json:"path"`
	Mode string  `json:"mode"`
	Type string  `json:"type"`
	SHA  *string `json:"sha"`
}

type newTreeResponse struct {
	SHA string `json:"sha"`
}

type newCommitRequest struct {
	Message   string          `json:"message"`
	Tree      string          `json:"tree"`
	Parents   []string        `json:"parents"`
	Author    *commitIdentity `json:"author,omitempty"`
	Committer *commitIdentity `json:"committer,omitempty"`
}

type commitIdentity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type newCommitResponse struct {
	SHA string `json:"sha"`
}

type patchRefRequest struct {
	SHA   string `json:"sha"`
	Force bool   `json:"force"`
}

// commitsListEntry is one row of the "commits?path=...&sha=ref&per_page=1"
// last-modified lookup (spec.md §4.4: "best-effort via a commits query").
type commitsListEntry struct {
	Commit struct {
		Committer struct {
			Date string `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

// contentsPutRequest seeds the first commit of an empty repository via
// the Contents API (spec.md §4.4.2).
type contentsPutRequest struct {
	Message string `json:"message"`
	Content string `json:"content"` // base64
	Branch  string `json:"branch,omitempty"`
}
