package httpmirror

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/html"
)

// mirrorEntry is one parsed directory-listing row, in whichever of the
// formats spec.md §4.7 names (HTML anchors, tuna/aliyun tables, JSON or
// XML autoindex) the listing page turned out to be.
type mirrorEntry struct {
	Name     string
	IsDir    bool
	Size     int64 // -1 means unknown
	Modified time.Time
}

// parseListing auto-detects the page's format and extracts its
// entries, applying the preset-specific strategy for HTML bodies
// (spec.md §4.7: "auto-detect JSON/XML/HTML").
func parseListing(base *url.URL, contentType string, body []byte, opt Options) ([]mirrorEntry, error) {
	trimmed := bytes.TrimSpace(body)
	switch {
	case strings.Contains(contentType, "json") || looksLikeJSON(trimmed):
		return parseJSONListing(trimmed)
	case strings.Contains(contentType, "xml") || looksLikeXML(trimmed):
		return parseXMLListing(trimmed)
	default:
		return parseHTMLListing(base, body, opt)
	}
}

func looksLikeJSON(b []byte) bool {
	return len(b) > 0 && (b[0] == '[' || b[0] == '{')
}

func looksLikeXML(b []byte) bool {
	return bytes.HasPrefix(b, []byte("<?xml")) || bytes.HasPrefix(b, []byte("<list"))
}

// --- JSON / XML autoindex formats (nginx's ngx_http_autoindex_module
// json/xml output styles; some mirror portals expose these instead of
// an HTML page) ---

type autoindexJSONEntry struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Mtime string `json:"mtime"`
	Size  int64  `json:"size"`
}

func parseJSONListing(body []byte) ([]mirrorEntry, error) {
	var raw []autoindexJSONEntry
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("httpmirror: decoding JSON listing: %w", err)
	}
	out := make([]mirrorEntry, 0, len(raw))
	for _, r := range raw {
		if r.Name == "" {
			continue
		}
		e := mirrorEntry{Name: r.Name, IsDir: r.Type == "directory", Size: -1}
		if r.Type != "directory" {
			e.Size = r.Size
		}
		if t, err := http.ParseTime(r.Mtime); err == nil {
			e.Modified = t
		}
		out = append(out, e)
	}
	return out, nil
}

type autoindexXMLEntry struct {
	Mtime string `xml:"mtime,attr"`
	Size  int64  `xml:"size,attr"`
	Name  string `xml:",chardata"`
}

type autoindexXMLList struct {
	XMLName xml.Name            `xml:"list"`
	Dirs    []autoindexXMLEntry `xml:"directory"`
	Files   []autoindexXMLEntry `xml:"file"`
}

func parseXMLListing(body []byte) ([]mirrorEntry, error) {
	var list autoindexXMLList
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("httpmirror: decoding XML listing: %w", err)
	}
	out := make([]mirrorEntry, 0, len(list.Dirs)+len(list.Files))
	for _, d := range list.Dirs {
		e := mirrorEntry{Name: strings.TrimSpace(d.Name), IsDir: true, Size: -1}
		if t, err := time.Parse(time.RFC3339, d.Mtime); err == nil {
			e.Modified = t
		}
		out = append(out, e)
	}
	for _, fEnt := range list.Files {
		e := mirrorEntry{Name: strings.TrimSpace(fEnt.Name), Size: fEnt.Size}
		if t, err := time.Parse(time.RFC3339, fEnt.Mtime); err == nil {
			e.Modified = t
		}
		out = append(out, e)
	}
	return out, nil
}

// --- HTML: plain anchors, preset region slicing, tuna/aliyun tables ---

func parseHTMLListing(base *url.URL, body []byte, opt Options) ([]mirrorEntry, error) {
	if opt.Preset == "portal" {
		body = sliceRegion(body, opt.RegionStart, opt.RegionEnd)
	}
	switch opt.Preset {
	case "tuna", "aliyun":
		entries, err := parseTableListing(base, body)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			return entries, nil
		}
		// fall through to plain anchors if the table parser found nothing
	}
	return parseHTMLAnchors(base, bytes.NewReader(body))
}

// sliceRegion keeps only the region of body between start and end
// (spec.md §4.7: "portal pages with mixed sections apply preset-
// specific region slicing"). Either marker may be empty, meaning "from
// the beginning" / "to the end".
func sliceRegion(body []byte, start, end string) []byte {
	if start != "" {
		if idx := bytes.Index(body, []byte(start)); idx >= 0 {
			body = body[idx:]
		}
	}
	if end != "" {
		if idx := bytes.Index(body, []byte(end)); idx >= 0 {
			body = body[:idx]
		}
	}
	return body
}

// parseName turns an href found on the page into a name relative to
// base, or an error if it doesn't belong under base — ported from the
// teacher's backend/http parseName: same-origin + same-scheme + under-
// root + single-path-segment checks, so navigation links (to a parent,
// to another host, to a query-string search form) never yield an entry
// (spec.md §8: "an HTML page that contains an external-origin anchor
// does not yield an entry for that anchor").
func parseName(base *url.URL, href string) (string, error) {
	rel, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("httpmirror: bad href")
	}
	u := base.ResolveReference(rel)
	uStr := u.String()
	if strings.Contains(uStr, "?") {
		return "", fmt.Errorf("httpmirror: href carries a query string")
	}
	if base.Host != u.Host {
		return "", fmt.Errorf("httpmirror: cross-origin href")
	}
	if base.Scheme != u.Scheme {
		return "", fmt.Errorf("httpmirror: cross-scheme href")
	}
	if !strings.HasPrefix(u.Path, base.Path) {
		return "", fmt.Errorf("httpmirror: href escapes the current directory")
	}
	name := u.Path[len(base.Path):]
	if name == "" {
		return "", fmt.Errorf("httpmirror: href resolves to the directory itself")
	}
	if slash := strings.Index(name, "/"); slash >= 0 && slash != len(name)-1 {
		return "", fmt.Errorf("httpmirror: href names a nested path, not a direct child")
	}
	return name, nil
}

// parseHTMLAnchors walks the parsed HTML tree collecting <a href> names
// that resolve to direct children of base — names come from href
// resolution, never visible link text, so navigation text ("Parent
// Directory", "Name", "Last modified") never becomes an entry.
func parseHTMLAnchors(base *url.URL, r *bytes.Reader) ([]mirrorEntry, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("httpmirror: parsing HTML listing: %w", err)
	}
	var (
		out  []mirrorEntry
		seen = map[string]struct{}{}
		walk func(*html.Node)
	)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				name, err := parseName(base, a.Val)
				if err == nil {
					if _, dup := seen[name]; !dup {
						seen[name] = struct{}{}
						out = append(out, mirrorEntry{
							Name:  strings.TrimSuffix(name, "/"),
							IsDir: strings.HasSuffix(name, "/"),
							Size:  -1,
						})
					}
				}
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}

var dateLike = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([ T]\d{2}:\d{2}(:\d{2})?)?$`)

var dateLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123,
}

// parseTableListing extracts rows of a tuna/aliyun-style mirror table:
// each <tr> holds one <a href> (the entry name) plus plain-text <td>
// cells carrying a human-readable size and/or a modified-time stamp
// (spec.md §4.7). Unlike the plain-anchor path this doesn't require a
// trailing slash on directory hrefs — most of these tables link
// directories without one — so directory-ness is decided by whether a
// size column was present at all.
func parseTableListing(base *url.URL, body []byte) ([]mirrorEntry, error) {
	z := html.NewTokenizer(bytes.NewReader(body))
	var (
		out       []mirrorEntry
		inRow     bool
		haveName  bool
		cur       mirrorEntry
		cellTexts []string
	)
	flush := func() {
		if haveName {
			applyTableCells(&cur, cellTexts)
			out = append(out, cur)
		}
		inRow, haveName = false, false
		cur = mirrorEntry{}
		cellTexts = nil
	}
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			switch tok.Data {
			case "tr":
				flush()
				inRow = true
				cur = mirrorEntry{Size: -1}
			case "a":
				if !inRow {
					continue
				}
				for _, a := range tok.Attr {
					if a.Key != "href" {
						continue
					}
					name, err := parseName(base, a.Val)
					if err == nil {
						cur.Name = strings.TrimSuffix(name, "/")
						cur.IsDir = strings.HasSuffix(name, "/")
						haveName = true
					}
				}
			}
		case html.TextToken:
			if inRow {
				if txt := strings.TrimSpace(string(tok.Data)); txt != "" {
					cellTexts = append(cellTexts, txt)
				}
			}
		case html.EndTagToken:
			if tok.Data == "tr" {
				flush()
			}
		}
	}
	flush()
	return out, nil
}

// applyTableCells scans a table row's text cells for a date-like
// string and a human-readable byte size, assigning whichever it
// recognizes (spec.md §4.7: "extracts modified-time + human-readable
// size where present").
func applyTableCells(e *mirrorEntry, cells []string) {
	sawSize := false
	for _, cell := range cells {
		if e.Modified.IsZero() && dateLike.MatchString(cell) {
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, cell); err == nil {
					e.Modified = t
					break
				}
			}
			continue
		}
		if cell == "-" || cell == "" {
			continue
		}
		if n, err := humanize.ParseBytes(cell); err == nil {
			e.Size = int64(n)
			sawSize = true
		}
	}
	if !sawSize {
		e.IsDir = true
		e.Size = -1
	}
}

// nextAliyunPage derives the second listing page's URL for aliyun-style
// portals (spec.md §4.7: "a second page (pagination) is fetched for
// aliyun portals and merged"). Only ever returns a page-2 URL once, to
// avoid an unbounded pagination chain this driver doesn't need.
func nextAliyunPage(base *url.URL) (string, bool) {
	q := base.Query()
	if q.Get("p") != "" {
		return "", false
	}
	next := *base
	q.Set("p", "2")
	next.RawQuery = q.Encode()
	return next.String(), true
}

// dedupeEntries collapses duplicate (kind, name) pairs, keeping the
// first occurrence (spec.md §4.7).
func dedupeEntries(entries []mirrorEntry) []mirrorEntry {
	seen := map[string]struct{}{}
	out := make([]mirrorEntry, 0, len(entries))
	for _, e := range entries {
		key := fmt.Sprintf("%v:%s", e.IsDir, e.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}
