// WebDAV wire types: the PROPFIND Multistatus response body and the
// vendor error envelope, adapted from the teacher's backend/webdav/api
// package. Trimmed to the fields this driver's Stat record actually
// carries (path, name, is_directory, size, modified, mimetype, etag) —
// the teacher's hash.Set-keyed Checksums/MESha1Hex fields have no home
// here since driver.Stat carries a single opaque ETag, not a hash map.
package webdav

import (
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hubdrive/drivercore/internal/logging"
)

const (
	timeFormat     = time.RFC1123
	noZerosRFC1123 = "Mon, _2 Jan 2006 15:04:05 MST"
)

// Multistatus is the body of a 207 PROPFIND response.
type Multistatus struct {
	Responses []Response `xml:"response"`
}

// Response is one <d:response> element: an href and its properties.
type Response struct {
	Href  string `xml:"href"`
	Props Prop   `xml:"propstat"`
}

// Prop elides the server's array of <d:propstat>/<d:prop> pairs into a
// single flattened struct, the same lazy decode the teacher uses.
type Prop struct {
	Status       []string  `xml:"DAV: status"`
	Name         string    `xml:"DAV: prop>displayname,omitempty"`
	Type         *xml.Name `xml:"DAV: prop>resourcetype>collection,omitempty"`
	IsCollection *string   `xml:"DAV: prop>iscollection,omitempty"` // Microsoft extension
	Size         int64     `xml:"DAV: prop>getcontentlength,omitempty"`
	Modified     Time      `xml:"DAV: prop>getlastmodified,omitempty"`
	ContentType  string    `xml:"DAV: prop>getcontenttype,omitempty"`
	ETagRaw      string    `xml:"DAV: prop>getetag,omitempty"`
}

var parseStatus = regexp.MustCompile(`^HTTP/[0-9.]+\s+(\d+)`)

// StatusOK reports whether the first status line (if any) was 2xx.
func (p *Prop) StatusOK() bool {
	if len(p.Status) == 0 {
		return true
	}
	match := parseStatus.FindStringSubmatch(p.Status[0])
	if len(match) < 2 {
		return false
	}
	code, err := strconv.Atoi(match[1])
	if err != nil {
		return false
	}
	return code >= 200 && code < 300
}

// IsDir reports whether the item is a collection. A client that sees a
// resourcetype it doesn't recognize must assume a plain resource
// (WebDAV book by Lisa Dusseault, ch 7.5.8 p170).
func (p *Prop) IsDir() bool {
	if p.Type != nil && p.Type.Space == "DAV:" && p.Type.Local == "collection" {
		return true
	}
	if p.IsCollection != nil && *p.IsCollection == "1" {
		return true
	}
	return false
}

// ETag strips surrounding quotes the way servers commonly wrap them.
func (p *Prop) ETag() string {
	return strings.Trim(p.ETagRaw, `"`)
}

// Error is the vendor XML error envelope:
//
//	<d:error xmlns:d="DAV:" xmlns:s="http://sabredav.org/ns">
//	  <s:exception>Sabre\DAV\Exception\NotFound</s:exception>
//	  <s:message>File with name Photo could not be located</s:message>
//	</d:error>
type Error struct {
	Exception  string `xml:"exception,omitempty"`
	Message    string `xml:"message,omitempty"`
	Status     string
	StatusCode int
}

func (e *Error) Error() string {
	var out []string
	if e.Message != "" {
		out = append(out, e.Message)
	}
	if e.Exception != "" {
		out = append(out, e.Exception)
	}
	if e.Status != "" {
		out = append(out, e.Status)
	}
	if len(out) == 0 {
		return "webdav error"
	}
	return strings.Join(out, ": ")
}

// Time decodes the several last-modified formats vendors have shipped
// over the years (RFC1123 per spec, but Fastmail/ownCloud/internal
// servers all drift from it).
type Time time.Time

func (t *Time) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return e.EncodeElement((*time.Time)(t).Format(timeFormat), start)
}

var timeFormats = []string{
	timeFormat,
	time.RFC1123Z,
	time.UnixDate,
	noZerosRFC1123,
	time.RFC3339,
}

var oneTimeWarn sync.Once

func (t *Time) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var v string
	if err := d.DecodeElement(&v, &start); err != nil {
		return err
	}
	if v == "" {
		*t = Time(time.Unix(0, 0))
		return nil
	}
	var parsed time.Time
	var err error
	for _, layout := range timeFormats {
		parsed, err = time.Parse(layout, v)
		if err == nil {
			*t = Time(parsed)
			return nil
		}
	}
	oneTimeWarn.Do(func() {
		logging.Errorf(nil, "webdav: failed to parse modified time %q, using the epoch", v)
	})
	*t = Time(time.Unix(0, 0))
	return nil
}

// decodeXMLError unmarshals a vendor error body into out.
func decodeXMLError(body []byte, out *Error) error {
	return xml.Unmarshal(body, out)
}

// Quota is the RFC 4331 quota-used/quota-available response body.
type Quota struct {
	Available string `xml:"DAV: response>propstat>prop>quota-available-bytes"`
	Used      string `xml:"DAV: response>propstat>prop>quota-used-bytes"`
}
