package driver

import (
	"regexp"
	"strings"
)

var multiSlash = regexp.MustCompile(`/+`)

// NormalizePath applies the uniform rules from spec.md §4.2: backslash
// to slash, collapse repeated slashes, force a leading slash, and
// reject ".." segments outright. asDirectory forces (or strips) the
// trailing slash that distinguishes a directory reference from a file
// reference.
//
// Modeled on the ad-hoc path joining every teacher backend does in its
// own idiom (discord's betterPathClean/trimPathPrefix, webdav's
// addSlash/filePath/dirPath, http's parseName) but centralized here so
// all five drivers share one normalization pass instead of five
// slightly different ones.
func NormalizePath(p string, asDirectory bool) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", NewError(CodeInvalidPath, "path contains a NUL byte")
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = multiSlash.ReplaceAllString(p, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", NewError(CodeDotsInPath, "path contains a '..' segment").WithDetails("path", p)
		}
	}
	trailing := strings.HasSuffix(p, "/") && p != "/"
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		trimmed = "/"
	}
	if asDirectory {
		if trimmed == "/" {
			return "/", nil
		}
		return trimmed + "/", nil
	}
	if trailing && trimmed != "/" {
		// caller asked for a file reference but supplied a directory path;
		// normalize away the trailing slash, the caller's hint wins.
		return trimmed, nil
	}
	return trimmed, nil
}

// Name returns the final path segment ("" for the root).
func Name(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" || p == "/" {
		return ""
	}
	idx := strings.LastIndexByte(p, '/')
	return p[idx+1:]
}

// Parent returns the logical parent directory of p, always slash
// terminated (root's parent is root).
func Parent(p string) string {
	p = strings.TrimRight(p, "/")
	idx := strings.LastIndexByte(p, '/')
	if idx <= 0 {
		return "/"
	}
	return p[:idx+1]
}

// Join mimics path.Join but keeps the leading slash. It only trims
// slashes and appends name verbatim: a ".." component is kept, not
// resolved or dropped, since callers only ever join already-validated
// names.
func Join(base, name string) string {
	base = strings.TrimRight(base, "/")
	name = strings.Trim(name, "/")
	if name == "" {
		if base == "" {
			return "/"
		}
		return base + "/"
	}
	if base == "" {
		return "/" + name
	}
	return base + "/" + name
}

// RefKind classifies a ref string per spec.md §4.2.
type RefKind int

const (
	RefUnknown RefKind = iota
	RefBranch
	RefTag
	RefCommit
)

var hexCommit = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ClassifyRef decides whether ref names a branch, a tag, or a commit,
// consulting the caller-supplied sets of known branch/tag names (the
// refs cache, §3). An unadorned name that is in neither set but also
// isn't a commit hash is RefUnknown; writers should treat RefUnknown
// like "not a branch" per §4.3.2.
func ClassifyRef(ref string, branches, tags map[string]bool) RefKind {
	switch {
	case strings.HasPrefix(ref, "refs/heads/"):
		return RefBranch
	case strings.HasPrefix(ref, "heads/"):
		return RefBranch
	case strings.HasPrefix(ref, "refs/tags/"):
		return RefTag
	case strings.HasPrefix(ref, "tags/"):
		return RefTag
	case hexCommit.MatchString(ref):
		return RefCommit
	case branches[ref]:
		return RefBranch
	case tags[ref]:
		return RefTag
	default:
		return RefUnknown
	}
}

// IsWritable reports whether a ref of this kind may be written to.
// Only branches are writable (spec.md invariant (b), §4.2).
func (k RefKind) IsWritable() bool { return k == RefBranch }
