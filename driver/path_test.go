package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePathCollapsesAndConvertsSeparators(t *testing.T) {
	got, err := NormalizePath(`foo\bar//baz`, false)
	require.NoError(t, err)
	assert.Equal(t, "/foo/bar/baz", got)
}

func TestNormalizePathForcesLeadingSlash(t *testing.T) {
	got, err := NormalizePath("a/b", false)
	require.NoError(t, err)
	assert.Equal(t, "/a/b", got)
}

func TestNormalizePathRejectsDotDotSegments(t *testing.T) {
	_, err := NormalizePath("/a/../b", false)
	require.Error(t, err)
	assert.True(t, Is(err, CodeDotsInPath))
}

func TestNormalizePathRejectsNULByte(t *testing.T) {
	_, err := NormalizePath("/a\x00b", false)
	require.Error(t, err)
	assert.True(t, Is(err, CodeInvalidPath))
}

func TestNormalizePathAsDirectoryAddsTrailingSlash(t *testing.T) {
	got, err := NormalizePath("/a/b", true)
	require.NoError(t, err)
	assert.Equal(t, "/a/b/", got)
}

func TestNormalizePathRootAsDirectory(t *testing.T) {
	got, err := NormalizePath("/", true)
	require.NoError(t, err)
	assert.Equal(t, "/", got)
}

func TestNormalizePathAsFileStripsTrailingSlash(t *testing.T) {
	got, err := NormalizePath("/a/b/", false)
	require.NoError(t, err)
	assert.Equal(t, "/a/b", got)
}

func TestNameReturnsFinalSegment(t *testing.T) {
	assert.Equal(t, "baz", Name("/foo/bar/baz"))
	assert.Equal(t, "baz", Name("/foo/bar/baz/"))
	assert.Equal(t, "", Name("/"))
	assert.Equal(t, "", Name(""))
}

func TestParentReturnsSlashTerminatedParent(t *testing.T) {
	assert.Equal(t, "/foo/bar/", Parent("/foo/bar/baz"))
	assert.Equal(t, "/", Parent("/foo"))
	assert.Equal(t, "/", Parent("/"))
}

func TestJoinKeepsLeadingSlash(t *testing.T) {
	assert.Equal(t, "/foo/bar", Join("/foo", "bar"))
	assert.Equal(t, "/foo/", Join("/foo", ""))
	assert.Equal(t, "/bar", Join("", "bar"))
	assert.Equal(t, "/", Join("", ""))
}

func TestJoinKeepsDotDotNameVerbatim(t *testing.T) {
	// name components are always already-validated names; Join just
	// trims slashes rather than re-validating, so a bare ".." name is
	// appended as-is rather than resolved against base.
	assert.Equal(t, "/foo/..", Join("/foo", ".."))
}

func TestClassifyRefRecognizesPrefixedRefs(t *testing.T) {
	assert.Equal(t, RefBranch, ClassifyRef("refs/heads/main", nil, nil))
	assert.Equal(t, RefBranch, ClassifyRef("heads/main", nil, nil))
	assert.Equal(t, RefTag, ClassifyRef("refs/tags/v1", nil, nil))
	assert.Equal(t, RefTag, ClassifyRef("tags/v1", nil, nil))
}

func TestClassifyRefRecognizesCommitHash(t *testing.T) {
	sha := "0123456789abcdef0123456789abcdef01234567"
	assert.Equal(t, RefCommit, ClassifyRef(sha, nil, nil))
}

func TestClassifyRefConsultsKnownSets(t *testing.T) {
	branches := map[string]bool{"main": true}
	tags := map[string]bool{"v1": true}
	assert.Equal(t, RefBranch, ClassifyRef("main", branches, tags))
	assert.Equal(t, RefTag, ClassifyRef("v1", branches, tags))
	assert.Equal(t, RefUnknown, ClassifyRef("mystery", branches, tags))
}

func TestRefKindIsWritable(t *testing.T) {
	assert.True(t, RefBranch.IsWritable())
	assert.False(t, RefTag.IsWritable())
	assert.False(t, RefCommit.IsWritable())
	assert.False(t, RefUnknown.IsWritable())
}
