package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCapabilitiesCombinesTags(t *testing.T) {
	c := NewCapabilities(Reader, Writer)
	assert.True(t, c.Has(Reader))
	assert.True(t, c.Has(Writer))
	assert.False(t, c.Has(Atomic))
}

func TestHasRequiresAllTags(t *testing.T) {
	c := NewCapabilities(Reader, Writer)
	assert.True(t, c.Has(Reader, Writer))
	assert.False(t, c.Has(Reader, Writer, Atomic))
}

func TestAddReturnsNewSetWithoutMutatingOriginal(t *testing.T) {
	c := NewCapabilities(Reader)
	c2 := c.Add(Writer)
	assert.False(t, c.Has(Writer))
	assert.True(t, c2.Has(Reader, Writer))
}

func TestRemoveDropsTags(t *testing.T) {
	c := NewCapabilities(Reader, Writer, Atomic)
	c2 := c.Remove(Writer)
	assert.True(t, c2.Has(Reader, Atomic))
	assert.False(t, c2.Has(Writer))
}

func TestListIsStableOrder(t *testing.T) {
	c := NewCapabilities(Search, Reader, Multipart)
	assert.Equal(t, []string{"READER", "MULTIPART", "SEARCH"}, c.List())
}

func TestCapabilitiesStringJoinsWithPlus(t *testing.T) {
	c := NewCapabilities(Reader, Writer)
	assert.Equal(t, "READER+WRITER", c.String())
}

func TestEmptyCapabilitiesStringIsNone(t *testing.T) {
	var c Capabilities
	assert.Equal(t, "(none)", c.String())
	assert.Empty(t, c.List())
}

func TestCapabilityStringUnknownTag(t *testing.T) {
	var unknown Capability = 1 << 15
	assert.Equal(t, "UNKNOWN", unknown.String())
}
