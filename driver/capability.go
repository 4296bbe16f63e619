package driver

// Capability is one tag a driver can advertise after initialization.
// The orchestrator (outside this module's scope) refuses operations a
// driver's capability set does not include.
type Capability uint16

// The full capability vocabulary (spec §3).
const (
	Reader Capability = 1 << iota
	Writer
	Atomic
	DirectLink
	Proxy
	PagedList
	Multipart
	Search
)

var capabilityNames = map[Capability]string{
	Reader:     "READER",
	Writer:     "WRITER",
	Atomic:     "ATOMIC",
	DirectLink: "DIRECT_LINK",
	Proxy:      "PROXY",
	PagedList:  "PAGED_LIST",
	Multipart:  "MULTIPART",
	Search:     "SEARCH",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// Capabilities is a set of Capability tags, represented as a bitset so
// it can be queried and combined in O(1) without reflection.
type Capabilities uint16

// NewCapabilities builds a set from individual tags.
func NewCapabilities(caps ...Capability) Capabilities {
	var out Capabilities
	for _, c := range caps {
		out |= Capabilities(c)
	}
	return out
}

// Has reports whether every tag in want is present in the set.
func (c Capabilities) Has(want ...Capability) bool {
	for _, w := range want {
		if c&Capabilities(w) == 0 {
			return false
		}
	}
	return true
}

// Add returns a new set with the given tags added.
func (c Capabilities) Add(caps ...Capability) Capabilities {
	for _, w := range caps {
		c |= Capabilities(w)
	}
	return c
}

// Remove returns a new set with the given tags removed.
func (c Capabilities) Remove(caps ...Capability) Capabilities {
	for _, w := range caps {
		c &^= Capabilities(w)
	}
	return c
}

// List renders the set as its component tag names, stable order.
func (c Capabilities) List() []string {
	var out []string
	for _, tag := range []Capability{Reader, Writer, Atomic, DirectLink, Proxy, PagedList, Multipart, Search} {
		if c.Has(tag) {
			out = append(out, tag.String())
		}
	}
	return out
}

func (c Capabilities) String() string {
	list := c.List()
	s := ""
	for i, n := range list {
		if i > 0 {
			s += "+"
		}
		s += n
	}
	if s == "" {
		return "(none)"
	}
	return s
}
