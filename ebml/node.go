package ebml

// Node is the minimal tree-walker contract shared by every container format
// built on top of EBML-flavored or box-flavored framing. It stands in for
// the compile-time trait binding (FileElementTraits/GenericFileElement) a
// C++ implementation would express with templates: in Go the tree walker
// dispatches on this interface dynamically, while each format's concrete
// element type (mp4.Atom) keeps its own monomorphic data layout and parsing
// code. ebml.Element has the same methods but returns *Element from
// FirstChild/NextSibling, so it does not satisfy Node itself.
type Node interface {
	// ID returns the element's identifier, already parsed.
	ID() uint64
	// DataSize returns the size of the element's payload, excluding its own
	// header (id + size denotation).
	DataSize() uint64
	// StartOffset returns the absolute offset of the element's header,
	// i.e. where the element itself begins.
	StartOffset() int64
	// Parse reads this node's own header if it hasn't been parsed yet.
	// Parse is idempotent.
	Parse() error
	// FirstChild returns the node's first child, parsing it if necessary.
	// It returns nil, nil if the node has no children.
	FirstChild() (Node, error)
	// NextSibling returns the node immediately following this one at the
	// same tree depth, parsing it if necessary. It returns nil, nil if this
	// is the last sibling.
	NextSibling() (Node, error)
}
