// Package ldif renders directory entries as LDIF (RFC 2849) and normalizes the
// rendered blocks so that many lookups can share one export file.
package ldif

// Version is the LDIF version written in every header.
const Version = 1

// Lines that identify a rendered block as a standalone document. They are
// dropped once blocks are concatenated under a single Preamble.
const (
	// VersionToken marks the per-block version header.
	VersionToken = "version:"

	// SingleEntryCountComment is the trailer of a lookup that found one entry.
	SingleEntryCountComment = "# total number of entries: 1"
)

// Export record framing.
const (
	// Preamble is the first line of every export file.
	Preamble = "version: 1\n"

	// NothingToShow is written instead of blocks when there are no identifiers.
	NothingToShow = "# Nothing to show"
)

// DefaultRichThreshold is the number of non-empty lines a normalized block
// must exceed to count as a populated entry.
const DefaultRichThreshold = 5

// Class is the outcome of a single lookup.
type Class int

const (
	// Sparse means the directory returned little or nothing for the identifier.
	Sparse Class = iota
	// Rich means the directory returned a populated entry.
	Rich
)

func (c Class) String() string {
	switch c {
	case Rich:
		return "rich"
	case Sparse:
		return "sparse"
	default:
		return "unknown"
	}
}

// Classify returns Rich when block has more than threshold non-empty lines.
// Only the line count is inspected, never attribute content.
func Classify(block string, threshold int) Class {
	if CountLines(block) > threshold {
		return Rich
	}
	return Sparse
}
