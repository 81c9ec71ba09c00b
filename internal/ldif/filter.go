package ldif

import "strings"

// LinePredicate reports whether a line (without its terminator) matches.
type LinePredicate func(line string) bool

// Contains matches lines containing token anywhere.
func Contains(token string) LinePredicate {
	return func(line string) bool {
		return strings.Contains(line, token)
	}
}

// Filter removes every line of block matched by any of drop. Kept lines keep
// their terminators, so the result is still a valid sequence of lines.
func Filter(block string, drop ...LinePredicate) string {
	if block == "" || len(drop) == 0 {
		return block
	}

	var b strings.Builder
	b.Grow(len(block))

	for line := range strings.SplitAfterSeq(block, "\n") {
		content := strings.TrimRight(line, "\r\n")
		if matchesAny(content, drop) {
			continue
		}
		b.WriteString(line)
	}

	return b.String()
}

func matchesAny(line string, predicates []LinePredicate) bool {
	for _, p := range predicates {
		if p(line) {
			return true
		}
	}
	return false
}

// Normalize strips the per-block version header and single-entry count trailer.
func Normalize(block string) string {
	return Filter(block, Contains(VersionToken), Contains(SingleEntryCountComment))
}

// CountLines returns the number of non-blank lines in block.
func CountLines(block string) int {
	n := 0
	for line := range strings.SplitSeq(block, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
