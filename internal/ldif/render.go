package ldif

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// MaxLineLength is the column at which long lines are folded.
const MaxLineLength = 78

// Render returns the LDIF document for the result of one search: a version
// header, each entry followed by a blank line, and an entry count trailer.
// objectClass values come first in each entry; other attributes keep the
// order the server sent them in.
func Render(entries []*ldap.Entry) string {
	lines := []string{fmt.Sprintf("version: %d", Version)}

	for _, entry := range entries {
		if entry == nil {
			continue
		}
		lines = append(lines, EntryLines(entry)...)
		lines = append(lines, "")
	}

	lines = append(lines, fmt.Sprintf("# total number of entries: %d", countEntries(entries)))

	return strings.Join(lines, "\n") + "\n"
}

func countEntries(entries []*ldap.Entry) int {
	n := 0
	for _, e := range entries {
		if e != nil {
			n++
		}
	}
	return n
}

// EntryLines returns the folded LDIF lines of a single entry, dn first.
func EntryLines(entry *ldap.Entry) []string {
	lines := Line("dn", []byte(entry.DN))

	var objectClass *ldap.EntryAttribute
	for _, attr := range entry.Attributes {
		if strings.EqualFold(attr.Name, "objectClass") {
			objectClass = attr
			lines = append(lines, attributeLines(attr)...)
			break
		}
	}

	for _, attr := range entry.Attributes {
		if attr == objectClass {
			continue
		}
		lines = append(lines, attributeLines(attr)...)
	}

	return lines
}

func attributeLines(attr *ldap.EntryAttribute) []string {
	var lines []string
	values := attr.ByteValues
	if len(values) == 0 {
		for _, v := range attr.Values {
			values = append(values, []byte(v))
		}
	}
	for _, v := range values {
		lines = append(lines, Line(attr.Name, v)...)
	}
	return lines
}

// Line renders one "name: value" pair, switching to "name:: base64" for values
// that are not safe strings, and folds the result at MaxLineLength.
func Line(name string, value []byte) []string {
	var line string
	if IsSafeString(value) {
		line = name + ": " + string(value)
	} else {
		line = name + ":: " + base64.StdEncoding.EncodeToString(value)
	}
	return fold(line)
}

// fold splits line into a first line of MaxLineLength bytes followed by
// continuation lines that start with a single space.
func fold(line string) []string {
	if len(line) <= MaxLineLength {
		return []string{line}
	}

	folded := []string{line[:MaxLineLength]}
	for rest := line[MaxLineLength:]; rest != ""; {
		n := min(len(rest), MaxLineLength-1)
		folded = append(folded, " "+rest[:n])
		rest = rest[n:]
	}
	return folded
}

// IsSafeString reports whether value can be written verbatim as an RFC 2849
// SAFE-STRING: 7-bit, no NUL/LF/CR, no leading space, colon or '<', and no
// trailing space.
func IsSafeString(value []byte) bool {
	if len(value) == 0 {
		return true
	}

	switch value[0] {
	case ' ', ':', '<':
		return false
	}

	if value[len(value)-1] == ' ' {
		return false
	}

	for _, c := range value {
		if c == 0 || c == '\n' || c == '\r' || c > 127 {
			return false
		}
	}

	return true
}
