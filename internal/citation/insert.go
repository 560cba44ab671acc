// Package citation inserts numbered source markers into generated text.
//
// The model reports grounding as (end offset, source indices) spans. Markers
// are inserted back-to-front so earlier insertions never shift offsets still
// to be processed, and an insertion point inside a word slides forward to
// the end of the word so a marker never splits a token.
package citation

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Support ties a span of text to grounding sources. End is a byte offset
// into the text; SourceIndices are 0-based and map to marker numbers
// (source 0 renders as "[1]").
type Support struct {
	End           int
	SourceIndices []int
}

// Insert places citation markers into text. Call exactly once per text:
// a second pass would treat the inserted markers as part of the text and
// misplace everything after them.
func Insert(text string, supports []Support) string {
	if text == "" || len(supports) == 0 {
		return text
	}

	sorted := make([]Support, len(supports))
	copy(sorted, supports)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].End > sorted[j].End })

	for _, sup := range sorted {
		marker := markerFor(sup.SourceIndices)
		if marker == "" {
			continue
		}

		pos := sup.End
		if pos < 0 {
			pos = 0
		}
		if pos > len(text) {
			pos = len(text)
		}
		pos = wordEnd(text, pos)

		if pos >= len(text) {
			text = text + " " + marker
		} else {
			text = text[:pos] + marker + text[pos:]
		}
	}
	return text
}

// markerFor renders "[1][2]" style markers in ascending index order.
func markerFor(indices []int) string {
	if len(indices) == 0 {
		return ""
	}
	sorted := make([]int, len(indices))
	copy(sorted, indices)
	sort.Ints(sorted)

	var b strings.Builder
	for _, idx := range sorted {
		b.WriteString("[")
		b.WriteString(strconv.Itoa(idx + 1))
		b.WriteString("]")
	}
	return b.String()
}

// wordEnd advances pos past an in-progress letter or digit run.
func wordEnd(text string, pos int) int {
	for pos < len(text) {
		r, size := utf8.DecodeRuneInString(text[pos:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		pos += size
	}
	return pos
}

// artifactPattern matches malformed decimal-style bracket references the
// model occasionally emits, like [1.2] or [3,4.5]. Plain [1] is a valid
// marker and is left alone.
var artifactPattern = regexp.MustCompile(`\[\d+(?:[.,]\d+)+\]`)

// StripArtifacts removes malformed bracket artifacts before insertion.
func StripArtifacts(text string) string {
	return artifactPattern.ReplaceAllString(text, "")
}
