package core

import (
	"strings"
	"unicode"
)

const (
	normalLineWidth = 48
	wideLineWidth   = 24
)

// IsWide reports whether r occupies two cells on paper. Only Han ideographs are double width.
func IsWide(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

func runeWidth(r rune) int {
	if IsWide(r) {
		return 2
	}
	return 1
}

func VisualWidth(s string) int {
	w := 0
	for _, r := range s {
		w += runeWidth(r)
	}
	return w
}

func ContainsWide(s string) bool {
	for _, r := range s {
		if IsWide(r) {
			return true
		}
	}
	return false
}

func ColumnsContainWide(columns []ColumnItem) bool {
	for _, col := range columns {
		for _, line := range col.Lines {
			if ContainsWide(line) {
				return true
			}
		}
	}
	return false
}

// LineWidth is the wrap width in character cells for a font class. Only horizontal
// scaling narrows the line; TALL keeps the full width.
func LineWidth(f FontSize) int {
	switch f {
	case FontWide, FontBig:
		return wideLineWidth
	default:
		return normalLineWidth
	}
}

// TakeChunkOfVisualWidth returns the longest prefix of s whose visual width fits maxWidth.
func TakeChunkOfVisualWidth(s string, maxWidth int) string {
	width := 0
	end := 0
	for i, r := range s {
		w := runeWidth(r)
		if width+w > maxWidth {
			break
		}
		width += w
		end = i + len(string(r))
	}
	return s[:end]
}

// Wrap splits text into printable lines.
//
// With wrapWords false the text is cut every width runes without regard to visual
// width, so lines containing Han characters may overflow the paper. Callers rely on
// this behaviour; do not change it to visual chunks.
func Wrap(text string, width int, wrapWords bool) []string {
	if width < 1 {
		width = 1
	}
	if wrapWords {
		return wrapWordsToWidth(text, width)
	}

	runes := []rune(text)
	lines := make([]string, 0, len(runes)/width+1)
	for i := 0; i < len(runes); i += width {
		end := i + width
		if end > len(runes) {
			end = len(runes)
		}
		lines = append(lines, string(runes[i:end]))
	}
	return lines
}

func wrapWordsToWidth(text string, width int) []string {
	var lines []string
	var current strings.Builder
	currentWidth := 0

	flush := func() {
		lines = append(lines, strings.TrimSpace(current.String()))
		current.Reset()
		currentWidth = 0
	}

	for _, word := range strings.Fields(text) {
		wordWidth := VisualWidth(word)

		switch {
		case wordWidth > width:
			if currentWidth > 0 {
				flush()
			}
			remaining := word
			for remaining != "" {
				chunk := TakeChunkOfVisualWidth(remaining, width)
				if chunk == "" {
					// a single rune wider than the line; emit it alone to make progress
					r := []rune(remaining)[0]
					chunk = string(r)
				}
				lines = append(lines, chunk)
				remaining = remaining[len(chunk):]
			}
		case currentWidth == 0:
			current.WriteString(word)
			currentWidth = wordWidth
		case currentWidth+1+wordWidth <= width:
			current.WriteByte(' ')
			current.WriteString(word)
			currentWidth += 1 + wordWidth
		default:
			flush()
			current.WriteString(word)
			currentWidth = wordWidth
		}
	}

	if current.Len() > 0 {
		lines = append(lines, strings.TrimSpace(current.String()))
	}
	return lines
}

// Pad fits text into exactly width cells when it is narrower, or truncates it when it
// overflows. The CENTER overflow path windows by rune index rather than visual width.
func Pad(text string, width int, align Alignment) string {
	if width < 0 {
		width = 0
	}
	vw := VisualWidth(text)

	if vw <= width {
		padding := width - vw
		switch align {
		case AlignRight:
			return strings.Repeat(" ", padding) + text
		case AlignCenter:
			left := padding / 2
			return strings.Repeat(" ", left) + text + strings.Repeat(" ", padding-left)
		default:
			return text + strings.Repeat(" ", padding)
		}
	}

	runes := []rune(text)
	switch align {
	case AlignRight:
		start := len(runes) - width
		if start < 0 {
			start = 0
		}
		return string(runes[start:])
	case AlignCenter:
		start := (len(runes) - width) / 2
		if start < 0 {
			start = 0
		}
		end := start + width
		if end > len(runes) {
			end = len(runes)
		}
		return string(runes[start:end])
	default:
		return TakeChunkOfVisualWidth(text, width)
	}
}

// ComposeColumns pads each column's row and joins them into printable rows. The row
// count is the longest column; shorter columns contribute blank padding.
func ComposeColumns(columns []ColumnItem) []string {
	rows := 0
	for _, col := range columns {
		if len(col.Lines) > rows {
			rows = len(col.Lines)
		}
	}

	out := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		var b strings.Builder
		for _, col := range columns {
			line := ""
			if i < len(col.Lines) {
				line = col.Lines[i]
			}
			align := col.Alignment
			if align == "" {
				align = AlignLeft
			}
			b.WriteString(Pad(line, col.Width, align))
		}
		out = append(out, b.String())
	}
	return out
}
