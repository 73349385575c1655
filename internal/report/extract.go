package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ExtractText pulls the text-showing strings out of a PDF's page
// content streams. Lab reports are text-heavy tabular PDFs, so literal
// string operators recover the markers, values, and reference ranges
// the analysis engine needs. Scanned/image-only reports yield nothing
// and are treated as malformed.
func ExtractText(path string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "hemalyze-extract-")
	if err != nil {
		return "", fmt.Errorf("create extract dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.ExtractContentFile(path, tmpDir, nil, conf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	entries, err := filepath.Glob(filepath.Join(tmpDir, "*.txt"))
	if err != nil {
		return "", fmt.Errorf("list extracted content: %w", err)
	}
	sort.Strings(entries)

	var b strings.Builder
	for _, entry := range entries {
		stream, err := os.ReadFile(entry)
		if err != nil {
			return "", fmt.Errorf("read extracted content: %w", err)
		}
		page := TextFromContentStream(stream)
		if page == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(page)
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: no extractable text", ErrMalformed)
	}
	return text, nil
}

// TextFromContentStream collects literal strings from a decoded PDF
// content stream, inserting line breaks at the text-line operators
// (Td, TD, T*). Hex strings are skipped: they address glyphs in
// embedded fonts and are not recoverable without the font's cmap.
func TextFromContentStream(stream []byte) string {
	var b strings.Builder
	i := 0
	for i < len(stream) {
		switch c := stream[i]; {
		case c == '(':
			lit, next := parseStringLiteral(stream, i)
			b.WriteString(lit)
			b.WriteByte(' ')
			i = next
		case c == '<':
			i = skipHexString(stream, i)
		case c == 'T' && i+1 < len(stream) && (stream[i+1] == 'd' || stream[i+1] == 'D' || stream[i+1] == '*'):
			b.WriteByte('\n')
			i += 2
		default:
			i++
		}
	}
	return normalizeWhitespace(b.String())
}

// parseStringLiteral consumes a PDF string literal starting at the '('
// at position start and returns the decoded text plus the index after
// the closing paren. Parens nest; backslash escapes per the PDF spec.
func parseStringLiteral(stream []byte, start int) (string, int) {
	var b strings.Builder
	depth := 0
	i := start
	for i < len(stream) {
		c := stream[i]
		switch c {
		case '\\':
			if i+1 >= len(stream) {
				return b.String(), i + 1
			}
			esc := stream[i+1]
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 'r', 't', 'b', 'f':
				b.WriteByte(' ')
			case '(', ')', '\\':
				b.WriteByte(esc)
			default:
				if esc >= '0' && esc <= '7' {
					// octal escape, up to three digits
					val := 0
					j := i + 1
					for j < len(stream) && j <= i+3 && stream[j] >= '0' && stream[j] <= '7' {
						val = val*8 + int(stream[j]-'0')
						j++
					}
					if val >= 32 && val < 127 {
						b.WriteByte(byte(val))
					}
					i = j
					continue
				}
				b.WriteByte(esc)
			}
			i += 2
		case '(':
			if depth > 0 {
				b.WriteByte('(')
			}
			depth++
			i++
		case ')':
			depth--
			if depth == 0 {
				return b.String(), i + 1
			}
			b.WriteByte(')')
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), i
}

func skipHexString(stream []byte, start int) int {
	// "<<" opens a dictionary, not a hex string
	if start+1 < len(stream) && stream[start+1] == '<' {
		return start + 2
	}
	for i := start + 1; i < len(stream); i++ {
		if stream[i] == '>' {
			return i + 1
		}
	}
	return len(stream)
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
