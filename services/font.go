package services

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/image/font/sfnt"
)

// Font is a parsed overlay font
type Font struct {
	Path string
	font *sfnt.Font
}

// LoadFont reads and parses a TrueType or OpenType font
func LoadFont(path string) (*Font, error) {
	if path == "" {
		return nil, &RenderError{Err: fmt.Errorf("font path is empty")}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &RenderError{FontPath: path, Err: err}
	}

	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, &RenderError{FontPath: path, Err: fmt.Errorf("unusable font: %w", err)}
	}

	return &Font{Path: path, font: f}, nil
}

// MissingGlyphs returns the distinct runes of text the font cannot draw,
// in order of first appearance. Whitespace is ignored.
func (f *Font) MissingGlyphs(text string) []rune {
	var (
		buf     sfnt.Buffer
		missing []rune
		seen    = map[rune]bool{}
	)

	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsControl(r) || seen[r] {
			continue
		}
		seen[r] = true

		idx, err := f.font.GlyphIndex(&buf, r)
		if err != nil || idx == 0 {
			missing = append(missing, r)
		}
	}

	return missing
}

// CheckCoverage fails with a RenderError when any text has a glyph the
// font does not provide
func (f *Font) CheckCoverage(texts ...string) error {
	missing := f.MissingGlyphs(strings.Join(texts, " "))
	if len(missing) == 0 {
		return nil
	}

	quoted := make([]string, len(missing))
	for i, r := range missing {
		quoted[i] = fmt.Sprintf("%q", r)
	}

	return &RenderError{
		FontPath: f.Path,
		Err:      fmt.Errorf("font has no glyph for %s", strings.Join(quoted, ", ")),
	}
}
