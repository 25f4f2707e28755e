package retriever

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/highlightr/highlightr-agent/internal/clip"
)

const (
	FallbackFilename = "highlight_clip.mp4"
	maxFilenameRunes = 120
)

var looseFilename = regexp.MustCompile(`filename\*?=(?:UTF-8'')?"?([^";]+)"?`)

// FilenameFromDisposition extracts a safe suggested filename from a Content-Disposition
// header, falling back to FallbackFilename.
func FilenameFromDisposition(header string) string {
	if header == "" {
		return FallbackFilename
	}

	var name string
	if _, params, err := mime.ParseMediaType(header); err == nil {
		name = params["filename"]
	}
	if name == "" {
		if m := looseFilename.FindStringSubmatch(header); m != nil {
			name = m[1]
		}
	}

	// Never trust directory components from the server.
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = cleanClipName(name, maxFilenameRunes)
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "." {
		return FallbackFilename
	}
	return name
}

// cleanClipName maps a server-suggested name onto characters every desktop filesystem
// accepts. Anything else becomes '_' and control characters vanish. Names longer than limit
// runes are cut in the stem so the container extension survives.
func cleanClipName(s string, limit int) string {
	name := strings.TrimSpace(strings.Map(clipNameRune, s))
	if limit <= 0 || utf8.RuneCountInString(name) <= limit {
		return name
	}

	ext := filepath.Ext(name)
	stem := []rune(strings.TrimSuffix(name, ext))
	room := limit - utf8.RuneCountInString(ext)
	if room <= 0 {
		return string([]rune(name)[:limit])
	}
	return strings.TrimSpace(string(stem[:min(room, len(stem))])) + ext
}

func clipNameRune(r rune) rune {
	switch {
	case unicode.IsControl(r):
		return -1
	case unicode.In(r, unicode.Letter, unicode.Digit, unicode.Mark):
		return r
	case strings.ContainsRune(" -_.,()[]+", r):
		return r
	}
	return '_'
}

// ValidateOutputDir accepts only an existing, absolute, already-clean directory. A rejection
// is a clip.ValidationError on the "output directory" field.
func ValidateOutputDir(dir string) error {
	invalid := func(msg string) error {
		return &clip.ValidationError{Field: "output directory", Message: msg}
	}

	switch {
	case strings.TrimSpace(dir) == "":
		return invalid("no directory chosen")
	case slices.Contains(strings.Split(filepath.ToSlash(dir), "/"), ".."):
		return invalid(fmt.Sprintf("%q steps outside its parent", dir))
	case !filepath.IsAbs(dir):
		return invalid(fmt.Sprintf("%q is relative", dir))
	case filepath.Clean(dir) != dir:
		return invalid(fmt.Sprintf("%q is not in canonical form", dir))
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return invalid(fmt.Sprintf("%q does not exist", dir))
	case err != nil:
		return fmt.Errorf("stat output directory: %w", err)
	case !info.IsDir():
		return invalid(fmt.Sprintf("%q is a file", dir))
	}
	return nil
}
