package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
)

// SanitizeKey makes a file name safe for object storage keys. Anything outside
// [A-Za-z0-9._-] becomes an underscore.
func SanitizeKey(name string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (isASCIIAlnum(r) || strings.ContainsRune("._-", r)) {
			return r
		}
		return '_'
	}, name)
}

func isASCIIAlnum(r rune) bool {
	return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}

// AssetKey is the storage and upload key of an asset.
func AssetKey(assetID, name string) string {
	return "uploads/" + assetID + "-" + SanitizeKey(name)
}

// SanitizeName cleans a display or project name: control characters are
// dropped, punctuation outside " -_.,()" becomes '_', and the result is
// trimmed and cut to maxLen runes (maxLen <= 0 means no limit).
func SanitizeName(s string, maxLen int) string {
	cleaned := strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(" -_.,()", r):
			return r
		}
		return '_'
	}, s))

	if maxLen <= 0 {
		return cleaned
	}
	if runes := []rune(cleaned); len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return cleaned
}

// ErrBadOutputDir wraps every reason ValidateOutputDir rejects a path.
var ErrBadOutputDir = errors.New("invalid output_dir")

// ValidateOutputDir accepts an existing directory given as a clean path
// without ".." segments. Export files are written directly into it.
func ValidateOutputDir(dir string) error {
	reject := func(reason string) error {
		return fmt.Errorf("%w: %s", ErrBadOutputDir, reason)
	}

	switch {
	case strings.TrimSpace(dir) == "":
		return reject("output_dir is required")
	case slices.Contains(strings.Split(filepath.ToSlash(dir), "/"), ".."):
		return reject("path traversal is not allowed")
	case filepath.Clean(dir) != dir:
		return reject("path must be clean")
	}

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return reject("directory does not exist")
	case err != nil:
		return fmt.Errorf("%w: %v", ErrBadOutputDir, err)
	case !info.IsDir():
		return reject("not a directory")
	}
	return nil
}
