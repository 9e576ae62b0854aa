package fileutils

import (
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

// IsImageFile reports whether name has one of the page image extensions.
// Hidden files (such as macOS "._" resource forks) never count.
func IsImageFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(base))]
	return ok
}

// NameWithoutExt returns the base name of path with its final extension
// stripped. "Foo.cbz" becomes "Foo"; a directory name is returned as-is
// unless it happens to contain a dot.
func NameWithoutExt(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SplitNames splits a string of names by common delimiters (comma and semicolon),
// trims whitespace from each name, and returns non-empty names.
func SplitNames(s string) []string {
	if s == "" {
		return nil
	}

	var parts []string
	for _, segment := range strings.Split(s, ";") {
		for _, part := range strings.Split(segment, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
	}
	return parts
}

// UniqueNames drops empty and duplicate names, keeping first occurrences.
func UniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// NaturalLess compares page names so that "2.jpg" sorts before "10.jpg".
// Comparison is case-insensitive.
func NaturalLess(a, b string) bool {
	ar, br := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	i, j := 0, 0
	for i < len(ar) && j < len(br) {
		if unicode.IsDigit(ar[i]) && unicode.IsDigit(br[j]) {
			si := i
			for i < len(ar) && unicode.IsDigit(ar[i]) {
				i++
			}
			sj := j
			for j < len(br) && unicode.IsDigit(br[j]) {
				j++
			}
			na := strings.TrimLeft(string(ar[si:i]), "0")
			nb := strings.TrimLeft(string(br[sj:j]), "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			continue
		}
		if ar[i] != br[j] {
			return ar[i] < br[j]
		}
		i++
		j++
	}
	return len(ar)-i < len(br)-j
}

// SortNatural sorts names in place with NaturalLess.
func SortNatural(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return NaturalLess(names[i], names[j])
	})
}
