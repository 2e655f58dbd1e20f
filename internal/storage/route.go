package storage

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Route reports whether a path belongs to backend A. It must be pure.
type Route func(p string) bool

// Defaults for EphemeralRoute: macOS AppleDouble resource forks and Finder
// metadata files.
var (
	DefaultEphemeralPrefixes = []string{"._"}
	DefaultEphemeralSuffixes = []string{"DS_Store"}
)

// EphemeralRoute routes a path to A when its base name starts with one of
// prefixes or ends with one of suffixes. Names are compared in NFC since
// macOS clients send NFD.
func EphemeralRoute(prefixes, suffixes []string) Route {
	pre := normalizeAll(prefixes)
	suf := normalizeAll(suffixes)

	return func(p string) bool {
		name := norm.NFC.String(path.Base(Clean(p)))
		if name == "/" {
			return false
		}

		for _, s := range pre {
			if strings.HasPrefix(name, s) {
				return true
			}
		}

		for _, s := range suf {
			if strings.HasSuffix(name, s) {
				return true
			}
		}

		return false
	}
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))

	for _, s := range in {
		if s != "" {
			out = append(out, norm.NFC.String(s))
		}
	}

	return out
}
