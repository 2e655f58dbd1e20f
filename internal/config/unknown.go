package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section.
var knownKeys = map[string][]string{
	"server": {
		"bind_addr", "exposed_url", "dav_prefix", "max_body_size",
		"shutdown_timeout", "debug_token_endpoint",
	},
	"onedrive": {"client_id", "client_secret", "tenant", "root"},
	"auth": {
		"state_file", "refresh_margin", "pending_ttl", "max_pending",
		"retry_min_delay", "retry_max_delay",
	},
	"routing": {"ephemeral_prefixes", "ephemeral_suffixes"},
	"logging": {"log_level", "log_format"},
	"network": {"connect_timeout", "data_timeout", "request_timeout"},
}

// knownSections is the sorted list of section names.
var knownSections = func() []string {
	s := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		s = append(s, k)
	}

	sort.Strings(s)

	return s
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key. A key directly under the
// root is an unknown section (or a key that belongs inside one).
func unknownKeyError(key toml.Key) error {
	if len(key) == 1 {
		if section := sectionOf(key[0]); section != "" {
			return fmt.Errorf("config key %q must be inside [%s]", key[0], section)
		}

		if suggestion := closestMatch(key[0], knownSections); suggestion != "" {
			return fmt.Errorf("unknown config section %q, did you mean %q?", key[0], suggestion)
		}

		return fmt.Errorf("unknown config section %q", key[0])
	}

	section, field := key[0], key[1]

	known, ok := knownKeys[section]
	if !ok {
		return fmt.Errorf("unknown config section %q", section)
	}

	if suggestion := closestMatch(field, known); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s], did you mean %q?", field, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, section)
}

// sectionOf returns the section that defines key, or "".
func sectionOf(key string) string {
	for _, section := range knownSections {
		for _, k := range knownKeys[section] {
			if k == key {
				return section
			}
		}
	}

	return ""
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(strings.ToLower(unknown), k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
