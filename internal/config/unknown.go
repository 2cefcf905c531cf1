package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxSuggestDistance bounds the edits between an unknown name and the
// known one offered as "did you mean".
const maxSuggestDistance = 3

// knownKeys lists the valid keys of each section.
var knownKeys = map[string][]string{
	"google": {"domain", "admin_login", "key_file", "scopes"},
	"backup": {
		"root_dir", "backend", "compression", "keep_dirs", "streaming",
		"keep_on_crash", "owner_only", "retention_days", "parallel_users",
		"chunk_size", "auth_retry_pause", "max_folder_depth", "catalog_path",
		"spool_dir",
	},
	"formats": {"preferred", "exclusive"},
	"retry":   {"attempts", "initial_delay", "factor", "max_delay"},
	"logging": {"log_level", "log_format"},
	"network": {"timeout", "user_agent"},
}

// knownSections is the sorted list of section names, for suggestions.
var knownSections = func() []string {
	names := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}()

// checkUnknownKeys reports every key the decoder left unused. An unknown
// section is reported once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		section := key[0]

		if _, ok := knownKeys[section]; !ok || len(key) == 1 {
			if reported[section] {
				continue
			}

			reported[section] = true
			errs = append(errs, unknownError("config section", section, knownSections))

			continue
		}

		errs = append(errs, unknownError("config key", key.String(), qualified(section)))
	}

	return errors.Join(errs...)
}

func qualified(section string) []string {
	keys := make([]string, len(knownKeys[section]))
	for i, k := range knownKeys[section] {
		keys[i] = section + "." + k
	}

	sort.Strings(keys)

	return keys
}

func unknownError(what, name string, known []string) error {
	if suggestion, ok := suggest(name, known); ok {
		return fmt.Errorf("unknown %s %q, did you mean %q?", what, name, suggestion)
	}

	return fmt.Errorf("unknown %s %q", what, name)
}

// suggest returns the known name nearest to name, if any is within
// maxSuggestDistance edits. Ties go to the earlier entry.
func suggest(name string, known []string) (string, bool) {
	name = strings.ToLower(name)
	best, bestDist := "", maxSuggestDistance+1

	for _, k := range known {
		if d := editDistance(name, k); d < bestDist {
			best, bestDist = k, d
		}
	}

	return best, best != ""
}

// editDistance is the Levenshtein distance between a and b, counted in
// runes.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)

	// row[j] holds the distance between the current prefix of ra and rb[:j].
	row := make([]int, len(rb)+1)
	for j := range row {
		row[j] = j
	}

	for i, ca := range ra {
		diag := row[0]
		row[0] = i + 1

		for j, cb := range rb {
			sub := diag
			if ca != cb {
				sub++
			}

			diag = row[j+1]
			row[j+1] = min(row[j+1]+1, row[j]+1, sub)
		}
	}

	return row[len(rb)]
}
