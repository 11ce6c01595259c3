// Package modelsuggest finds the closest known model name to an
// unrecognized one, for a more useful "model not found" error.
package modelsuggest

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Nearest returns the candidate closest to want by edit distance, and
// whether any candidate was close enough to be worth suggesting. Ties
// are broken by candidates' order (first one wins), matching the
// registration order the caller passes them in.
func Nearest(want string, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	wantLower := strings.ToLower(want)
	best := candidates[0]
	bestDistance := levenshtein.ComputeDistance(wantLower, strings.ToLower(best))

	for _, c := range candidates[1:] {
		d := levenshtein.ComputeDistance(wantLower, strings.ToLower(c))
		if d < bestDistance {
			bestDistance = d
			best = c
		}
	}

	// A distance larger than the wanted string itself means the closest
	// candidate isn't a plausible typo of it — not worth suggesting.
	if bestDistance > len(wantLower) {
		return "", false
	}
	return best, true
}
