// Package match resolves derived student identities against roster rows.
//
// Matching runs as an ordered cascade: the first strategy to produce a result
// wins. Stricter strategies come first so a confident exact match is never
// overridden by a noisier fuzzy one. When nothing matches, the caller treats
// the submission as a new student, never as an error.
package match

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/gradekit/gradekit-api/internal/models"
)

// Strategy names, reported for diagnostics and metrics.
const (
	StrategyExact             = "exact_full_name"
	StrategyFirstLastConcat   = "first_last_concat"
	StrategyCommaReversed     = "comma_reversed"
	StrategyTokenOverlap      = "token_overlap"
	StrategyNormalizedSubstr  = "normalized_substring"
	StrategyFuzzyTokens       = "fuzzy_tokens"
	StrategyFolderCleanup     = "folder_cleanup"
	StrategyFirstLastTokens   = "first_last_tokens"
	StrategyEditDistance      = "edit_distance"
)

// levenshteinThreshold is the minimum normalized similarity for the final
// edit-distance fallback.
const levenshteinThreshold = 0.7

// Matcher resolves identities against a roster.
type Matcher struct{}

// NewMatcher constructs a Matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

type strategy struct {
	name string
	fn   func(models.DerivedIdentity, []models.RosterRow) int
}

var cascade = []strategy{
	{StrategyExact, matchExact},
	{StrategyFirstLastConcat, matchFirstLastConcat},
	{StrategyCommaReversed, matchCommaReversed},
	{StrategyTokenOverlap, matchTokenOverlap},
	{StrategyNormalizedSubstr, matchNormalizedSubstring},
	{StrategyFuzzyTokens, matchFuzzyTokens},
	{StrategyFolderCleanup, matchFolderCleanup},
	{StrategyFirstLastTokens, matchFirstLastTokens},
	{StrategyEditDistance, matchEditDistance},
}

// Match returns the index of the matched roster row and the name of the
// strategy that produced it, or (-1, "") when no strategy matched.
func (m *Matcher) Match(identity models.DerivedIdentity, rows []models.RosterRow) (int, string) {
	if strings.TrimSpace(identity.FullName) == "" || len(rows) == 0 {
		return -1, ""
	}
	for _, s := range cascade {
		if idx := s.fn(identity, rows); idx >= 0 {
			return idx, s.name
		}
	}
	return -1, ""
}

// 1. Exact full-name match, case-insensitive and trimmed.
func matchExact(id models.DerivedIdentity, rows []models.RosterRow) int {
	want := fold(id.FullName)
	for i, row := range rows {
		if fold(row.FullName) == want {
			return i
		}
	}
	return -1
}

// 2. Roster firstName + " " + lastName equals the derived full name.
func matchFirstLastConcat(id models.DerivedIdentity, rows []models.RosterRow) int {
	want := fold(id.FullName)
	for i, row := range rows {
		if row.FirstName == "" && row.LastName == "" {
			continue
		}
		if fold(row.FirstName+" "+row.LastName) == want {
			return i
		}
	}
	return -1
}

// 3. "Last, First" reversal when the derived name contains a comma.
func matchCommaReversed(id models.DerivedIdentity, rows []models.RosterRow) int {
	name := strings.TrimSpace(id.FullName)
	comma := strings.Index(name, ",")
	if comma < 0 {
		return -1
	}
	last := fold(name[:comma])
	first := fold(name[comma+1:])
	if first == "" || last == "" {
		return -1
	}
	reversed := first + " " + last
	for i, row := range rows {
		if fold(row.FirstName) == first && fold(row.LastName) == last {
			return i
		}
		if fold(row.FullName) == reversed {
			return i
		}
	}
	return -1
}

// 4. Count of derived-name tokens present in the roster name's token set;
// highest positive score wins.
func matchTokenOverlap(id models.DerivedIdentity, rows []models.RosterRow) int {
	derived := tokens(id.FullName)
	if len(derived) == 0 {
		return -1
	}
	best, bestScore := -1, 0
	for i, row := range rows {
		set := make(map[string]struct{})
		for _, tok := range tokens(row.FullName) {
			set[tok] = struct{}{}
		}
		score := 0
		for _, tok := range derived {
			if _, ok := set[tok]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// 5. Strip all non-alphanumerics and check containment either direction;
// accept when the length ratio exceeds 0.5.
func matchNormalizedSubstring(id models.DerivedIdentity, rows []models.RosterRow) int {
	derived := normalize(id.FullName)
	if derived == "" {
		return -1
	}
	best, bestScore := -1, 0.5
	for i, row := range rows {
		roster := normalize(row.FullName)
		if roster == "" {
			continue
		}
		if !strings.Contains(derived, roster) && !strings.Contains(roster, derived) {
			continue
		}
		shorter, longer := len(derived), len(roster)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		score := float64(shorter) / float64(longer)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// 6. Pairwise comparison of tokens longer than two characters; a pair counts
// when equal or one contains the other. Highest nonzero hit count wins.
func matchFuzzyTokens(id models.DerivedIdentity, rows []models.RosterRow) int {
	derived := longTokens(id.FullName)
	if len(derived) == 0 {
		return -1
	}
	best, bestHits := -1, 0
	for i, row := range rows {
		roster := longTokens(row.FullName)
		hits := 0
		for _, d := range derived {
			for _, r := range roster {
				if d == r || strings.Contains(d, r) || strings.Contains(r, d) {
					hits++
					break
				}
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	return best
}

// 7. Strip LMS suffix markers and numeric ID suffixes from the folder-derived
// name, then exact- or substring-match against roster names.
func matchFolderCleanup(id models.DerivedIdentity, rows []models.RosterRow) int {
	cleaned := fold(CleanFolderName(id.FullName))
	if cleaned == "" {
		return -1
	}
	for i, row := range rows {
		roster := fold(row.FullName)
		if roster == cleaned {
			return i
		}
		if roster != "" && (strings.Contains(cleaned, roster) || strings.Contains(roster, cleaned)) {
			return i
		}
	}
	return -1
}

// 8. Compare only the first and last whitespace-delimited tokens, tolerating
// middle names and initials in between.
func matchFirstLastTokens(id models.DerivedIdentity, rows []models.RosterRow) int {
	derived := tokens(id.FullName)
	if len(derived) < 2 {
		return -1
	}
	dFirst, dLast := derived[0], derived[len(derived)-1]
	for i, row := range rows {
		roster := tokens(row.FullName)
		if len(roster) < 2 {
			continue
		}
		if roster[0] == dFirst && roster[len(roster)-1] == dLast {
			return i
		}
	}
	return -1
}

// 9. Normalized Levenshtein similarity as the general-purpose fallback.
func matchEditDistance(id models.DerivedIdentity, rows []models.RosterRow) int {
	derived := fold(id.FullName)
	if derived == "" {
		return -1
	}
	best, bestScore := -1, levenshteinThreshold
	for i, row := range rows {
		roster := fold(row.FullName)
		if roster == "" {
			continue
		}
		longer := len(derived)
		if len(roster) > longer {
			longer = len(roster)
		}
		dist := levenshtein.ComputeDistance(derived, roster)
		score := 1.0 - float64(dist)/float64(longer)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

var (
	lmsSuffixPattern  = regexp.MustCompile(`(?i)_(assignsubmission|onlinetext|file)(_.*)?$`)
	numericIDPattern  = regexp.MustCompile(`_\d+$`)
	nonAlphanumerics  = regexp.MustCompile(`[^a-z0-9]+`)
	whitespaceSplitRe = regexp.MustCompile(`\s+`)
)

// CleanFolderName strips LMS export markers and trailing numeric IDs from a
// folder-derived name, e.g. "Jane Smith_4821_assignsubmission_file" -> "Jane Smith".
func CleanFolderName(name string) string {
	cleaned := strings.TrimSpace(name)
	for {
		next := lmsSuffixPattern.ReplaceAllString(cleaned, "")
		next = numericIDPattern.ReplaceAllString(next, "")
		if next == cleaned {
			break
		}
		cleaned = next
	}
	return strings.TrimSpace(cleaned)
}

// DeriveIdentity computes a student identity from a submission bucket key.
func DeriveIdentity(bucketKey string) models.DerivedIdentity {
	name := CleanFolderName(bucketKey)
	identity := models.DerivedIdentity{FullName: name}

	if comma := strings.Index(name, ","); comma >= 0 {
		identity.LastName = strings.TrimSpace(name[:comma])
		identity.FirstName = strings.TrimSpace(name[comma+1:])
	} else if parts := tokens(name); len(parts) >= 2 {
		identity.FirstName = parts[0]
		identity.LastName = parts[len(parts)-1]
	}

	return identity
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func tokens(s string) []string {
	var out []string
	for _, tok := range whitespaceSplitRe.Split(fold(s), -1) {
		tok = strings.Trim(tok, ",.")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func longTokens(s string) []string {
	var out []string
	for _, tok := range tokens(s) {
		if len(tok) > 2 {
			out = append(out, tok)
		}
	}
	return out
}

func normalize(s string) string {
	return nonAlphanumerics.ReplaceAllString(fold(s), "")
}
