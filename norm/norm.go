// Package norm folds artist, track, and album names into comparable forms.
// Provider catalogs disagree on punctuation, diacritics, and featuring
// credits, so all matching goes through these helpers first.
package norm

import (
	"regexp"
	"strings"

	"github.com/rainycape/unidecode"
)

var nonWord = regexp.MustCompile(`\W+`)

// Normalize lowercases, transliterates to ASCII, and collapses punctuation
// runs to single spaces. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = unidecode.Unidecode(s)
	s = strings.ToLower(s)
	s = nonWord.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

var (
	featParens   = regexp.MustCompile(`(?i)\s*\(feat\..*?\)`)
	featBrackets = regexp.MustCompile(`(?i)\s*\[feat\..*?\]`)
	parens       = regexp.MustCompile(`\s*\([^)]*\)`)
	brackets     = regexp.MustCompile(`\s*\[[^\]]*\]`)
)

var titleSuffixes = []string{
	" (Official Music Video)", " (Official Video)", " (Live)", " (Remix)",
	" (Extended Mix)", " (Radio Edit)", " (Acoustic)", " (Instrumental)",
	" (Lyric Video)", " (Visualizer)", " (Audio)", " (Album Version)",
	" (Single Version)", " (Original Mix)",
}

// CleanTitle strips parenthesised qualifiers and well known release
// suffixes from a track title so that catalog searches hit the plain
// recording instead of a video or edit.
func CleanTitle(title string) string {
	title = featParens.ReplaceAllString(title, "")
	title = featBrackets.ReplaceAllString(title, "")
	title = parens.ReplaceAllString(title, "")
	title = brackets.ReplaceAllString(title, "")
	for _, suffix := range titleSuffixes {
		if strings.HasSuffix(strings.ToLower(title), strings.ToLower(suffix)) {
			title = title[:len(title)-len(suffix)]
		}
	}
	return strings.TrimSpace(title)
}

var featCredit = regexp.MustCompile(`(?i)\s+(?:feat\.?|featuring|ft\.?)\s+.*`)

// StripFeat drops a trailing featuring credit from an artist name.
func StripFeat(artist string) string {
	return strings.TrimSpace(featCredit.ReplaceAllString(artist, ""))
}
