// Package company implements canonical-identity resolution for researched
// companies: slug derivation, normalized-name matching, alias fallback, and
// the referential merge of duplicate records.
package company

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes lists common legal entity suffixes stripped during name
// normalization so "Acme Advisors LLC" and "Acme Advisors" match.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" LP", " L.P.", " L.P",
	" LLP", " L.L.P.", " L.L.P",
	" GMBH", " AG", " SARL", " S.A.", " SA", " BV", " B.V.",
	" CO", " CO.",
	" PLC", " P.L.C.",
	" DBA", " D/B/A",
}

var (
	multiSpaceRe  = regexp.MustCompile(`\s{2,}`)
	slugInvalidRe = regexp.MustCompile(`[^a-z0-9]+`)
	slugHyphenRe  = regexp.MustCompile(`-{2,}`)
)

var punctReplacer = strings.NewReplacer(
	",", "",
	".", "",
	"'", "",
	"\"", "",
	"&", "AND",
	"-", " ",
	"/", " ",
)

// NormalizeName standardizes a company name for matching:
//  1. Trim whitespace and fold diacritics
//  2. Uppercase
//  3. Strip a trailing legal suffix (LLC, Inc, GmbH, ...)
//  4. Strip punctuation, mapping "&" to "AND"
//  5. Collapse runs of spaces
func NormalizeName(name string) string {
	name = foldDiacritics(strings.TrimSpace(name))
	if name == "" {
		return ""
	}

	name = strings.ToUpper(name)

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = punctReplacer.Replace(name)
	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// Slug derives the immutable company id from a display name: lowercase,
// "&" to "and", punctuation dropped, whitespace and hyphen runs collapsed
// to single hyphens. Slug("Acme & Co.") == "acme-and-co".
func Slug(name string) string {
	s := strings.ToLower(foldDiacritics(strings.TrimSpace(name)))
	s = strings.ReplaceAll(s, "&", " and ")
	s = strings.ReplaceAll(s, "'", "")
	s = slugInvalidRe.ReplaceAllString(s, "-")
	s = slugHyphenRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// foldDiacritics decomposes accented characters and drops the combining
// marks, so "Café" and "Cafe" normalize identically.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// placeholderPrefix marks companies whose name could not be extracted; the
// pipeline still persists a record under a synthesized name.
const placeholderPrefix = "<UNKNOWN "

// PlaceholderName synthesizes a unique stand-in name from a high-resolution
// timestamp.
func PlaceholderName(now time.Time) string {
	return fmt.Sprintf("%s%d>", placeholderPrefix, now.UnixMicro())
}

// IsPlaceholder reports whether a name was synthesized by PlaceholderName.
func IsPlaceholder(name string) bool {
	return strings.HasPrefix(name, placeholderPrefix)
}
