// Package prefix turns the text in front of the editor cursor into a
// storage key prefix.
//
// Everything here is a pure text function so it can be tested without an
// editor or a bucket.
package prefix

import (
	"regexp"
	"strings"
)

// Triggers are the cursor contexts that activate completion: an open quote
// after a media src/srcset attribute (Vue bound or not), or an open url(
// expression, CSS background shorthands included.
var Triggers = []*regexp.Regexp{
	regexp.MustCompile(`(?:src|:src)=["'][^"']*$`),
	regexp.MustCompile(`(?:srcset|:srcset)=["'][^"']*$`),
	regexp.MustCompile(`url\(["']?[^"')]*$`),
	regexp.MustCompile(`background(?:-image)?:\s*url\(["']?[^"')]*$`),
}

var inputPattern = regexp.MustCompile(`["'(]([^"'()]*)$`)

// Options carries the configuration the normalizer depends on.
type Options struct {
	CDNDomain     string
	DefaultPrefix string
}

// Context is a resolved completion position.
type Context struct {
	// Input is what the user has typed inside the quotes or parens.
	Input string
	// SearchPrefix is the storage prefix to list.
	SearchPrefix string
}

// ShouldTrigger reports whether beforeCursor ends inside a completable
// path literal.
func ShouldTrigger(beforeCursor string) bool {
	for _, re := range Triggers {
		if re.MatchString(beforeCursor) {
			return true
		}
	}
	return false
}

// ExtractInput returns the text after the last quote or open paren, or ""
// when there is none.
func ExtractInput(beforeCursor string) string {
	m := inputPattern.FindStringSubmatch(beforeCursor)
	if m == nil {
		return ""
	}
	return m[1]
}

// Normalize maps typed input to the prefix whose children should be listed.
//
// The CDN domain is stripped when the input starts with it, comparing
// without http:// or https:// if the literal match fails. The default
// prefix is prepended unless already present. The partial file name after
// the last "/" is dropped, falling back to the default prefix when there is
// no "/". The result never starts with "/".
//
// Domain stripping is greedy: a domain that happens to be a literal prefix
// of unrelated input is still removed. The default prefix is compared with
// the remainder as stripped, so a CDN domain configured without a trailing
// "/" leaves "/img/..." and yields "assets//img/" for DefaultPrefix
// "assets/". Configure the domain with its trailing slash.
func Normalize(input string, opts Options) string {
	p := stripDomain(input, opts.CDNDomain)

	dp := opts.DefaultPrefix
	if dp != "" && !strings.HasPrefix(p, dp) {
		p = dp + p
	}

	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[:i+1]
	} else {
		p = dp
	}

	return strings.TrimLeft(p, "/")
}

// Resolve runs trigger detection, extraction and normalization. ok is false
// when beforeCursor is not a completion position.
func Resolve(beforeCursor string, opts Options) (Context, bool) {
	if !ShouldTrigger(beforeCursor) {
		return Context{}, false
	}
	input := ExtractInput(beforeCursor)
	return Context{
		Input:        input,
		SearchPrefix: Normalize(input, opts),
	}, true
}

func stripDomain(input, domain string) string {
	if domain == "" {
		return input
	}
	if strings.HasPrefix(input, domain) {
		return input[len(domain):]
	}

	bareDomain := stripScheme(domain)
	bareInput := stripScheme(input)
	if strings.HasPrefix(bareInput, bareDomain) {
		return bareInput[len(bareDomain):]
	}
	return input
}

func stripScheme(s string) string {
	if rest, ok := strings.CutPrefix(s, "https://"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(s, "http://"); ok {
		return rest
	}
	return s
}
