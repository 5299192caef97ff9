package richtext

import (
	"net/url"
	"regexp"
	"strings"
)

// internalPagePattern matches provider-relative page links such as
// "/Some-Title-0123456789abcdef0123456789abcdef" or "/0123...cdef?pvs=4".
var internalPagePattern = regexp.MustCompile(`^/(?:[^/?#]*-)?([0-9a-fA-F]{32})(?:[?#].*)?$`)

// allowedSchemes are the only external link schemes emitted into markup.
var allowedSchemes = map[string]struct{}{
	"http":   {},
	"https":  {},
	"mailto": {},
}

// RewriteLink maps provider-internal page links to in-panel page anchors and
// keeps in-panel anchors and http, https and mailto URLs. Anything else returns "" so the text
// renders unlinked.
func RewriteLink(link string) string {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return ""
	}

	if matches := internalPagePattern.FindStringSubmatch(trimmed); len(matches) == 2 {
		return "#page/" + strings.ToLower(matches[1])
	}
	if strings.HasPrefix(trimmed, "#page/") {
		return trimmed
	}

	return ExternalURL(trimmed)
}

// ExternalURL returns link when it is an absolute http, https or mailto URL
// and "" otherwise.
func ExternalURL(link string) string {
	trimmed := strings.TrimSpace(link)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	if _, allowed := allowedSchemes[strings.ToLower(parsed.Scheme)]; !allowed {
		return ""
	}

	return trimmed
}
