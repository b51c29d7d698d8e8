package attachment

import (
	"context"
	"net/url"
	"strings"
)

// StaticResolver builds download links under a fixed base URL, for file
// stores that serve objects directly by reference.
type StaticResolver struct {
	base string
}

func NewStaticResolver(baseURL string) *StaticResolver {
	return &StaticResolver{base: strings.TrimRight(baseURL, "/")}
}

func (s *StaticResolver) ResolveURL(ctx context.Context, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || s.base == "" {
		return "", false
	}
	return s.base + "/" + url.PathEscape(ref), true
}
