// Package identity resolves the calling user from incoming HTTP
// requests. Resolvers plug into the authorization middleware; they
// answer "who is calling", never "what may they do".
package identity

import (
	"fmt"
	"net/http"
)

// DefaultUserHeader is the header trusted by the header resolver.
const DefaultUserHeader = "X-User-ID"

// HeaderResolver trusts a request header to carry the user ID. Meant
// for deployments behind an authenticating proxy that strips and
// rewrites the header.
type HeaderResolver struct {
	Header string
}

// NewHeaderResolver creates a resolver over the given header, falling
// back to DefaultUserHeader.
func NewHeaderResolver(header string) *HeaderResolver {
	if header == "" {
		header = DefaultUserHeader
	}
	return &HeaderResolver{Header: header}
}

// Resolve returns the header value, or an error when it is absent.
func (h *HeaderResolver) Resolve(r *http.Request) (string, error) {
	userID := r.Header.Get(h.Header)
	if userID == "" {
		return "", fmt.Errorf("missing %s header", h.Header)
	}
	return userID, nil
}
