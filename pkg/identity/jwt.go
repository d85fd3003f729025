package identity

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultTokenCacheSize = 1024

// JWTConfig configures the bearer token resolver.
type JWTConfig struct {
	// Secret is the HMAC signing key.
	Secret []byte
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// Audience, when set, must match one of the token's aud values.
	Audience string
	// CacheSize bounds the verified-token cache. Zero means the
	// default size.
	CacheSize int
	// CacheTTL bounds how long a verified token is remembered. It
	// should stay well below the token lifetime; zero disables the
	// cache.
	CacheTTL time.Duration
}

// JWTResolver extracts the user ID from the subject claim of a signed
// bearer token. Verified tokens are cached so hot callers do not pay
// the HMAC check on every request; entries expire from the cache
// before any reasonable token lifetime ends.
type JWTResolver struct {
	cfg    JWTConfig
	parser *jwt.Parser
	cache  *expirable.LRU[string, string]
}

// NewJWTResolver creates a resolver for HS256-signed bearer tokens.
func NewJWTResolver(cfg JWTConfig) (*JWTResolver, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	r := &JWTResolver{
		cfg:    cfg,
		parser: jwt.NewParser(opts...),
	}
	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = defaultTokenCacheSize
		}
		r.cache = expirable.NewLRU[string, string](size, nil, cfg.CacheTTL)
	}

	return r, nil
}

// Resolve validates the Authorization bearer token and returns its
// subject.
func (j *JWTResolver) Resolve(r *http.Request) (string, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return "", err
	}

	if j.cache != nil {
		if subject, ok := j.cache.Get(raw); ok {
			return subject, nil
		}
	}

	token, err := j.parser.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return j.cfg.Secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token has no subject")
	}

	if j.cache != nil {
		j.cache.Add(raw, subject)
	}

	return subject, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", fmt.Errorf("Authorization header is not a bearer token")
	}
	return token, nil
}
