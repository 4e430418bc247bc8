package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/izik-adio/zik-back-sub000/pkg/contracts"
)

// ErrMissingSubject is returned for a valid token without a "sub" claim.
var ErrMissingSubject = errors.New("token has no subject")

// JWTProvider validates HS256 bearer tokens. The token subject becomes the
// owner of every entity the request touches.
//
// Config: QUEST_AUTH_JWT_SECRET, optional QUEST_AUTH_JWT_ISSUER.
type JWTProvider struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// questClaims are the claims read from (and written to) tokens.
type questClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTProvider creates a JWT provider. An empty secret disables it.
func NewJWTProvider(secret, issuer string) *JWTProvider {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTProvider{
		secret: []byte(secret),
		issuer: issuer,
		parser: jwt.NewParser(opts...),
	}
}

func (p *JWTProvider) Name() string { return "jwt" }

func (p *JWTProvider) Enabled() bool { return len(p.secret) > 0 }

// Authenticate validates "Authorization: Bearer <token>". Requests without
// a bearer token are left to the next provider.
func (p *JWTProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, nil
	}

	claims := &questClaims{}
	_, err := p.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	identity := &contracts.Identity{
		Subject:     claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		Provider:    p.Name(),
		Claims:      map[string]string{"iss": claims.Issuer},
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// Issue signs a token for subject valid for ttl. Used by the CLI to mint
// development tokens and by tests.
func (p *JWTProvider) Issue(subject, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := questClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// ── Dev provider ────────────────────────────────────────────

// DevUserHeader names the caller when auth is not required.
const DevUserHeader = "X-Quest-User"

// DevProvider trusts DevUserHeader. It is registered only when
// auth.require-auth is false.
type DevProvider struct{}

func (DevProvider) Name() string  { return "dev" }
func (DevProvider) Enabled() bool { return true }

func (DevProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	user := strings.TrimSpace(r.Header.Get(DevUserHeader))
	if user == "" {
		return nil, nil
	}
	return &contracts.Identity{Subject: user, Provider: "dev"}, nil
}

var (
	_ contracts.AuthProvider = (*JWTProvider)(nil)
	_ contracts.AuthProvider = DevProvider{}
)
