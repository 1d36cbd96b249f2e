package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/axolop/axolop-crm/internal/shared"
)

// ErrInvalidToken indicates the bearer token is malformed, expired or not
// signed by the configured secret.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the payload of session tokens issued by the hosted auth backend.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwtlib.RegisteredClaims
}

// Authenticator validates HS256 session tokens and extracts the caller.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	clock    func() time.Time
}

// NewAuthenticator constructs an Authenticator. Empty issuer or audience skip
// the corresponding claim check.
func NewAuthenticator(secret, issuer, audience string) *Authenticator {
	return &Authenticator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		clock:    time.Now,
	}
}

// WithClock overrides the clock used for expiry checks.
func (a *Authenticator) WithClock(clock func() time.Time) {
	if a != nil && clock != nil {
		a.clock = clock
	}
}

// Authenticate parses token and returns the identity it was issued to.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (shared.Identity, error) {
	if a == nil || len(a.secret) == 0 {
		return shared.Identity{}, fmt.Errorf("%w: authenticator not configured", ErrInvalidToken)
	}
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithTimeFunc(a.clock),
		jwtlib.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.audience))
	}
	parsed, err := jwtlib.ParseWithClaims(strings.TrimSpace(token), &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return shared.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return shared.Identity{}, ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return shared.Identity{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	return shared.Identity{UserID: userID, Email: claims.Email}, nil
}

// Issue signs a session token for id. The hosted backend issues production
// tokens; Issue serves local seeding and tests.
func (a *Authenticator) Issue(id shared.Identity, ttl time.Duration) (string, time.Time, error) {
	if a == nil || len(a.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("%w: authenticator not configured", ErrInvalidToken)
	}
	now := a.clock()
	expires := now.Add(ttl)
	claims := Claims{
		Email: id.Email,
		Role:  "authenticated",
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   id.UserID.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expires),
		},
	}
	if a.audience != "" {
		claims.Audience = jwtlib.ClaimStrings{a.audience}
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
