package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type discriminators embedded in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the signed payload of both access and refresh tokens.
type Claims struct {
	Email       string        `json:"email,omitempty"`
	Name        string        `json:"name,omitempty"`
	Role        Role          `json:"role,omitempty"`
	Permissions PermissionSet `json:"permissions,omitempty"`
	TokenType   string        `json:"type"`
	jwt.RegisteredClaims
}

// CodecConfig carries the process-wide signing configuration. It is passed
// explicitly into NewCodec; there is no hidden package-level secret, which
// keeps tests free to use distinct keys.
type CodecConfig struct {
	// Secret signs and verifies tokens with HMAC-SHA256. Required.
	Secret string
	// Issuer is stamped into and checked against the iss claim.
	Issuer string
}

// Codec signs and verifies compact self-contained bearer tokens.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewCodec builds a Codec. A missing secret is a construction error, not a
// silent fallback.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is not configured")
	}
	return &Codec{
		secret: []byte(secret),
		issuer: strings.TrimSpace(cfg.Issuer),
		now:    time.Now,
	}, nil
}

// Mint signs the claims with a fresh jti and the given lifetime.
func (c *Codec) Mint(claims Claims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be greater than zero")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("auth: subject is required")
	}
	if claims.TokenType != TokenTypeAccess && claims.TokenType != TokenTypeRefresh {
		return "", fmt.Errorf("auth: unsupported token type %q", claims.TokenType)
	}

	now := c.now().UTC()
	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature integrity first, then expiry, then structural
// completeness of the required claims.
func (c *Codec) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := c.validate(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *Codec) validate(claims *Claims) error {
	if c.issuer != "" && claims.Issuer != c.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(claims.ID) == "" {
		return errors.New("jti missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.TokenType != TokenTypeAccess && claims.TokenType != TokenTypeRefresh {
		return fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
