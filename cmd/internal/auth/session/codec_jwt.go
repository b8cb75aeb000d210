package session

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type jwtClaims struct {
	UserID     string `json:"userId"`
	Type       string `json:"type,omitempty"`
	IssuedAtUs int64  `json:"iatUs,omitempty"`
	jwt.RegisteredClaims
}

type jwtCodec struct {
	issuer string
	secret []byte
}

// MinJWTSecretBytes is the smallest HS256 secret accepted.
const MinJWTSecretBytes = 32

// NewJWTCodec builds an HS256 Codec. The secret must be at least MinJWTSecretBytes.
func NewJWTCodec(issuer string, secret []byte) (Codec, error) {
	if len(secret) < MinJWTSecretBytes {
		return nil, ErrConfig
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &jwtCodec{issuer: issuer, secret: s}, nil
}

func (c *jwtCodec) Encode(cl Claims) (string, error) {
	claims := jwtClaims{
		UserID:     cl.UserID,
		IssuedAtUs: issuedAtMicros(cl.IssuedAt),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        cl.ID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(cl.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cl.ExpiresAt),
		},
	}
	if cl.Kind == KindRefresh {
		claims.Type = string(KindRefresh)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *jwtCodec) Decode(tok string) (Claims, error) {
	if strings.TrimSpace(tok) == "" {
		return Claims{}, ErrInvalidToken
	}

	var claims jwtClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	if claims.UserID == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return Claims{}, ErrInvalidToken
	}

	kind := KindAccess
	switch claims.Type {
	case "":
	case string(KindRefresh):
		kind = KindRefresh
	default:
		return Claims{}, ErrInvalidToken
	}

	iat := claims.IssuedAt.Time.UTC()
	return Claims{
		UserID:    claims.UserID,
		Kind:      kind,
		ID:        claims.ID,
		Issuer:    claims.Issuer,
		IssuedAt:  fromMicros(claims.IssuedAtUs, iat),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

