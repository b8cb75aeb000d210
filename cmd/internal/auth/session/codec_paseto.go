package session

import (
	"strings"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoV4PublicCodec struct {
	issuer string
	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicCodec builds a Codec on PASETO v4.public from a hex Ed25519 secret key.
func NewPasetoV4PublicCodec(issuer, secretKeyHex string) (Codec, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(secretKeyHex))
	if err != nil {
		return nil, ErrConfig
	}
	return &pasetoV4PublicCodec{
		issuer: issuer,
		secret: secret,
		public: secret.Public(),
	}, nil
}

// PublicKeyHex exports the verification key for other services.
func (c *pasetoV4PublicCodec) PublicKeyHex() string {
	return c.public.ExportHex()
}

func (c *pasetoV4PublicCodec) Encode(cl Claims) (string, error) {
	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetJti(cl.ID)
	tok.SetIssuedAt(cl.IssuedAt)
	tok.SetNotBefore(cl.IssuedAt)
	tok.SetExpiration(cl.ExpiresAt)

	if err := tok.Set("userId", cl.UserID); err != nil {
		return "", err
	}
	if err := tok.Set("iatUs", issuedAtMicros(cl.IssuedAt)); err != nil {
		return "", err
	}
	if cl.Kind == KindRefresh {
		if err := tok.Set("type", string(KindRefresh)); err != nil {
			return "", err
		}
	}

	return tok.V4Sign(c.secret, nil), nil
}

func (c *pasetoV4PublicCodec) Decode(tok string) (Claims, error) {
	if strings.TrimSpace(tok) == "" {
		return Claims{}, ErrInvalidToken
	}

	// Expiry is enforced by the Manager against its own clock.
	p := paseto.NewParserWithoutExpiryCheck()
	if c.issuer != "" {
		p.AddRule(paseto.IssuedBy(c.issuer))
	}

	parsed, err := p.ParseV4Public(c.public, tok, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("userId")
	if err != nil || uid == "" {
		return Claims{}, ErrInvalidToken
	}
	iat, err := parsed.GetIssuedAt()
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	kind := KindAccess
	if typ, err := parsed.GetString("type"); err == nil {
		if typ != string(KindRefresh) {
			return Claims{}, ErrInvalidToken
		}
		kind = KindRefresh
	}

	var us int64
	_ = parsed.Get("iatUs", &us)
	jti, _ := parsed.GetJti()
	iss, _ := parsed.GetIssuer()

	return Claims{
		UserID:    uid,
		Kind:      kind,
		ID:        jti,
		Issuer:    iss,
		IssuedAt:  fromMicros(us, iat.UTC()),
		ExpiresAt: exp.UTC(),
	}, nil
}
