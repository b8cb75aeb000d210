package session

import "time"

// Kind distinguishes access from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the decoded token payload, independent of codec.
type Claims struct {
	UserID    string
	Kind      Kind
	ID        string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec signs and decodes Claims. Decode checks signature, issuer and shape
// only; expiry is the Manager's job so it can use an injected clock.
type Codec interface {
	Encode(c Claims) (string, error)
	Decode(tok string) (Claims, error)
}

// IssueResolution is the precision of issue times and the invalidation
// watermark. It matches Postgres timestamptz so a stored watermark and a
// token minted in the same millisecond still order correctly.
const IssueResolution = time.Microsecond

// issuedAtMicros keeps sub-second issue time. Registered iat has whole-second
// resolution, which is too coarse to order a login against a logout.
func issuedAtMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64, fallback time.Time) time.Time {
	if us <= 0 {
		return fallback
	}
	return time.UnixMicro(us).UTC()
}
