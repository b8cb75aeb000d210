package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

const phcPrefix = "$argon2id$v=19$"

var b64 = base64.RawStdEncoding

// phc is a decoded $argon2id$ PHC string.
type phc struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (p phc) String() string {
	return fmt.Sprintf("%sm=%d,t=%d,p=%d$%s$%s",
		phcPrefix,
		p.params.MemoryKiB, p.params.Iterations, p.params.Parallelism,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key),
	)
}

// Hash derives an Argon2id key with a fresh random salt and returns it in
// PHC form: $argon2id$v=19$m=<KiB>,t=<iter>,p=<par>$<salt>$<key>.
//
// Hash does not apply the composition rules; callers run Validate first.
// It only refuses oversized input so hashing cost stays bounded.
func (c Config) Hash(password string) (string, error) {
	if c.Policy.MaxLength > 0 && utf8.RuneCountInString(password) > c.Policy.MaxLength {
		return "", ErrPasswordTooLong
	}

	h := phc{params: c.Params, salt: make([]byte, c.Params.SaltLength)}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	h.key = derive(password, h.salt, h.params, c.Params.KeyLength)
	return h.String(), nil
}

// Verify reports whether password matches encodedHash.
// A malformed hash, or one whose cost exceeds twice the configured
// parameters, yields ErrInvalidHash.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	if !c.acceptsCost(h.params) {
		return false, ErrInvalidHash
	}

	got := derive(password, h.salt, h.params, h.params.KeyLength)
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// Matches reports whether password matches encodedHash. Any decoding or
// parameter error counts as a mismatch.
func (c Config) Matches(encodedHash, password string) bool {
	ok, err := c.Verify(encodedHash, password)
	return err == nil && ok
}

// NeedsRehash reports whether encodedHash was produced with parameters
// other than the current ones. Unparseable hashes always need a rehash.
func (c Config) NeedsRehash(encodedHash string) bool {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return true
	}
	want := c.Params
	return h.params.MemoryKiB != want.MemoryKiB ||
		h.params.Iterations != want.Iterations ||
		h.params.Parallelism != want.Parallelism ||
		h.params.SaltLength != want.SaltLength ||
		h.params.KeyLength != want.KeyLength
}

func derive(password string, salt []byte, p Argon2idParams, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLen)
}

// acceptsCost lets older, cheaper hashes verify while refusing stored
// strings that would make a single check far more expensive than a fresh one.
func (c Config) acceptsCost(got Argon2idParams) bool {
	lim := c.Params
	switch {
	case got.MemoryKiB > lim.MemoryKiB*2,
		got.Iterations > lim.Iterations*2,
		uint32(got.Parallelism) > uint32(lim.Parallelism)*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func parsePHC(encoded string) (phc, error) {
	rest, ok := strings.CutPrefix(encoded, phcPrefix)
	if !ok {
		return phc{}, ErrInvalidHash
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 3 {
		return phc{}, ErrInvalidHash
	}

	var h phc
	for _, kv := range strings.Split(fields[0], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return phc{}, ErrInvalidHash
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return phc{}, ErrInvalidHash
		}
		switch k {
		case "m":
			h.params.MemoryKiB = uint32(n)
		case "t":
			h.params.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return phc{}, ErrInvalidHash
			}
			h.params.Parallelism = uint8(n)
		default:
			return phc{}, ErrInvalidHash
		}
	}
	if h.params.MemoryKiB == 0 || h.params.Iterations == 0 || h.params.Parallelism == 0 {
		return phc{}, ErrInvalidHash
	}

	var err error
	if h.salt, err = b64.DecodeString(fields[1]); err != nil {
		return phc{}, ErrInvalidHash
	}
	if h.key, err = b64.DecodeString(fields[2]); err != nil {
		return phc{}, ErrInvalidHash
	}
	h.params.SaltLength = uint32(len(h.salt)) // #nosec G115 -- bounded by acceptsCost before use.
	h.params.KeyLength = uint32(len(h.key))   // #nosec G115 -- bounded by acceptsCost before use.
	return h, nil
}
