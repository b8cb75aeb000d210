package password

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// DefaultSymbols is the set of characters that satisfy the symbol rule.
const DefaultSymbols = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int

	RequireLower  bool
	RequireUpper  bool
	RequireDigit  bool
	RequireSymbol bool

	// Symbols is the allowed symbol set for RequireSymbol.
	Symbols string

	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the production baseline: 64 MiB, t=3, p=4.
func DefaultConfig() Config {
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: 4,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:     8,
			MaxLength:     128,
			RequireLower:  true,
			RequireUpper:  true,
			RequireDigit:  true,
			RequireSymbol: true,
			Symbols:       DefaultSymbols,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - NOTEKEEP_PASSWORD_MIN_LEN
// - NOTEKEEP_PASSWORD_MAX_LEN
// - NOTEKEEP_PASSWORD_REJECT_VERY_WEAK (true/false)
// - NOTEKEEP_ARGON2_MEMORY_KIB
// - NOTEKEEP_ARGON2_ITERATIONS
// - NOTEKEEP_ARGON2_PARALLELISM
// - NOTEKEEP_ARGON2_SALT_LEN
// - NOTEKEEP_ARGON2_KEY_LEN
//
// Cost overrides may not go below the 64 MiB / t=3 / p=4 floor.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("NOTEKEEP_PASSWORD_MIN_LEN"); ok {
		n, err := atoiPositiveInt(v, 8, 1024)
		if err != nil {
			return Config{}, fmt.Errorf("NOTEKEEP_PASSWORD_MIN_LEN: %w", err)
		}
		cfg.Policy.MinLength = n
	}

	if v, ok := os.LookupEnv("NOTEKEEP_PASSWORD_MAX_LEN"); ok {
		n, err := atoiPositiveInt(v, 8, 4096)
		if err != nil {
			return Config{}, fmt.Errorf("NOTEKEEP_PASSWORD_MAX_LEN: %w", err)
		}
		cfg.Policy.MaxLength = n
	}

	if v, ok := os.LookupEnv("NOTEKEEP_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("NOTEKEEP_PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if v, ok := os.LookupEnv("NOTEKEEP_ARGON2_MEMORY_KIB"); ok {
		u, err := atou32(v, 64*1024, 1024*1024) // 64 MiB .. 1 GiB
		if err != nil {
			return Config{}, fmt.Errorf("NOTEKEEP_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = u
	}

	if v, ok := os.LookupEnv("NOTEKEEP_ARGON2_ITERATIONS"); ok {
		u, err := atou32(v, 3, 20)
		if err != nil {
			return Config{}, fmt.Errorf("NOTEKEEP_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = u
	}

	if v, ok := os.LookupEnv("NOTEKEEP_ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 4, 64)
		if err != nil {
			return Config{}, fmt.Errorf("NOTEKEEP_ARGON2_PARALLELISM: %w", err)
		}
		p, err := u32ToU8(u)
		if err != nil {
			return Config{}, fmt.Errorf("NOTEKEEP_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = p
	}

	if v, ok := os.LookupEnv("NOTEKEEP_ARGON2_SALT_LEN"); ok {
		u, err := atou32(v, 16, 64)
		if err != nil {
			return Config{}, fmt.Errorf("NOTEKEEP_ARGON2_SALT_LEN: %w", err)
		}
		cfg.Params.SaltLength = u
	}

	if v, ok := os.LookupEnv("NOTEKEEP_ARGON2_KEY_LEN"); ok {
		u, err := atou32(v, 16, 64)
		if err != nil {
			return Config{}, fmt.Errorf("NOTEKEEP_ARGON2_KEY_LEN: %w", err)
		}
		cfg.Params.KeyLength = u
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func atoiPositiveInt(s string, minVal, maxVal int) (int, error) {
	s = strings.TrimSpace(s)
	i64, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}

	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	s = strings.TrimSpace(s)
	u64, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}

	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean")
	}
}
