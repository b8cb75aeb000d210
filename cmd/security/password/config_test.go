package password

import (
	"os"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	// Ensure env is clean for this test.
	clearEnv := []string{
		"NOTEKEEP_PASSWORD_MIN_LEN",
		"NOTEKEEP_PASSWORD_MAX_LEN",
		"NOTEKEEP_PASSWORD_REJECT_VERY_WEAK",
		"NOTEKEEP_ARGON2_MEMORY_KIB",
		"NOTEKEEP_ARGON2_ITERATIONS",
		"NOTEKEEP_ARGON2_PARALLELISM",
		"NOTEKEEP_ARGON2_SALT_LEN",
		"NOTEKEEP_ARGON2_KEY_LEN",
	}
	for _, k := range clearEnv {
		_ = os.Unsetenv(k)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	def := DefaultConfig()
	if cfg.Policy.MinLength != def.Policy.MinLength || cfg.Policy.MaxLength != 128 {
		t.Fatalf("length bounds mismatch: %+v", cfg.Policy)
	}
	if cfg.Params.Iterations < 3 || cfg.Params.Parallelism < 4 {
		t.Fatalf("cost below baseline: %+v", cfg.Params)
	}
	if cfg.Params.MemoryKiB != def.Params.MemoryKiB {
		t.Fatalf("memory mismatch")
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("NOTEKEEP_PASSWORD_MIN_LEN", "10")
	t.Setenv("NOTEKEEP_PASSWORD_MAX_LEN", "200")
	t.Setenv("NOTEKEEP_PASSWORD_REJECT_VERY_WEAK", "true")
	t.Setenv("NOTEKEEP_ARGON2_MEMORY_KIB", "131072")
	t.Setenv("NOTEKEEP_ARGON2_ITERATIONS", "4")
	t.Setenv("NOTEKEEP_ARGON2_PARALLELISM", "6")
	t.Setenv("NOTEKEEP_ARGON2_SALT_LEN", "24")
	t.Setenv("NOTEKEEP_ARGON2_KEY_LEN", "32")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 200 || !cfg.Policy.RejectVeryWeak {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 131072 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 6 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
	if cfg.Params.SaltLength != 24 || cfg.Params.KeyLength != 32 {
		t.Fatalf("len override failed: %+v", cfg.Params)
	}
}

func TestFromEnv_RejectsCostBelowFloor(t *testing.T) {
	t.Setenv("NOTEKEEP_ARGON2_MEMORY_KIB", "32768")

	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for memory below 64 MiB")
	}
}

func TestFromEnv_InvalidMinMax(t *testing.T) {
	t.Setenv("NOTEKEEP_PASSWORD_MIN_LEN", "20")
	t.Setenv("NOTEKEEP_PASSWORD_MAX_LEN", "10")

	_, err := FromEnv()
	if err == nil {
		t.Fatalf("expected error")
	}
}
