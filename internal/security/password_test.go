package security

import (
	"errors"
	"strings"
	"testing"
)

// testHasher keeps the KDF cheap so the suite stays fast; correctness does
// not depend on the work factor.
func testHasher() *Hasher {
	return NewHasher(Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1})
}

func TestHashAndVerifyRoundTrip(t *testing.T) {
	h := testHasher()

	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$") {
		t.Fatalf("unexpected hash format: %q", encoded)
	}

	ok, err := h.Verify("correct horse battery staple", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("correct password did not verify")
	}

	ok, err = h.Verify("wrong password", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Error("wrong password verified")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := testHasher()

	first, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	second, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if first == second {
		t.Error("two hashes of the same password should differ by salt")
	}
}

func TestVerifyUsesEmbeddedParams(t *testing.T) {
	// A hash produced under one parameter set must verify under a hasher
	// configured with another.
	encoded, err := testHasher().Hash("portable secret 1")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	other := NewHasher(Params{Memory: 16 * 1024, Iterations: 2, Parallelism: 2})
	ok, err := other.Verify("portable secret 1", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("hash did not verify under a differently tuned hasher")
	}
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	h := testHasher()

	malformed := []string{
		"",
		"plainly not a hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
	}
	for _, enc := range malformed {
		if _, err := h.Verify("anything", enc); !errors.Is(err, ErrHashFormat) {
			t.Errorf("Verify(%q) error = %v, want ErrHashFormat", enc, err)
		}
	}

	wrongVersion := "$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2g"
	if _, err := h.Verify("anything", wrongVersion); !errors.Is(err, ErrHashVersion) {
		t.Errorf("Verify(old version) error = %v, want ErrHashVersion", err)
	}
}

func TestDefaultParamsFillZeroFields(t *testing.T) {
	h := NewHasher(Params{})
	if h.params != DefaultParams() {
		t.Errorf("NewHasher(Params{}) params = %+v, want defaults %+v", h.params, DefaultParams())
	}

	partial := NewHasher(Params{Iterations: 5})
	if partial.params.Iterations != 5 {
		t.Errorf("iterations = %d, want 5", partial.params.Iterations)
	}
	if partial.params.Memory != DefaultParams().Memory {
		t.Errorf("memory = %d, want default %d", partial.params.Memory, DefaultParams().Memory)
	}
}

func TestCheckStrength(t *testing.T) {
	cases := []struct {
		password string
		ok       bool
	}{
		{"Str0ngEnough", true},
		{"sh0Rt", false},
		{"alllowercase1", false},
		{"ALLUPPERCASE1", false},
		{"NoDigitsHere", false},
		{"Digits4ndC4se", true},
	}
	for _, tc := range cases {
		err := CheckStrength(tc.password)
		if tc.ok && err != nil {
			t.Errorf("CheckStrength(%q) = %v, want nil", tc.password, err)
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("CheckStrength(%q) = nil, want error", tc.password)
			} else if !errors.Is(err, ErrWeakPassword) {
				t.Errorf("CheckStrength(%q) = %v, want ErrWeakPassword", tc.password, err)
			}
		}
	}
}

func TestConvenienceHelpers(t *testing.T) {
	// The package-level helpers run the full default work factor, so one
	// round trip is enough.
	encoded, err := HashPassword("Package Level 9")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	ok, err := VerifyPassword("Package Level 9", encoded)
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if !ok {
		t.Error("password did not verify via package helpers")
	}
}
