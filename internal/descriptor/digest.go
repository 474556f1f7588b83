package descriptor

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// SkipSentinel disables integrity verification for a descriptor. It is
// accepted with or without a leading colon.
const SkipSentinel = "no_check"

const (
	SHA256 = "sha256"
	SHA512 = "sha512"
)

// Digest is a parsed integrityDigest value.
type Digest struct {
	Algorithm string
	Hex       string
	Skip      bool
}

// ParseDigest accepts "sha256:<hex>", "sha512:<hex>", bare 64 or 128 hex
// characters, and the skip sentinel.
func ParseDigest(s string) (Digest, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Digest{}, fmt.Errorf("missing digest")
	}
	if s == SkipSentinel || s == ":"+SkipSentinel {
		return Digest{Skip: true}, nil
	}

	algo, value, found := strings.Cut(s, ":")
	if !found {
		value = s
		switch len(value) {
		case 64:
			algo = SHA256
		case 128:
			algo = SHA512
		default:
			return Digest{}, fmt.Errorf("digest %q has unexpected length %d", s, len(value))
		}
	}

	algo = strings.ToLower(algo)
	value = strings.ToLower(value)
	want := 0
	switch algo {
	case SHA256:
		want = 64
	case SHA512:
		want = 128
	default:
		return Digest{}, fmt.Errorf("unsupported digest algorithm %q", algo)
	}
	if len(value) != want {
		return Digest{}, fmt.Errorf("%s digest must be %d hex characters, got %d", algo, want, len(value))
	}
	if _, err := hex.DecodeString(value); err != nil {
		return Digest{}, fmt.Errorf("digest %q is not hexadecimal", value)
	}
	return Digest{Algorithm: algo, Hex: value}, nil
}

func (d Digest) String() string {
	if d.Skip {
		return SkipSentinel
	}
	return d.Algorithm + ":" + d.Hex
}
