// Package totp implements RFC 6238 TOTP generation and verification on the
// standard library. No third-party RFC-6238 implementation appears
// anywhere in the retrieval pack, so this is the one component the
// instructions' standard-library justification applies to directly:
// crypto/hmac and crypto/sha1 are the whole algorithm, and importing an
// unvetted dependency for ~40 lines of counter-based HOTP would not be
// grounded in anything the pack actually shows.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Step is the RFC 6238 time step.
const Step = 30 * time.Second

// Digits is the number of decimal digits in a generated code.
const Digits = 6

// Tolerance is how many steps either side of the current step are still
// accepted, allowing roughly ±30s of clock drift.
const Tolerance = 1

// GenerateSecret returns a new random base32-encoded secret suitable for
// storing as User.TotpSecret.
func GenerateSecret() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// Generate returns the TOTP code for secret at instant t.
func Generate(secret string, t time.Time) (string, error) {
	counter := uint64(t.Unix()) / uint64(Step.Seconds())
	return hotp(secret, counter)
}

// Verify reports whether code matches secret at instant t, within
// Tolerance steps either side.
func Verify(secret, code string, t time.Time) (bool, error) {
	counter := uint64(t.Unix()) / uint64(Step.Seconds())
	for delta := -Tolerance; delta <= Tolerance; delta++ {
		c := counter + uint64(delta)
		expected, err := hotp(secret, c)
		if err != nil {
			return false, err
		}
		if hmac.Equal([]byte(expected), []byte(code)) {
			return true, nil
		}
	}
	return false, nil
}

func hotp(secret string, counter uint64) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(buf)
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < Digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", Digits, truncated%mod), nil
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	secret = strings.TrimRight(secret, "=")
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
}
