package protocol

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// DefaultScheme is used when the connection file leaves signature_scheme empty.
const DefaultScheme = "hmac-sha256"

// Signer computes and checks hex HMAC digests over the signed frames.
type Signer struct {
	key     []byte
	newHash func() hash.Hash
}

// NewSigner returns a signer for scheme. An empty key disables signing.
func NewSigner(scheme string, key []byte) (*Signer, error) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" {
		scheme = DefaultScheme
	}

	var newHash func() hash.Hash
	switch scheme {
	case "hmac-sha256":
		newHash = sha256.New
	case "hmac-sha384":
		newHash = sha512.New384
	case "hmac-sha512":
		newHash = sha512.New
	case "hmac-sha1":
		newHash = sha1.New
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	return &Signer{key: append([]byte(nil), key...), newHash: newHash}, nil
}

// Enabled reports whether a key is configured.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.key) > 0
}

// Sign returns the hex digest of frames, or "" when signing is disabled.
func (s *Signer) Sign(frames ...[]byte) string {
	if !s.Enabled() {
		return ""
	}
	return hex.EncodeToString(s.digest(frames))
}

// Verify checks signature against frames. Verification is skipped without a key.
func (s *Signer) Verify(signature []byte, frames ...[]byte) error {
	if !s.Enabled() {
		return nil
	}

	got, err := hex.DecodeString(string(signature))
	if err != nil || !hmac.Equal(got, s.digest(frames)) {
		return ErrSignature
	}
	return nil
}

func (s *Signer) digest(frames [][]byte) []byte {
	mac := hmac.New(s.newHash, s.key)
	for _, frame := range frames {
		mac.Write(frame)
	}
	return mac.Sum(nil)
}
