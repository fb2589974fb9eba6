// internal/csrf/csrf.go
//
// Stateless CSRF tokens for HTML forms.
//
// Context
//   Forms embed a hidden `csrf_token` input generated at render time and
//   the POST handler verifies it.  No server-side state is kept:
//
//      base64url( nonce | unixMicro | HMAC_SHA256(key, binding|nonce|unixMicro) )
//
//   •  nonce – 16 random bytes.
//   •  unixMicro – issue time, 8 bytes, big-endian.
//   •  binding – the tenant database name, so a token rendered for one
//      hospital never verifies on another.
//
//   Verification checks the signature and that the timestamp is within
//   MaxAge.
//
//------------------------------------------------------------------------------

package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"time"
)

// FieldName is the hidden input carrying the token.
const FieldName = "csrf_token"

// MaxAge bounds how long a rendered form stays submittable.
const MaxAge = 2 * time.Hour

const (
	nonceBytes = 16
	tokenBytes = nonceBytes + 8 + sha256.Size
)

// Signer issues and verifies tokens.  Safe for concurrent use.
type Signer struct {
	key []byte
	now func() time.Time
}

// New derives the signing key from secret.
func New(secret string) *Signer {
	k := sha256.Sum256([]byte("csrf:" + secret))
	return &Signer{key: k[:], now: time.Now}
}

// Issue creates a token bound to binding.  Call once per form render.
func (s *Signer) Issue(binding string) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf[:nonceBytes]); err != nil {
		return "", err
	}
	binary.BigEndian.PutUint64(buf[nonceBytes:nonceBytes+8], uint64(s.now().UnixMicro()))
	copy(buf[nonceBytes+8:], s.sign(binding, buf[:nonceBytes+8]))
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Verify reports whether tok was issued for binding within MaxAge.
func (s *Signer) Verify(tok, binding string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil || len(raw) != tokenBytes {
		return false
	}

	issued := time.UnixMicro(int64(binary.BigEndian.Uint64(raw[nonceBytes : nonceBytes+8])))
	now := s.now()
	if now.Sub(issued) > MaxAge || issued.Sub(now) > time.Minute {
		return false
	}
	return hmac.Equal(raw[nonceBytes+8:], s.sign(binding, raw[:nonceBytes+8]))
}

func (s *Signer) sign(binding string, head []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(binding))
	mac.Write([]byte{0})
	mac.Write(head)
	return mac.Sum(nil)
}
