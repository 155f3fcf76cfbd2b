package wayforpay

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrInvalidSignature = errors.New("wayforpay: invalid signature")

// Sign returns the hex HMAC-MD5 of the fields joined with ";".
func Sign(key string, fields []string) string {
	mac := hmac.New(md5.New, []byte(key))
	mac.Write([]byte(strings.Join(fields, ";")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against every candidate key in order. Empty keys
// are skipped.
func Verify(fields []string, signature string, keys []string) bool {
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil || len(got) != md5.Size {
		return false
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		mac := hmac.New(md5.New, []byte(key))
		mac.Write([]byte(strings.Join(fields, ";")))
		if hmac.Equal(mac.Sum(nil), got) {
			return true
		}
	}
	return false
}

// Verifier holds the merchant keys in the order they are tried: the secret
// key first, then the merchant password.
type Verifier struct {
	keys []string
}

func NewVerifier(keys ...string) *Verifier {
	seen := make(map[string]bool, len(keys))
	v := &Verifier{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		v.keys = append(v.keys, k)
	}
	return v
}

func (v *Verifier) Verify(fields []string, signature string) bool {
	return Verify(fields, signature, v.keys)
}

// VerifyNotification checks the merchantSignature of a service-url callback.
func (v *Verifier) VerifyNotification(n *Notification) error {
	if !v.Verify(n.SignatureFields(), string(n.MerchantSignature)) {
		return ErrInvalidSignature
	}
	return nil
}

// PrimaryKey is the key used to sign outgoing messages.
func (v *Verifier) PrimaryKey() string {
	if len(v.keys) == 0 {
		return ""
	}
	return v.keys[0]
}

func (v *Verifier) Keys() []string {
	return append([]string(nil), v.keys...)
}
