package billing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// SignatureField is the parameter name carrying the digest on the wire.
const SignatureField = "signature"

const secretField = "secret"

// Sign canonicalizes the parameters and returns the hex SHA-256 digest.
// Canonical form: drop any existing signature field, add the shared secret as
// an ordinary parameter, sort keys lexicographically, concatenate the values
// in key order. The result depends only on the logical parameter set, never
// on map iteration order.
func Sign(params map[string]string, sharedSecret string) string {
	canonical := make(map[string]string, len(params)+1)
	for k, v := range params {
		if k == SignatureField {
			continue
		}
		canonical[k] = v
	}
	canonical[secretField] = sharedSecret

	keys := make([]string, 0, len(canonical))
	for k := range canonical {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(canonical[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the signature over the payload (excluding the signature
// field) and compares it to the supplied one in constant time. It returns
// false rather than failing when the secret is unset or the payload carries
// no usable signature.
func Verify(params map[string]string, sharedSecret string) bool {
	if sharedSecret == "" {
		return false
	}
	supplied, ok := params[SignatureField]
	if !ok || supplied == "" {
		return false
	}
	expected := Sign(params, sharedSecret)
	if len(supplied) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(supplied)), []byte(expected)) == 1
}
