package render

import (
	"encoding/base64"
	"fmt"
)

// EncodeListToken obfuscates a list name for use in public URLs. It is a
// reversible encoding, not a secret.
func EncodeListToken(list string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(reverse(list)))
}

// DecodeListToken reverses EncodeListToken.
func DecodeListToken(token string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("render: decode list token: %w", err)
	}
	return reverse(string(b)), nil
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
