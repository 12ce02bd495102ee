// Package signature computes and checks HMAC-SHA512 digests over a canonical
// query-string form of string parameters. It knows nothing about any gateway.
package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Canonical sorts keys ascending, drops empty values, query-escapes keys and
// values and joins the pairs with '&'.
func Canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// Sign returns the lowercase hex HMAC-SHA512 of Canonical(params).
func Sign(params map[string]string, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(Canonical(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the digest and compares it in constant time. Hex case is
// ignored; anything that is not a well-formed digest simply fails.
func Verify(params map[string]string, secret, candidate string) bool {
	if candidate == "" || secret == "" {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(candidate)))
	if err != nil || len(got) != sha512.Size {
		return false
	}
	want, _ := hex.DecodeString(Sign(params, secret))
	return hmac.Equal(want, got)
}
