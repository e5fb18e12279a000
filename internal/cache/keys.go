package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Cached resource kinds.
const (
	KindPerm        = "perm"
	KindAccounts    = "accounts"
	KindSubaccounts = "subaccounts"
	KindMachines    = "machines"
	KindReports     = "reports"
)

const keyPrefix = "ec:"

// Key is the composite cache key ec:{kind}:{email}:{tenant}:{filter}.
type Key struct {
	Kind   string
	Email  string
	Tenant string
	Filter string
}

// NewKey builds a key, fingerprinting params as the filter part.
func NewKey(kind, email, tenant string, params map[string]string) Key {
	return Key{
		Kind:   kind,
		Email:  normalize(email),
		Tenant: normalize(tenant),
		Filter: Fingerprint(params),
	}
}

func (k Key) String() string {
	return keyPrefix + k.Kind + ":" + k.Email + ":" + k.Tenant + ":" + k.Filter
}

// Fingerprint is the first 16 hex chars of the SHA-256 of the sorted
// non-empty params. No params give "all".
func Fingerprint(params map[string]string) string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		pairs = append(pairs, k+"="+v)
	}
	if len(pairs) == 0 {
		return "all"
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(sum[:])[:16]
}

// OwnerPrefix matches every key of kind for email.
func OwnerPrefix(kind, email string) string {
	return keyPrefix + kind + ":" + normalize(email) + ":"
}

// KindPrefix matches every key of kind.
func KindPrefix(kind string) string {
	return keyPrefix + kind + ":"
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "-"
	}
	return s
}

// escapePattern quotes the glob metacharacters SCAN MATCH understands.
func escapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
