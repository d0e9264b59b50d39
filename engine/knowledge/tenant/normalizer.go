// Package tenant canonicalizes account identifiers so stored and queried
// knowledge entries reliably match despite historically inconsistent formats
// (case, whitespace, typed vs. string IDs).
package tenant

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kontexa/kontexa/engine/knowledge"
)

// Key is a normalized tenant identifier. The empty key is valid and matches
// nothing; it is not an error.
type Key string

func (k Key) String() string {
	return string(k)
}

func (k Key) IsEmpty() bool {
	return k == ""
}

// MaxVariants bounds the legacy-compatibility probe set. Needing more forms
// than this signals a data-quality problem to fix at the source, not here.
const MaxVariants = 4

// Normalize canonicalizes a raw identifier: coerce to text, trim surrounding
// whitespace, lower-case. Nil input yields the empty key. Values with no
// sensible text representation return an InvalidTenantError.
func Normalize(raw any) (Key, error) {
	text, err := coerce(raw)
	if err != nil {
		return "", err
	}
	return Key(strings.ToLower(strings.TrimSpace(text))), nil
}

// Variants returns the normalized key plus the legacy forms found in
// historical data: the raw string, the trimmed-but-not-lowered string, and
// the plain stringification. The normalized key is always first and the set
// is deduplicated. New writes must use only the normalized key; this exists
// solely to probe rows persisted before normalization was enforced.
func Variants(raw any) ([]Key, error) {
	text, err := coerce(raw)
	if err != nil {
		return nil, err
	}
	normalized := Key(strings.ToLower(strings.TrimSpace(text)))
	candidates := []Key{
		normalized,
		Key(text),
		Key(strings.TrimSpace(text)),
	}
	out := make([]Key, 0, MaxVariants)
	seen := make(map[Key]struct{}, MaxVariants)
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

func coerce(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case Key:
		return string(v), nil
	case uuid.UUID:
		return v.String(), nil
	case *uuid.UUID:
		if v == nil {
			return "", nil
		}
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case []byte:
		return string(v), nil
	}
	// Pointers to coercible values show up in optional ID fields.
	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", nil
		}
		return coerce(rv.Elem().Interface())
	}
	return "", knowledge.NewInvalidTenantError(raw)
}

// Strings converts a variant set to plain strings for store queries.
func Strings(keys []Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
