package tenant_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/kontexa/kontexa/engine/knowledge"
	"github.com/kontexa/kontexa/engine/knowledge/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Run("Should lower-case and trim whitespace", func(t *testing.T) {
		key, err := tenant.Normalize("  ABC-123 ")
		require.NoError(t, err)
		assert.Equal(t, tenant.Key("abc-123"), key)
	})
	t.Run("Should be idempotent", func(t *testing.T) {
		inputs := []string{"  Mixed Case  ", "already-normal", "UPPER", "\ttabbed\t"}
		for _, in := range inputs {
			once, err := tenant.Normalize(in)
			require.NoError(t, err)
			twice, err := tenant.Normalize(once)
			require.NoError(t, err)
			assert.Equal(t, once, twice)
		}
	})
	t.Run("Should return empty key for nil input without error", func(t *testing.T) {
		key, err := tenant.Normalize(nil)
		require.NoError(t, err)
		assert.True(t, key.IsEmpty())
	})
	t.Run("Should return empty key for empty string", func(t *testing.T) {
		key, err := tenant.Normalize("")
		require.NoError(t, err)
		assert.True(t, key.IsEmpty())
	})
	t.Run("Should coerce uuid identifiers", func(t *testing.T) {
		id := uuid.MustParse("D9428888-122B-11E1-B85C-61CD3CBB3210")
		key, err := tenant.Normalize(id)
		require.NoError(t, err)
		assert.Equal(t, tenant.Key("d9428888-122b-11e1-b85c-61cd3cbb3210"), key)
	})
	t.Run("Should coerce integer identifiers", func(t *testing.T) {
		key, err := tenant.Normalize(42)
		require.NoError(t, err)
		assert.Equal(t, tenant.Key("42"), key)
	})
	t.Run("Should coerce pointer identifiers", func(t *testing.T) {
		raw := "  Ptr-Tenant "
		key, err := tenant.Normalize(&raw)
		require.NoError(t, err)
		assert.Equal(t, tenant.Key("ptr-tenant"), key)
	})
	t.Run("Should fail for values with no text representation", func(t *testing.T) {
		_, err := tenant.Normalize(func() {})
		require.Error(t, err)
		assert.True(t, knowledge.IsInvalidTenant(err))
	})
}

func TestVariants(t *testing.T) {
	t.Run("Should always include the normalized key first", func(t *testing.T) {
		variants, err := tenant.Variants(" ABC-123 ")
		require.NoError(t, err)
		normalized, err := tenant.Normalize(" ABC-123 ")
		require.NoError(t, err)
		require.NotEmpty(t, variants)
		assert.Equal(t, normalized, variants[0])
		assert.Contains(t, variants, normalized)
	})
	t.Run("Should include raw and trimmed legacy forms", func(t *testing.T) {
		variants, err := tenant.Variants(" ABC-123 ")
		require.NoError(t, err)
		assert.Contains(t, variants, tenant.Key(" ABC-123 "))
		assert.Contains(t, variants, tenant.Key("ABC-123"))
	})
	t.Run("Should deduplicate already-normalized input to a single key", func(t *testing.T) {
		variants, err := tenant.Variants("abc-123")
		require.NoError(t, err)
		assert.Equal(t, []tenant.Key{"abc-123"}, variants)
	})
	t.Run("Should never exceed the variant bound", func(t *testing.T) {
		for _, in := range []string{" ABC-123 ", "abc", "  MiXeD  ", ""} {
			variants, err := tenant.Variants(in)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(variants), tenant.MaxVariants)
		}
	})
	t.Run("Should propagate coercion failure", func(t *testing.T) {
		_, err := tenant.Variants(struct{ X int }{1})
		require.Error(t, err)
		assert.True(t, knowledge.IsInvalidTenant(err))
	})
}

func TestStrings(t *testing.T) {
	t.Run("Should convert keys to plain strings", func(t *testing.T) {
		got := tenant.Strings([]tenant.Key{"a", "b"})
		assert.Equal(t, []string{"a", "b"}, got)
	})
}
