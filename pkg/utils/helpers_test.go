package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSemaphoreLimit(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv("SEMAPHORE_LIMIT", "")
		assert.Equal(t, DefaultSemaphoreLimit, GetSemaphoreLimit())
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv("SEMAPHORE_LIMIT", "7")
		assert.Equal(t, 7, GetSemaphoreLimit())
	})

	t.Run("invalid env", func(t *testing.T) {
		t.Setenv("SEMAPHORE_LIMIT", "-3")
		assert.Equal(t, DefaultSemaphoreLimit, GetSemaphoreLimit())
	})
}

func TestValidateGroupID(t *testing.T) {
	assert.NoError(t, ValidateGroupID("tenant-1"))
	assert.NoError(t, ValidateGroupID("org.acme:people_v2"))
	assert.ErrorIs(t, ValidateGroupID("tenant 1"), ErrInvalidGroupID)
	assert.ErrorIs(t, ValidateGroupID("a/b"), ErrInvalidGroupID)
}

func TestGenerateUUID(t *testing.T) {
	a := GenerateUUID()
	b := GenerateUUID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestLuceneSanitize(t *testing.T) {
	assert.Equal(t, `Alice \(CEO\)\: Acme\-Corp`, LuceneSanitize("Alice (CEO): Acme-Corp"))
	assert.Equal(t, "plain words", LuceneSanitize("plain words"))
}

func TestUniqueStrings(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, UniqueStrings([]string{"b", "a", "b", "c", "a"}))
	assert.Empty(t, UniqueStrings(nil))
}
