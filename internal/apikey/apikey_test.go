package apikey_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/handhunter/internal/apikey"
)

func TestGenerate(t *testing.T) {
	userID := uuid.New()

	raw, key, err := apikey.Generate(userID, "ci", []string{"admin"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, apikey.Prefix))
	assert.Len(t, raw, len(apikey.Prefix)+48)
	assert.Equal(t, raw[:8], key.KeyPrefix)
	assert.Equal(t, userID, key.UserID)
	assert.Equal(t, "ci", key.Name)
	assert.Equal(t, []string{"admin"}, key.Scopes)
	assert.NotContains(t, key.KeyHash, raw)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)))
}

func TestGenerate_Unique(t *testing.T) {
	a, _, err := apikey.Generate(uuid.New(), "a", nil)
	require.NoError(t, err)
	b, key, err := apikey.Generate(uuid.New(), "b", nil)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotNil(t, key.Scopes)
}
