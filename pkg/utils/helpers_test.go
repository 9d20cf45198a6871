package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/pbkdf2"
)

func TestHashPasswordRoundtrip(t *testing.T) {
	hash := HashPassword("hunter2!")

	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))
	assert.True(t, VerifyPassword("hunter2!", hash))
	assert.False(t, VerifyPassword("hunter3!", hash))
	assert.False(t, VerifyPassword("", hash))
}

func TestHashPasswordUniqueSalt(t *testing.T) {
	a := HashPassword("same password")
	b := HashPassword("same password")

	assert.NotEqual(t, a, b)
	assert.True(t, VerifyPassword("same password", a))
	assert.True(t, VerifyPassword("same password", b))
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	assert.False(t, VerifyPassword("password", ""))
	assert.False(t, VerifyPassword("password", "$argon2id$garbage"))
	assert.False(t, VerifyPassword("password", "not-a-hash"))
}

func legacyHash(password string, salt []byte) string {
	subkey := pbkdf2.Key([]byte(password), salt, iterationRounds, subkeyLength, sha256.New)

	buf := make([]byte, 0, 1+len(salt)+len(subkey))
	buf = append(buf, 0x1)
	buf = append(buf, salt...)
	buf = append(buf, subkey...)
	return base64.StdEncoding.EncodeToString(buf)
}

func TestVerifyLegacyPassword(t *testing.T) {
	salt := []byte("0123456789abcdef")
	hash := legacyHash("old password", salt)

	assert.True(t, VerifyLegacyPassword("old password", hash))
	assert.False(t, VerifyLegacyPassword("wrong password", hash))
	assert.False(t, VerifyLegacyPassword("old password", "!!not base64!!"))
}

func TestGenerateRandomString(t *testing.T) {
	s := GenerateRandomString(40)
	assert.Len(t, s, 40)

	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		assert.True(t, ok, "unexpected character %q", r)
	}

	assert.NotEqual(t, GenerateRandomString(40), GenerateRandomString(40))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}
