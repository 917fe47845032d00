package keystore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestParseKey(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	require.NotNil(t, key)

	// 0x prefix and surrounding whitespace are tolerated
	prefixed, err := ParseKey(" 0x" + testKeyHex + "\n")
	require.NoError(t, err)
	assert.Equal(t, Address(key), Address(prefixed))
}

func TestParseKeyRejectsInvalid(t *testing.T) {
	cases := []string{
		"",
		"deadbeef",                        // too short
		testKeyHex + "00",                 // too long
		strings.Repeat("z", 64),           // non-hex
		"0x" + strings.Repeat("g", 64),    // non-hex with prefix
	}
	for _, in := range cases {
		_, err := ParseKey(in)
		assert.ErrorIs(t, err, ErrBadKey, in)
	}
}

func TestAddressIsCanonicalLowercase(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)

	addr := Address(key)
	assert.True(t, strings.HasPrefix(addr, "0x"))
	assert.Len(t, addr, 42)
	assert.Equal(t, strings.ToLower(addr), addr)
}

func TestKeyFromPerAddressEnv(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	addr := Address(key)

	envName := "WALLET_KEY_" + strings.ToUpper(strings.TrimPrefix(addr, "0x"))
	t.Setenv(envName, testKeyHex)

	s := &Store{}
	got, err := s.Key(addr)
	require.NoError(t, err)
	assert.Equal(t, addr, Address(got))

	// Mixed-case lookups resolve the same key.
	mixed := addr[:2] + strings.ToUpper(addr[2:6]) + addr[6:]
	got, err = s.Key(mixed)
	require.NoError(t, err)
	assert.Equal(t, addr, Address(got))
}

func TestKeyFallback(t *testing.T) {
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	addr := Address(key)

	s := &Store{fallback: testKeyHex}
	got, err := s.Key(addr)
	require.NoError(t, err)
	assert.Equal(t, addr, Address(got))

	// Fallback must not serve other addresses.
	_, err = s.Key("0x0000000000000000000000000000000000000001")
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestKeyMissing(t *testing.T) {
	s := &Store{}
	_, err := s.Key("0x0000000000000000000000000000000000000002")
	assert.ErrorIs(t, err, ErrNoKey)
}
