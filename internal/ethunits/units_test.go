package ethunits

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1", "1000000000000000000"},
		{"0.01", "10000000000000000"},
		{"0.001", "1000000000000000"},
		{"0.9895", "989500000000000000"},
		{"1.0495", "1049500000000000000"},
		{"0.000001", "1000000000000"},
	}

	for _, tc := range cases {
		got, err := ParseEther(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got.String(), tc.in)
	}
}

func TestParseEtherRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "1e", "0.0000000000000000001"} {
		_, err := ParseEther(in)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}
}

func TestFormatWei(t *testing.T) {
	wei, _ := new(big.Int).SetString("1049500000000000000", 10)
	assert.Equal(t, "1.0495", FormatWei(wei))
	assert.Equal(t, "0", FormatWei(nil))
	assert.Equal(t, "0", FormatWei(big.NewInt(0)))
}

func TestFormatWeiSigned(t *testing.T) {
	up, _ := ParseEther("0.05")
	down := new(big.Int).Neg(up)

	assert.Equal(t, "+0.05", FormatWeiSigned(up))
	assert.Equal(t, "-0.05", FormatWeiSigned(down))
	assert.Equal(t, "+0", FormatWeiSigned(big.NewInt(0)))
}

func TestRoundTrip(t *testing.T) {
	wei, err := ParseEther("123.456789")
	require.NoError(t, err)
	assert.Equal(t, "123.456789", FormatWei(wei))
}

func TestEtherFloat(t *testing.T) {
	wei, _ := ParseEther("1.5")
	assert.InDelta(t, 1.5, EtherFloat(wei), 1e-9)
	assert.Zero(t, EtherFloat(nil))
}
