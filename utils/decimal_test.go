package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal_AcceptsFormattedStrings(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"4000", "4000"},
		{"4000.50", "4000.5"},
		{"R$ 1.234,56", "1234.56"},
		{"R$ -1.234,56", "-1234.56"},
		{"1.234.567,8", "1234567.8"},
		{"1,234.50", "1234.5"},
		{"20,000", "20000"},
		{"10,5", "10.5"},
		{"  BRL 7000  ", "7000"},
	}
	for _, tc := range cases {
		d, err := ParseDecimal(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.expected, d.String(), tc.in)
	}
}

func TestParseDecimal_RejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "R$", "abc"} {
		_, err := ParseDecimal(in)
		assert.Error(t, err, in)
	}
}

func TestFlexDecimal_UnmarshalJSON(t *testing.T) {
	var body struct {
		Gross FlexDecimal  `json:"gross"`
		Net   *FlexDecimal `json:"net"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"gross":"R$ 10.000,00","net":9500.25}`), &body))
	assert.Equal(t, "10000", body.Gross.String())
	require.NotNil(t, body.Net)
	assert.Equal(t, "9500.25", DecimalPtr(body.Net).String())

	err := json.Unmarshal([]byte(`{"gross":"x"}`), &body)
	assert.Error(t, err)
}
