package model

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOSID(t *testing.T) {
	at := time.Date(2024, 4, 6, 12, 0, 0, 0, time.UTC) // day 97

	id, err := generateOSID("bd", at, bytes.NewReader([]byte{0, 1, 2, 31, 32}))
	require.NoError(t, err)

	assert.Len(t, id, 15)
	assert.Equal(t, "BD2024097", id[:9])
	assert.Equal(t, "012Z0", id[9:14])
	assert.NoError(t, ValidateOSID(id))
}

func TestGenerateOSIDRandomIsValid(t *testing.T) {
	for i := 0; i < 50; i++ {
		id, err := GenerateOSID("CN", time.Now())
		require.NoError(t, err)
		require.NoError(t, ValidateOSID(id), id)
	}
}

func TestGenerateOSIDRejectsBadCountry(t *testing.T) {
	_, err := GenerateOSID("CHN", time.Now())
	assert.Error(t, err)
}

func TestValidateOSID(t *testing.T) {
	at := time.Date(2019, 10, 30, 0, 0, 0, 0, time.UTC)
	id, err := generateOSID("CN", at, bytes.NewReader([]byte{10, 20, 30, 5, 7}))
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid", input: id, wantErr: false},
		{name: "too short", input: id[:10], wantErr: true},
		{name: "lower case", input: "cn" + id[2:], wantErr: true},
		{name: "ambiguous letter", input: id[:9] + "I" + id[10:], wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOSID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOSIDDetectsSingleCharacterChange(t *testing.T) {
	at := time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC)
	id, err := generateOSID("US", at, bytes.NewReader([]byte{3, 9, 27, 14, 1}))
	require.NoError(t, err)

	body := []byte(id)
	// swap one random character for a different alphabet symbol
	if body[10] == '0' {
		body[10] = '1'
	} else {
		body[10] = '0'
	}
	assert.Error(t, ValidateOSID(string(body)))
}

func TestItemStatusHelpers(t *testing.T) {
	assert.True(t, ItemGeocoded.Matchable())
	assert.True(t, ItemGeocodedNoResults.Matchable())
	assert.False(t, ItemParsed.Matchable())
	assert.False(t, ItemMatched.Matchable())

	assert.True(t, ItemMatched.Resolved())
	assert.True(t, ItemPotentialMatch.Resolved())
	assert.False(t, ItemErrorMatching.Resolved())
}
