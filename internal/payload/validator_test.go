package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMatchRequest(t *testing.T) {
	req, err := ValidateMatchRequest([]byte(`{"list_id": 42}`))
	require.NoError(t, err)
	require.NotNil(t, req.ListID)
	assert.Equal(t, int64(42), *req.ListID)
	assert.Empty(t, req.ItemIDs)

	req, err = ValidateMatchRequest([]byte(` {"item_ids": [3, 1, 3]} `))
	require.NoError(t, err)
	assert.Nil(t, req.ListID)
	assert.Equal(t, []int64{3, 1}, req.ItemIDs)
}

func TestValidateMatchRequestRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ``},
		{"not an object", `[1, 2]`},
		{"neither field", `{}`},
		{"both fields", `{"list_id": 1, "item_ids": [1]}`},
		{"unknown field", `{"list_id": 1, "force": true}`},
		{"zero list", `{"list_id": 0}`},
		{"fractional id", `{"item_ids": [1.5]}`},
		{"string id", `{"item_ids": ["7"]}`},
		{"empty items", `{"item_ids": []}`},
		{"trailing content", `{"list_id": 1} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateMatchRequest([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

func TestMarshal(t *testing.T) {
	listID := int64(9)
	data, err := Marshal(MatchRequest{ListID: &listID})
	require.NoError(t, err)
	assert.JSONEq(t, `{"list_id": 9}`, string(data))

	_, err = Marshal(MatchRequest{})
	assert.Error(t, err)
}
