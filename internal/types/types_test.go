package types

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDListShapes(t *testing.T) {
	for doc, want := range map[string]IDList{
		`"1"`:             {"1"},
		`12`:              {"12"},
		`["a", 7, "+c1"]`: {"a", "7", "+c1"},
		` [ ] `:           {},
		`null`:            nil,
		`"0b7f4c1e-uuid"`: {"0b7f4c1e-uuid"},
	} {
		t.Run(doc, func(t *testing.T) {
			var ids IDList
			require.NoError(t, json.Unmarshal([]byte(doc), &ids))
			assert.Equal(t, want, ids)
		})
	}

	var ids IDList
	assert.Error(t, json.Unmarshal([]byte(`{"id":"1"}`), &ids))
	assert.Error(t, json.Unmarshal([]byte(`[""]`), &ids))
}

func TestAPIError(t *testing.T) {
	stale := errors.New("Person.Name is \"Ann\", not \"Bob\"")
	err := Conflict(stale)
	assert.Equal(t, http.StatusConflict, err.Code)
	assert.True(t, err.VersionError)
	assert.Contains(t, err.Message, "E_VERSION")
	assert.ErrorIs(t, err, stale)

	var ae *APIError
	wrapped := error(Forbidden("data.authorization.user", "Invalid session"))
	require.ErrorAs(t, wrapped, &ae)
	assert.Equal(t, http.StatusForbidden, ae.Code)
	assert.Equal(t, "403: Invalid session [type: data.authorization.user]", ae.Error())
}
