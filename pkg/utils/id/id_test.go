package id

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUUID(t *testing.T) {
	a, b := NewUUID(), NewUUID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
	assert.NoError(t, ValidateUUID(a))
	assert.ErrorIs(t, ValidateUUID("not-a-uuid"), ErrInvalidUUID)
}

func TestNewULID_Sortable(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewULID()
		assert.NoError(t, ValidateULID(ids[i]))
	}
	assert.True(t, sort.StringsAreSorted(ids))
	assert.ErrorIs(t, ValidateULID("xyz"), ErrInvalidULID)
}

func TestNew(t *testing.T) {
	assert.Len(t, New(TypeULID), 26)
	assert.Len(t, New(TypeUUID), 36)
	assert.Len(t, New("other"), 36)
}
