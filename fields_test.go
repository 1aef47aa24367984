package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsAppendAndGetPreservesOrder(t *testing.T) {
	f := NewFields()
	require.NoError(t, f.Append("X-Trace", "one"))
	require.NoError(t, f.Append("x-trace", "two"))
	require.NoError(t, f.Append("Content-Type", "text/plain"))

	assert.Equal(t, []string{"one", "two"}, f.Get("X-TRACE"))
	assert.Equal(t, [][2]string{
		{"X-Trace", "one"},
		{"x-trace", "two"},
		{"Content-Type", "text/plain"},
	}, f.Entries())
}

func TestFieldsSetReplacesAllExistingValues(t *testing.T) {
	f := NewFields()
	require.NoError(t, f.Append("X-A", "1"))
	require.NoError(t, f.Append("X-A", "2"))

	require.NoError(t, f.Set("X-A", []string{"3", "4"}))
	assert.Equal(t, []string{"3", "4"}, f.Get("X-A"))
}

func TestFieldsSetWithNilValuesDeletes(t *testing.T) {
	f := NewFields()
	require.NoError(t, f.Append("X-A", "1"))
	require.NoError(t, f.Set("X-A", nil))
	assert.Empty(t, f.Get("X-A"))
}

func TestFieldsRejectsInvalidHeaderName(t *testing.T) {
	f := NewFields()
	err := f.Append("bad header\r\n", "value")
	require.Error(t, err)
	var herr *headerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, headerErrorInvalidSyntax, herr.Kind)
}

func TestFieldsFromListRejectsFirstInvalidEntryAndCommitsNothing(t *testing.T) {
	f, err := FieldsFromList([][2]string{
		{"Good-Name", "ok"},
		{"bad\x00name", "oops"},
	})
	require.Error(t, err)
	assert.Nil(t, f)
}

func TestImmutableFieldsRejectMutation(t *testing.T) {
	f := NewFields()
	require.NoError(t, f.Append("X-A", "1"))
	immutable := f.AsImmutable()

	err := immutable.Append("X-B", "2")
	require.Error(t, err)
	var herr *headerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, headerErrorImmutable, herr.Kind)

	err = immutable.Set("X-A", []string{"z"})
	require.Error(t, err)
	err = immutable.Delete("X-A")
	require.Error(t, err)
}

func TestFieldsCloneIsAlwaysMutable(t *testing.T) {
	f := NewFields()
	require.NoError(t, f.Append("X-A", "1"))
	immutable := f.AsImmutable()

	clone := immutable.Clone()
	assert.NoError(t, clone.Append("X-B", "2"))
	assert.Equal(t, []string{"2"}, clone.Get("X-B"))
	assert.Empty(t, immutable.Get("X-B"))
}
