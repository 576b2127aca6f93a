package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_HeaderForms(t *testing.T) {
	buf := Append(nil, 'A', []byte{'A'})
	buf = Append(buf, 'b', []byte{'B', 'B'})
	assert.Equal(t, []byte{'a', 1, 'A', '2', 'B', 'B'}, buf)

	long := bytes.Repeat([]byte{'c'}, 256)
	rec := Record('C', long)
	assert.Len(t, rec, 5+256)
	assert.Equal(t, byte('C'), rec[0])
	assert.Equal(t, byte(1), rec[2])

	body, rest, err := TakeWary('A', buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{'A'}, body)

	body, rest, err = TakeWary('B', rest)
	require.NoError(t, err)
	assert.Equal(t, []byte{'B', 'B'}, body)
	assert.Empty(t, rest)
}

func TestOpenCloseHeader_Nested(t *testing.T) {
	mark, buf := OpenHeader(nil, 'E')
	buf = Append(buf, 'v', []byte("one"))
	buf = Append(buf, 'v', []byte("two"))
	CloseHeader(buf, mark)

	outer, rest, err := TakeWary('E', buf)
	require.NoError(t, err)
	assert.Empty(t, rest)

	var got []string
	for len(outer) > 0 {
		var inner []byte
		inner, outer, err = TakeWary('V', outer)
		require.NoError(t, err)
		got = append(got, string(inner))
	}
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestTakeWary_Errors(t *testing.T) {
	rec := Record('X', []byte("body"))

	_, rest, err := TakeWary('X', rec[:3])
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, rec[:3], rest)

	_, _, err = TakeWary('Y', rec)
	assert.ErrorIs(t, err, ErrBadRecord)

	_, _, err = TakeWary('X', []byte{'!', 1, 2})
	assert.ErrorIs(t, err, ErrBadRecord)

	_, _, err = TakeWary('X', nil)
	assert.ErrorIs(t, err, ErrIncomplete)

	_, _, err = TakeWary('X', []byte{'X', 0xff, 0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrBadRecord)
}
