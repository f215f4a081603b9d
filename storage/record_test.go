package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestEncodeDecode(t *testing.T) {
	rec, err := Encode(sample{Name: "G101", Count: 3}, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rec.Version)
	assert.False(t, rec.Updated.IsZero())
	assert.JSONEq(t, `{"name":"G101","count":3}`, string(rec.Data))

	var got sample
	require.NoError(t, rec.Decode(&got))
	assert.Equal(t, sample{Name: "G101", Count: 3}, got)
}

func TestDecodeEmpty(t *testing.T) {
	var r *Record
	assert.ErrorIs(t, r.Decode(&sample{}), ErrNotFound)
	assert.ErrorIs(t, (&Record{}).Decode(&sample{}), ErrNotFound)
	assert.Error(t, (&Record{Data: []byte("{")}).Decode(&sample{}))
}

func TestClone(t *testing.T) {
	rec, err := Encode(sample{Name: "a"})
	require.NoError(t, err)
	cp := rec.Clone()
	cp.Data[2] = 'X'
	assert.NotEqual(t, rec.Data, cp.Data)
	assert.Nil(t, (*Record)(nil).Clone())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("x: %w", ErrNotFound)))
	assert.True(t, IsNotFound(fmt.Errorf("x: %w", ErrNamespaceNotFound)))
	assert.False(t, IsNotFound(ErrCASFailed))
	assert.False(t, IsNotFound(errors.New("other")))
}
