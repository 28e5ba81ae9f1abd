package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirFlagStore_AbsentByDefault(t *testing.T) {
	store, err := NewDirFlagStore(t.TempDir())
	require.NoError(t, err)

	v := store.Get("example.com", FlagSigning)
	assert.False(t, v.AsBool())
	assert.True(t, store.Mtime("example.com", FlagSigning).IsZero())
}

func TestDirFlagStore_SetPresentAndPayload(t *testing.T) {
	store, err := NewDirFlagStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("example.com", FlagSigning, true))
	v := store.Get("example.com", FlagSigning)
	assert.True(t, v.AsBool())
	assert.True(t, v.IsEmpty())

	require.NoError(t, store.Set("example.com", FlagSigned, "1700000000"))
	v = store.Get("example.com", FlagSigned)
	assert.True(t, v.AsBool())
	assert.False(t, v.IsEmpty())
	tm, ok := v.AsEpoch()
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), tm.Unix())
}

func TestDirFlagStore_SetFalseDeletes(t *testing.T) {
	store, err := NewDirFlagStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("example.com", FlagChaining, true))
	require.NoError(t, store.Set("example.com", FlagChaining, false))
	assert.False(t, store.Get("example.com", FlagChaining).AsBool())
}

func TestDirFlagStore_MtimeAdvancesOnRewrite(t *testing.T) {
	store, err := NewDirFlagStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("example.com", FlagDSTtl, "100"))
	first := store.Mtime("example.com", FlagDSTtl)
	require.False(t, first.IsZero())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Set("example.com", FlagDSTtl, "200"))
	second := store.Mtime("example.com", FlagDSTtl)
	assert.True(t, !second.Before(first))
}

func TestDirFlagStore_NewDirFlagStoreRejectsMissingDir(t *testing.T) {
	_, err := NewDirFlagStore("/no/such/directory/hopefully")
	assert.Error(t, err)
}

func TestFlagValue_AsTTLRejectsNonNumeric(t *testing.T) {
	v := Payload("not-a-number")
	_, ok := v.AsTTL()
	assert.False(t, ok)
}

func TestFlagValue_Equality(t *testing.T) {
	assert.Equal(t, Absent(), FlagValue{})
	assert.NotEqual(t, Absent(), Present())
	assert.Equal(t, Payload("x"), Payload("x"))
}
