package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeProbe, FlagStore) {
	h, probe, _, store := newTestHandlers(t)
	acl := ACL{
		"*":           {"root-kid": true},
		CmdSignStart: {"signer-kid": true},
	}
	return NewDispatcher(h, acl), probe, store
}

func TestDispatch_UnknownCommandReturnsNil(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{Command: "not_a_command", Zones: []string{testZone}}, "root-kid")
	assert.Nil(t, resp)
}

func TestDispatch_ACLDenialReturnsNil(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{Command: CmdSignStart, Zones: []string{testZone}}, "unknown-kid")
	assert.Nil(t, resp)
}

func TestDispatch_WildcardACLAllows(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{Command: CmdSignStart, Zones: []string{testZone}}, "root-kid")
	require.NotNil(t, resp)
	assert.Equal(t, []string{testZone}, resp.OK)
}

func TestDispatch_PerCommandACLAllows(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{Command: CmdSignStart, Zones: []string{testZone}}, "signer-kid")
	require.NotNil(t, resp)
	assert.Equal(t, []string{testZone}, resp.OK)
}

func TestDispatch_NormalizesZoneNames(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{Command: CmdSignStart, Zones: []string{"Example.COM."}}, "root-kid")
	require.NotNil(t, resp)
	assert.Equal(t, []string{"example.com"}, resp.OK)
}

func TestDispatch_MalformedZoneNameIsError(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{Command: CmdSignStart, Zones: []string{"onelabel"}}, "root-kid")
	require.NotNil(t, resp)
	assert.Equal(t, []string{"onelabel"}, resp.Error)
}

func TestDispatch_PreInvalidZoneShortCircuits(t *testing.T) {
	d, _, store := newTestDispatcher(t)
	require.NoError(t, store.Set(testZone, FlagInvalid, "poisoned during a prior run"))

	resp := d.Dispatch(context.Background(), Request{Command: CmdSignStart, Zones: []string{testZone}}, "root-kid")
	require.NotNil(t, resp)
	assert.Equal(t, []string{testZone}, resp.Invalid)
}

func TestDispatch_ClassifiesBatchAcrossZoneStates(t *testing.T) {
	d, _, store := newTestDispatcher(t)

	require.NoError(t, store.Set("fresh.example", FlagSigning, false))
	require.NoError(t, store.Set("already-signing.example", FlagSigning, true))
	require.NoError(t, store.Set("poisoned.example", FlagInvalid, "bad"))

	resp := d.Dispatch(context.Background(), Request{
		Command: CmdSignStart,
		Zones:   []string{"fresh.example", "already-signing.example", "poisoned.example", "bad_zone"},
	}, "root-kid")

	require.NotNil(t, resp)
	assert.ElementsMatch(t, []string{"fresh.example"}, resp.OK)
	assert.ElementsMatch(t, []string{"already-signing.example"}, resp.Badstate)
	assert.ElementsMatch(t, []string{"poisoned.example"}, resp.Invalid)
	assert.ElementsMatch(t, []string{"bad_zone"}, resp.Error)
}
