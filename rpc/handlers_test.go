package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testZone = "example.com"

func TestSignStart_BadstateWhenAlreadySigning(t *testing.T) {
	h, _, _, store := newTestHandlers(t)
	ctx := context.Background()

	require.Equal(t, OK, h.SignStart(ctx, testZone))
	require.NoError(t, store.Set(testZone, FlagSigning, true))
	assert.Equal(t, BADSTATE, h.SignStart(ctx, testZone))
}

func TestSignApprove_InvalidatesIfAlreadySigned(t *testing.T) {
	h, _, back, store := newTestHandlers(t)
	ctx := context.Background()
	require.NoError(t, store.Set(testZone, FlagSigned, true))

	result := h.SignApprove(ctx, testZone)
	assert.Equal(t, INVALID, result)
	assert.True(t, store.Get(testZone, FlagInvalid).AsBool())
	assert.Empty(t, back.managed)
}

func TestSignApprove_ManagesZoneAndSetsSigning(t *testing.T) {
	h, _, back, store := newTestHandlers(t)
	ctx := context.Background()

	result := h.SignApprove(ctx, testZone)
	assert.Equal(t, OK, result)
	assert.Contains(t, back.managed, testZone)
	assert.True(t, store.Get(testZone, FlagSigning).AsBool())
}

func TestAssertSigned_BadstateWithoutSigning(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)
	assert.Equal(t, BADSTATE, h.AssertSigned(context.Background(), testZone))
}

func TestAssertSigned_ErrorWhenDNSKEYNeverSeen(t *testing.T) {
	h, probe, _, store := newTestHandlers(t)
	ctx := context.Background()
	require.NoError(t, store.Set(testZone, FlagSigning, true))
	probe.signedDNSKEY = false

	assert.Equal(t, ERROR, h.AssertSigned(ctx, testZone))
}

func TestAssertSigned_OKOnceDNSKEYObserved(t *testing.T) {
	h, probe, _, store := newTestHandlers(t)
	ctx := context.Background()
	require.NoError(t, store.Set(testZone, FlagSigning, true))
	probe.signedDNSKEY = true

	// With the default configuration (AssertSignedImmediateOverride
	// false, the immediate-assert override), the asserted-from time is
	// "now", so the very next call also reports OK.
	assert.Equal(t, OK, h.AssertSigned(ctx, testZone))
	assert.Equal(t, OK, h.AssertSigned(ctx, testZone))
}

func TestGotoSigned_DrivesFromScratchToSigned(t *testing.T) {
	h, probe, back, store := newTestHandlers(t)
	ctx := context.Background()
	probe.signedDNSKEY = true

	result := h.GotoSigned(ctx, testZone)
	assert.Equal(t, OK, result)
	assert.True(t, store.Get(testZone, FlagSigning).AsBool())
	assert.Contains(t, back.managed, testZone)
}

func TestGotoSigned_InvalidatesIfAlreadyChaining(t *testing.T) {
	h, probe, _, store := newTestHandlers(t)
	ctx := context.Background()
	probe.signedDNSKEY = true

	require.Equal(t, OK, h.GotoSigned(ctx, testZone))
	// Manually poke the zone into a chaining state, then ask to goto_signed
	// again: the original's "already progressed" race guard should fire.
	require.NoError(t, store.Set(testZone, FlagSigned, 0))
	require.NoError(t, store.Set(testZone, FlagChaining, true))

	result := h.GotoSigned(ctx, testZone)
	assert.Equal(t, INVALID, result)
	assert.True(t, store.Get(testZone, FlagInvalid).AsBool())
}

func TestChainStart_InvalidatesOnPreexistingDS(t *testing.T) {
	h, probe, _, store := newTestHandlers(t)
	ctx := context.Background()
	probe.signedDNSKEY = true
	require.Equal(t, OK, h.GotoSigned(ctx, testZone))
	probe.haveDS = true

	result := h.ChainStart(ctx, testZone)
	assert.Equal(t, INVALID, result)
	assert.True(t, store.Get(testZone, FlagInvalid).AsBool())
	assert.False(t, store.Get(testZone, FlagChaining).AsBool())
}

func TestFullLifecycle_SignedToChainedToUnchainedToUnsigned(t *testing.T) {
	h, probe, _, store := newTestHandlers(t)
	ctx := context.Background()
	probe.signedDNSKEY = true

	require.Equal(t, OK, h.GotoSigned(ctx, testZone))

	// chain_start requires no pre-existing DS; with none yet published,
	// the first call gets as far as starting the chain but cannot yet
	// assert it (no DS observed), so it reports ERROR.
	result := h.GotoChained(ctx, testZone)
	require.Equal(t, ERROR, result)
	assert.True(t, store.Get(testZone, FlagChaining).AsBool())

	// The parent now carries the DS: the next call starts the
	// chained-DS-TTL countdown, again reporting ERROR.
	probe.haveDS = true
	result = h.GotoChained(ctx, testZone)
	require.Equal(t, ERROR, result)
	assert.True(t, store.Get(testZone, FlagChained).AsBool())

	// Force the chained countdown to have already elapsed.
	require.NoError(t, store.Set(testZone, FlagChained, 0))
	require.Equal(t, OK, h.GotoChained(ctx, testZone))

	// The first call clears chaining/chained via chain_stop and starts
	// the DS-TTL countdown for assert_unchained, so it reports ERROR.
	probe.haveDS = false
	result = h.GotoUnchained(ctx, testZone)
	require.Equal(t, ERROR, result)
	assert.False(t, store.Get(testZone, FlagChaining).AsBool())
	assert.False(t, store.Get(testZone, FlagChained).AsBool())

	// Force the unchained DS-TTL countdown to have elapsed.
	require.NoError(t, store.Set(testZone, FlagUnchained, 0))
	require.Equal(t, OK, h.AssertUnchained(ctx, testZone))

	// The first call clears the signed flag via sign_stop and starts
	// the DNSKEY-TTL countdown for assert_unsigned, so it reports ERROR.
	probe.signedDNSKEY = false
	result = h.GotoUnsigned(ctx, testZone)
	require.Equal(t, ERROR, result)
	assert.False(t, store.Get(testZone, FlagSigned).AsBool())

	// Force the unsigning DNSKEY-TTL countdown to have elapsed.
	require.NoError(t, store.Set(testZone, FlagUnsigning, 0))
	require.Equal(t, OK, h.GotoUnsigned(ctx, testZone))
	assert.False(t, store.Get(testZone, FlagSigning).AsBool())
}

func TestDropDead_ClearsEveryFlagAndIsIdempotent(t *testing.T) {
	h, probe, _, store := newTestHandlers(t)
	ctx := context.Background()
	probe.signedDNSKEY = true
	require.Equal(t, OK, h.GotoSigned(ctx, testZone))

	assert.Equal(t, OK, h.DropDead(ctx, testZone))
	assert.False(t, store.Get(testZone, FlagSigning).AsBool())
	assert.False(t, store.Get(testZone, FlagSigned).AsBool())

	// Idempotent: calling again on an already-dead zone still reports OK.
	assert.Equal(t, OK, h.DropDead(ctx, testZone))
}

func TestUpdateSigned_BadstateWhenNotSigned(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)
	result := h.UpdateSigned(context.Background(), testZone, func(string) bool { return true })
	assert.Equal(t, BADSTATE, result)
}

func TestUpdateSigned_OKWhenHookSucceeds(t *testing.T) {
	h, _, _, store := newTestHandlers(t)
	require.NoError(t, store.Set(testZone, FlagSigned, true))
	result := h.UpdateSigned(context.Background(), testZone, func(string) bool { return true })
	assert.Equal(t, OK, result)
}
