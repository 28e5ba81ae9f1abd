package rpc

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Handlers implements C4: the ten primitive lifecycle commands, their
// four compound goto_* drivers, plus drop_dead and update_signed.
// Every method is a direct Go port of one do_* function in
// original_source/src/genericapi.py, keeping that file's precondition
// / action / postcondition shape.
type Handlers struct {
	Store  FlagStore
	Probe  Prober
	Back   Backend
	Rules  LocalRules
	Now    func() time.Time
	locks  cmap.ConcurrentMap[string, *sync.Mutex]
	Config HandlerConfig
}

// HandlerConfig carries the deployment knobs that do not belong on
// the wire format (§4.4 Open Questions resolutions, see DESIGN.md).
type HandlerConfig struct {
	// AssertSignedImmediateOverride, when false (the default), restores
	// the original override that treats a first-seen signed DNSKEY as
	// immediately asserted rather than starting the TTL countdown. Set
	// it true to disable that override and run the full TTL countdown
	// instead, for a deployment with an independent authoritative path.
	AssertSignedImmediateOverride bool
}

// NewHandlers wires the four collaborators into a ready Handlers. Rules
// defaults to PermissiveLocalRules when nil.
func NewHandlers(store FlagStore, probe Prober, back Backend, rules LocalRules) *Handlers {
	if rules == nil {
		rules = PermissiveLocalRules{}
	}
	return &Handlers{
		Store: store,
		Probe: probe,
		Back:  back,
		Rules: rules,
		Now:   time.Now,
		locks: cmap.New[*sync.Mutex](),
	}
}

// lock returns, creating if necessary, the per-zone mutex that
// serializes every command against one zone (§5).
func (h *Handlers) lock(zone string) *sync.Mutex {
	m, _ := h.locks.Get(zone)
	if m == nil {
		m = &sync.Mutex{}
		if !h.locks.SetIfAbsent(zone, m) {
			m, _ = h.locks.Get(zone)
		}
	}
	return m
}

func (h *Handlers) withZoneLock(zone string, fn func() Result) Result {
	mu := h.lock(zone)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handlers) invalidate(zone, reason string) {
	if err := h.Store.Set(zone, FlagInvalid, reason); err != nil {
		log.Printf("Handlers: invalidate(%s): %v", zone, reason)
	}
}

// passed reports whether flag's stored payload, read as an epoch-
// seconds "asserted-from" time, has elapsed, grounded on genericapi.py
// `passed()`.
func (h *Handlers) passed(zone string, flag FlagName) bool {
	t, ok := h.Store.Get(zone, flag).AsEpoch()
	if !ok {
		return false
	}
	return !h.now().Before(t)
}

// --- Primitive commands (§4.4) ---------------------------------------

func (h *Handlers) SignStart(ctx context.Context, zone string) Result {
	return h.withZoneLock(zone, func() Result {
		if h.Store.Get(zone, FlagSigning).AsBool() || h.Store.Get(zone, FlagChaining).AsBool() {
			return BADSTATE
		}
		if h.Rules.SignStart(zone) {
			return OK
		}
		return ERROR
	})
}

func (h *Handlers) SignApprove(ctx context.Context, zone string) Result {
	return h.withZoneLock(zone, func() Result {
		if h.Store.Get(zone, FlagSigning).AsBool() || h.Store.Get(zone, FlagChaining).AsBool() {
			return BADSTATE
		}
		if h.Store.Get(zone, FlagSigned).AsBool() {
			h.invalidate(zone, fmt.Sprintf("during sign_approve() of %s the signed flag was already set", zone))
			return INVALID
		}
		if !h.Rules.SignApprove(zone) {
			return ERROR
		}
		if err := h.Back.ManageZone(ctx, zone); err != nil {
			log.Printf("Handlers.SignApprove(%s): manage_zone: %v", zone, err)
			return ERROR
		}
		if err := h.Store.Set(zone, FlagSigning, true); err != nil {
			return ERROR
		}
		return OK
	})
}

func (h *Handlers) AssertSigned(ctx context.Context, zone string) Result {
	return h.withZoneLock(zone, func() Result {
		return h.assertSignedLocked(ctx, zone)
	})
}

func (h *Handlers) ChainStart(ctx context.Context, zone string) Result {
	return h.withZoneLock(zone, func() Result {
		assn := h.assertSignedLocked(ctx, zone)
		if assn != OK {
			return assn
		}
		if h.Store.Get(zone, FlagChained).AsBool() {
			h.invalidate(zone, "the chained flag was already set during chain_start()")
			return INVALID
		}
		if h.Probe.HaveDS(ctx, zone, Scope{Party: PARENTS, Quorum: ALL}) {
			h.invalidate(zone, "DS TTL already found in parent")
			return INVALID
		}
		if !h.Rules.ChainStart(zone) {
			return ERROR
		}
		if err := h.Store.Set(zone, FlagChaining, true); err != nil {
			log.Printf("Handlers.ChainStart(%s): failed to set chaining flag: %v", zone, err)
			return INVALID
		}
		return OK
	})
}

// assertSignedLocked lets chain_start call AssertSigned's logic while
// already holding the zone lock.
func (h *Handlers) assertSignedLocked(ctx context.Context, zone string) Result {
	if !h.Store.Get(zone, FlagSigning).AsBool() || h.Store.Get(zone, FlagChaining).AsBool() {
		return BADSTATE
	}
	if !h.Rules.AssertSigned(zone) {
		return ERROR
	}
	assertedFrom, ok := h.Store.Get(zone, FlagSigned).AsEpoch()
	if !ok {
		scope := Scope{Party: OPENDNSSEC, Quorum: ALL}
		if !h.Probe.TestForSignedDNSKEY(ctx, zone, scope) {
			return ERROR
		}
		ass1, _ := h.Probe.DNSKeyTTL(ctx, zone, scope)
		ass2 := h.Probe.NegativeCachingTTL(ctx, zone, scope)
		ttl := ass1
		if ass2 > ttl {
			ttl = ass2
		}
		var endtime time.Time
		if h.Config.AssertSignedImmediateOverride {
			endtime = TTL2EndTime(h.now(), ttl)
		} else {
			endtime = h.now()
		}
		assertedFrom = endtime
		if err := h.Store.Set(zone, FlagSigned, assertedFrom.Unix()); err != nil {
			return ERROR
		}
	}
	if !h.now().Before(assertedFrom) {
		return OK
	}
	return ERROR
}

func (h *Handlers) AssertChained(ctx context.Context, zone string) Result {
	return h.withZoneLock(zone, func() Result {
		if !h.Store.Get(zone, FlagSigned).AsBool() || !h.Store.Get(zone, FlagChaining).AsBool() {
			return BADSTATE
		}

		assertedFrom, haveAssertedFrom := h.Store.Get(zone, FlagChained).AsEpoch()

		if !h.Probe.HaveDS(ctx, zone, Scope{Party: PARENTS, Quorum: ALL}) {
			if !h.Store.Get(zone, FlagWaiveDS).AsBool() {
				return ERROR
			}
			log.Printf("Handlers.AssertChained(%s): waiveds flag set, hack in place", zone)
		}

		if !haveAssertedFrom {
			if !h.Rules.AssertChained(zone) {
				return ERROR
			}
			ass1, _ := h.Probe.DSTTL(ctx, zone)
			ass2 := h.Probe.NegativeCachingTTL(ctx, zone, Scope{Party: PARENTS, Quorum: SOME})
			ttl := ass1
			if ass2 > ttl {
				ttl = ass2
			}
			assertedFrom = TTL2EndTime(h.now(), ttl)
			if err := h.Store.Set(zone, FlagChained, assertedFrom.Unix()); err != nil {
				return ERROR
			}
		}

		if !h.now().Before(assertedFrom) {
			return OK
		}
		return ERROR
	})
}

func (h *Handlers) ChainStop(ctx context.Context, zone string) Result {
	return h.withZoneLock(zone, func() Result {
		if !h.Store.Get(zone, FlagSigned).AsBool() || !h.Store.Get(zone, FlagChained).AsBool() {
			return BADSTATE
		}
		if !h.Store.Get(zone, FlagChaining).AsBool() {
			return BADSTATE
		}

		dsttl, err := h.Probe.DSTTL(ctx, zone)
		if err != nil {
			h.invalidate(zone, "no DS TTL found in parent")
			return INVALID
		}
		if err := h.Store.Set(zone, FlagDSTtl, dsttl); err != nil {
			return ERROR
		}

		if !h.Rules.ChainStop(zone) {
			return ERROR
		}

		err1 := h.Store.Set(zone, FlagChaining, false)
		err2 := h.Store.Set(zone, FlagChained, false)
		if err1 != nil || err2 != nil {
			log.Printf("Handlers.ChainStop(%s): failed to clear chained/chaining flags", zone)
			return INVALID
		}
		return OK
	})
}

func (h *Handlers) AssertUnchained(ctx context.Context, zone string) Result {
	return h.withZoneLock(zone, func() Result {
		if !h.Store.Get(zone, FlagSigned).AsBool() || h.Store.Get(zone, FlagChaining).AsBool() || h.Store.Get(zone, FlagChained).AsBool() {
			return BADSTATE
		}
		dsttlFlag := h.Store.Get(zone, FlagDSTtl)
		if !dsttlFlag.AsBool() {
			return BADSTATE
		}
		if h.Probe.HaveDS(ctx, zone, Scope{Party: PARENTS, Quorum: ALL}) {
			return ERROR
		}
		if !h.Rules.AssertUnchained(zone) {
			return ERROR
		}

		endtime, ok := h.Store.Get(zone, FlagUnchained).AsEpoch()
		if !ok {
			ttl, _ := dsttlFlag.AsTTL()
			endtime = TTL2EndTime(h.now(), uint32(ttl/time.Second))
			if err := h.Store.Set(zone, FlagUnchained, endtime.Unix()); err != nil {
				return ERROR
			}
		}
		if h.now().Before(endtime) {
			return ERROR
		}
		return OK
	})
}

func (h *Handlers) SignIgnore(ctx context.Context, zone string) Result {
	return h.withZoneLock(zone, func() Result {
		if !h.Store.Get(zone, FlagSigned).AsBool() || h.Store.Get(zone, FlagChained).AsBool() {
			return BADSTATE
		}
		if h.Rules.SignIgnore(zone) {
			return OK
		}
		return ERROR
	})
}

func (h *Handlers) SignStop(ctx context.Context, zone string) Result {
	return h.withZoneLock(zone, func() Result {
		if !h.Store.Get(zone, FlagSigned).AsBool() || h.Store.Get(zone, FlagChained).AsBool() {
			return BADSTATE
		}
		dnskeyttl, _ := h.Probe.DNSKeyTTL(ctx, zone, Scope{Party: OPENDNSSEC, Quorum: ALL})
		if err := h.Store.Set(zone, FlagDNSKeyTtl, dnskeyttl); err != nil {
			return INVALID
		}
		if !h.Rules.SignStop(zone) {
			return ERROR
		}
		if err := h.Back.UnmanageZone(ctx, zone); err != nil {
			log.Printf("Handlers.SignStop(%s): unmanage_zone: %v", zone, err)
			return ERROR
		}
		if err := h.Store.Set(zone, FlagSigned, false); err != nil {
			return ERROR
		}
		return OK
	})
}

func (h *Handlers) AssertUnsigned(ctx context.Context, zone string) Result {
	return h.withZoneLock(zone, func() Result {
		if h.Store.Get(zone, FlagSigned).AsBool() || h.Store.Get(zone, FlagChained).AsBool() {
			return BADSTATE
		}
		if !h.Store.Get(zone, FlagSigning).AsBool() {
			return OK
		}

		dnskeyttlFlag := h.Store.Get(zone, FlagDNSKeyTtl)
		if !dnskeyttlFlag.AsBool() {
			return BADSTATE
		}
		dnskeyttl, _ := dnskeyttlFlag.AsTTL()

		unsigning := h.Store.Get(zone, FlagUnsigning)
		if unsigning.IsEmpty() && !h.Probe.TestForSignedDNSKEY(ctx, zone, Scope{Party: AUTHORITATIVES, Quorum: NONE}) {
			return ERROR
		}
		if !h.Rules.AssertUnsigned(zone) {
			return ERROR
		}

		var dnskeyttlend time.Time
		if !unsigning.AsBool() {
			dnskeyttlend = TTL2EndTime(h.now(), uint32(dnskeyttl/time.Second))
			if err := h.Store.Set(zone, FlagUnsigning, dnskeyttlend.Unix()); err != nil {
				return ERROR
			}
		} else {
			dnskeyttlend, _ = unsigning.AsEpoch()
		}

		if h.now().Before(dnskeyttlend) {
			return ERROR
		}

		if err := h.Store.Set(zone, FlagSigning, false); err != nil {
			return INVALID
		}
		h.Store.Set(zone, FlagDSTtl, false)
		h.Store.Set(zone, FlagDNSKeyTtl, false)
		h.Store.Set(zone, FlagUnsigning, false)
		return OK
	})
}

// --- Compound goto_* drivers (§4.4) -----------------------------------

func (h *Handlers) GotoSigned(ctx context.Context, zone string) Result {
	rv := OK
	if h.passed(zone, FlagSigned) {
		if h.Store.Get(zone, FlagChaining).AsBool() || h.Store.Get(zone, FlagChained).AsBool() {
			h.invalidate(zone, fmt.Sprintf("attempting goto_signed on %s which already progressed to chaining", zone))
			rv = INVALID
		} else {
			rv = h.AssertUnchained(ctx, zone)
		}
	}
	if rv == OK && !h.Store.Get(zone, FlagSigning).AsBool() && !h.Store.Get(zone, FlagSigned).AsBool() {
		rv = h.SignApprove(ctx, zone)
	}
	if rv == OK {
		rv = h.AssertSigned(ctx, zone)
	}
	return rv
}

func (h *Handlers) GotoChained(ctx context.Context, zone string) Result {
	rv := OK
	if !h.passed(zone, FlagSigned) {
		rv = h.GotoSigned(ctx, zone)
	}
	if rv == OK && h.Store.Get(zone, FlagSigning).AsBool() && !h.Store.Get(zone, FlagChaining).AsBool() {
		rv = h.ChainStart(ctx, zone)
	}
	if rv == OK {
		rv = h.AssertChained(ctx, zone)
	}
	return rv
}

func (h *Handlers) GotoUnchained(ctx context.Context, zone string) Result {
	rv := OK
	if h.Store.Get(zone, FlagChaining).AsBool() && !h.passed(zone, FlagChained) {
		rv = h.GotoChained(ctx, zone)
	}
	if rv == OK && h.Store.Get(zone, FlagChaining).AsBool() && h.passed(zone, FlagChained) {
		rv = h.ChainStop(ctx, zone)
	}
	if rv == OK && !h.Store.Get(zone, FlagChaining).AsBool() {
		rv = h.AssertUnchained(ctx, zone)
	}
	return rv
}

func (h *Handlers) GotoUnsigned(ctx context.Context, zone string) Result {
	rv := OK
	if h.Store.Get(zone, FlagSigned).AsBool() {
		switch {
		case !h.passed(zone, FlagSigned):
			rv = h.GotoSigned(ctx, zone)
		case h.Store.Get(zone, FlagChained).AsBool():
			rv = h.GotoUnchained(ctx, zone)
		default:
			rv = h.AssertUnchained(ctx, zone)
		}
	}
	if rv == OK && h.Store.Get(zone, FlagSigned).AsBool() && !h.Store.Get(zone, FlagChained).AsBool() {
		rv = h.SignStop(ctx, zone)
	}
	if rv == OK && !h.Store.Get(zone, FlagSigned).AsBool() {
		rv = h.AssertUnsigned(ctx, zone)
	}
	return rv
}

// --- Housekeeping commands ---------------------------------------------

// DropDead unconditionally tears a zone down with no precondition
// checks, per §4.4's explicit warning that this bypasses the usual
// care taken by the other commands.
func (h *Handlers) DropDead(ctx context.Context, zone string) Result {
	return h.withZoneLock(zone, func() Result {
		if err := h.Back.UnmanageZone(ctx, zone); err != nil {
			log.Printf("Handlers.DropDead(%s): unmanage_zone: %v", zone, err)
		}
		h.Store.Set(zone, FlagSigning, false)
		h.Store.Set(zone, FlagSigned, false)
		h.Store.Set(zone, FlagChaining, false)
		h.Store.Set(zone, FlagChained, false)
		h.Store.Set(zone, FlagDSTtl, false)
		h.Store.Set(zone, FlagDNSKeyTtl, false)
		h.Store.Set(zone, FlagUnchained, false)
		h.Store.Set(zone, FlagUnsigning, false)
		return OK
	})
}

// UpdateSignedFunc lets a deployment hook a "resign now" action into
// update_signed, the Go equivalent of localrules.update_signed.
type UpdateSignedFunc func(zone string) bool

func (h *Handlers) UpdateSigned(ctx context.Context, zone string, update UpdateSignedFunc) Result {
	return h.withZoneLock(zone, func() Result {
		if !h.Store.Get(zone, FlagSigned).AsBool() {
			return BADSTATE
		}
		if update == nil || !update(zone) {
			return ERROR
		}
		return OK
	})
}
