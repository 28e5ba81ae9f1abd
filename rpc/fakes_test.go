package rpc

import (
	"context"
	"sync"
	"testing"
)

// fakeProbe is a hand-written Prober double driven entirely by fields
// set up by each test; no generated mocks, since nothing here can be
// regenerated without running the Go toolchain.
type fakeProbe struct {
	signedDNSKEY bool
	dnskeyTTL    uint32
	haveDS       bool
	dsTTL        uint32
	negCacheTTL  uint32
}

func (f *fakeProbe) TestForSignedDNSKEY(ctx context.Context, zone string, scope Scope) bool {
	return f.signedDNSKEY
}
func (f *fakeProbe) DNSKeyTTL(ctx context.Context, zone string, scope Scope) (uint32, error) {
	return f.dnskeyTTL, nil
}
func (f *fakeProbe) HaveDS(ctx context.Context, zone string, scope Scope) bool { return f.haveDS }
func (f *fakeProbe) DSTTL(ctx context.Context, zone string) (uint32, error)    { return f.dsTTL, nil }
func (f *fakeProbe) NegativeCachingTTL(ctx context.Context, zone string, scope Scope) uint32 {
	return f.negCacheTTL
}

// fakeBackend records every zone it was asked to manage/unmanage.
type fakeBackend struct {
	mu        sync.Mutex
	managed   []string
	unmanaged []string
	failManage bool
}

func (b *fakeBackend) ManageZone(ctx context.Context, zone string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failManage {
		return context.DeadlineExceeded
	}
	b.managed = append(b.managed, zone)
	return nil
}

func (b *fakeBackend) UnmanageZone(ctx context.Context, zone string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unmanaged = append(b.unmanaged, zone)
	return nil
}

func newTestHandlers(t testing.TB) (*Handlers, *fakeProbe, *fakeBackend, FlagStore) {
	store, err := NewDirFlagStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	probe := &fakeProbe{dnskeyTTL: 3600, negCacheTTL: 3600, dsTTL: 3600}
	back := &fakeBackend{}
	h := NewHandlers(store, probe, back, PermissiveLocalRules{})
	return h, probe, back, store
}
