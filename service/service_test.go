package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fundbook/infra/identity"
	"fundbook/infra/ledger"
	"fundbook/infra/notify"
	"fundbook/infra/sequence"
	"fundbook/infra/store"
	entrywal "fundbook/infra/wal/entry"
	exitwal "fundbook/infra/wal/exit"
)

// Digit-only addresses are their own checksum form.
const (
	sellerAddr = "0x1111111111111111111111111111111111111111"
	buyerAddr  = "0x4444444444444444444444444444444444444444"
	thirdAddr  = "0x5555555555555555555555555555555555555555"
	fundA      = "0x2222222222222222222222222222222222222222"
	fundB      = "0x3333333333333333333333333333333333333333"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Emit(e notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) OfType(t notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc        *OrderService
	sim        *ledger.Simulator
	events     *recorder
	clock      *clock
	backend    *store.MemoryBackend
	store      *store.Store
	outbox     *exitwal.Outbox
	journal    *entrywal.WAL
	journalDir string
	ids        *identity.StaticResolver
	opts       Options
	// pool replaces sim as the fallback gateway when set
	pool ledger.FallbackGateway
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	if opts.SettleBaseDelay == 0 {
		opts.SettleBaseDelay = time.Millisecond
	}

	outbox, err := exitwal.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = outbox.Close() })

	dir := t.TempDir()
	journal, err := entrywal.Open(entrywal.Config{Dir: dir, SegmentSize: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	ids, err := identity.NewStaticResolver(map[string]string{
		"seller": sellerAddr,
		"buyer":  buyerAddr,
		"third":  thirdAddr,
	})
	require.NoError(t, err)

	f := &fixture{
		sim:        ledger.NewSimulator(),
		events:     &recorder{},
		clock:      &clock{t: time.Now().UTC().Truncate(time.Second)},
		backend:    store.NewMemoryBackend(),
		outbox:     outbox,
		journal:    journal,
		journalDir: dir,
		ids:        ids,
		opts:       opts,
	}
	f.store = store.New(f.backend)
	f.svc = f.build(t, f.store)
	return f
}

// build wires a service over st and the fixture's other collaborators.
func (f *fixture) build(t *testing.T, st *store.Store) *OrderService {
	var pool ledger.FallbackGateway = f.sim
	if f.pool != nil {
		pool = f.pool
	}
	svc := New(f.opts, Deps{
		Store:      st,
		Outbox:     f.outbox,
		Journal:    f.journal,
		Identity:   f.ids,
		Settlement: f.sim,
		Fallback:   pool,
		Events:     f.events,
		Sequencer:  sequence.New(0),
		Log:        zaptest.NewLogger(t),
		Now:        f.clock.Now,
	})
	t.Cleanup(svc.Close)
	return svc
}

func sell(amount, price int64) SubmitRequest {
	return SubmitRequest{Side: "SELL", Instrument: fundA, TokenAmount: amount, PricePerToken: price}
}

func buy(amount, price int64) SubmitRequest {
	return SubmitRequest{Side: "BUY", Instrument: fundA, TokenAmount: amount, PricePerToken: price}
}
