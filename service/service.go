package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"fundbook/domain/orderbook"
	"fundbook/infra/codec"
	"fundbook/infra/identity"
	"fundbook/infra/ledger"
	"fundbook/infra/notify"
	"fundbook/infra/sequence"
	"fundbook/infra/store"
	entrywal "fundbook/infra/wal/entry"
	exitwal "fundbook/infra/wal/exit"
)

const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Options are the tunables of the service.
type Options struct {
	DefaultTTL    time.Duration
	TokenDecimals int32

	// SettlementMode is ModeSync (settle inside Submit) or ModeAsync
	// (return MATCHED, settle in the background).
	SettlementMode   string
	SettleAttempts   int
	SettleBaseDelay  time.Duration
	MaxRetries       uint32
	RetryBaseBackoff time.Duration
}

func (o *Options) applyDefaults() {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = time.Hour
	}
	if o.SettlementMode == "" {
		o.SettlementMode = ModeSync
	}
	if o.SettleAttempts <= 0 {
		o.SettleAttempts = 3
	}
	if o.SettleBaseDelay <= 0 {
		o.SettleBaseDelay = 200 * time.Millisecond
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 10
	}
	if o.RetryBaseBackoff <= 0 {
		o.RetryBaseBackoff = time.Second
	}
}

// Emitter receives fire-and-forget events.
type Emitter interface {
	Emit(e notify.Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(notify.Event) {}

// Deps are the collaborators of the service. Journal and Events are
// optional.
type Deps struct {
	Store      *store.Store
	Outbox     *exitwal.Outbox
	Journal    *entrywal.WAL
	Identity   identity.Resolver
	Settlement ledger.SettlementGateway
	Fallback   ledger.FallbackGateway
	Events     Emitter
	Sequencer  *sequence.Sequencer
	Log        *zap.Logger
	Now        func() time.Time
}

type partition struct {
	mu   sync.Mutex
	book *orderbook.Book
}

/*
OrderService is the ONLY write entry point into the order book.

Coordination between
- domain (orderbook)
- infra (store, outbox, journal, ledger, notify)
happens here.
*/
type OrderService struct {
	opts Options

	store    *store.Store
	outbox   *exitwal.Outbox
	journal  *entrywal.WAL
	identity identity.Resolver
	settler  ledger.SettlementGateway
	pool     ledger.FallbackGateway
	events   Emitter
	seq      *sequence.Sequencer
	log      *zap.Logger
	now      func() time.Time

	partMu sync.Mutex
	parts  map[string]*partition

	sweeping atomic.Bool
	// fallback outcomes the store refused; only touched while sweeping
	unsaved map[string]*orderbook.FallbackOutcome

	// background settlements in async mode
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// New wires all dependencies.
// No globals. No magic.
func New(opts Options, d Deps) *OrderService {
	opts.applyDefaults()
	if d.Events == nil {
		d.Events = nopEmitter{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sequencer == nil {
		d.Sequencer = sequence.New(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &OrderService{
		opts:     opts,
		store:    d.Store,
		outbox:   d.Outbox,
		journal:  d.Journal,
		identity: d.Identity,
		settler:  d.Settlement,
		pool:     d.Fallback,
		events:   d.Events,
		seq:      d.Sequencer,
		log:      d.Log.Named("orders"),
		now:      func() time.Time { return d.Now().UTC() },
		parts:    make(map[string]*partition),
		unsaved:  make(map[string]*orderbook.FallbackOutcome),
		bgCtx:    ctx,
		bgCancel: cancel,
	}
}

// Close stops background settlements and waits for them.
func (s *OrderService) Close() {
	s.bgCancel()
	s.bg.Wait()
}

// Options returns the effective options.
func (s *OrderService) Options() Options {
	return s.opts
}

func (s *OrderService) partition(instrument string) *partition {
	s.partMu.Lock()
	defer s.partMu.Unlock()
	p, ok := s.parts[instrument]
	if !ok {
		p = &partition{book: orderbook.NewBook(instrument)}
		s.parts[instrument] = p
	}
	return p
}

func (s *OrderService) instruments() []string {
	s.partMu.Lock()
	defer s.partMu.Unlock()
	out := make([]string, 0, len(s.parts))
	for k := range s.parts {
		out = append(out, k)
	}
	return out
}

// BookDepth reports how many orders rest on each side of instrument.
func (s *OrderService) BookDepth(instrument string) (bids, asks int) {
	p := s.partition(instrument)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.book.Len(orderbook.Buy), p.book.Len(orderbook.Sell)
}

// record journals the post-transition state of each order. The store is
// canonical, so a journal failure is logged and never fails the caller.
func (s *OrderService) record(t entrywal.RecordType, orders ...*orderbook.Order) {
	if s.journal == nil {
		return
	}
	for _, o := range orders {
		if _, err := s.journal.Append(t, codec.MarshalOrder(o)); err != nil {
			s.log.Error("journal append failed",
				zap.Stringer("type", t),
				zap.String("order_id", o.ID),
				zap.Error(err))
		}
	}
}

func (s *OrderService) emit(t notify.EventType, o *orderbook.Order, fill func(*notify.Event)) {
	e := notify.Event{
		Type:           t,
		OrderID:        o.ID,
		CounterOrderID: o.MatchedOrderID,
		Instrument:     o.Instrument,
		Maker:          o.Maker,
		Status:         o.Status.String(),
		TxRef:          o.SettlementTxHash,
		Amount:         o.TokenAmount,
		At:             s.now(),
	}
	if fill != nil {
		fill(&e)
	}
	s.events.Emit(e)
}
