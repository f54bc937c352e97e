package exit

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Namespaces partition the keyspace per consumer.
const (
	NamespaceSettle = "settle"
	NamespaceNotify = "notify"
)

var (
	ErrNotFound     = errors.New("outbox entry not found")
	ErrNotClaimable = errors.New("outbox entry not claimable")
)

// -------------------- Entry --------------------

type Entry struct {
	Key         string
	State       State
	Retries     uint32
	LastAttempt int64
	LastError   string
	Payload     []byte
}

func (e Entry) LastAttemptTime() time.Time {
	if e.LastAttempt == 0 {
		return time.Time{}
	}
	return time.Unix(0, e.LastAttempt)
}

// binary encoding: [state:1][retries:4][lastAttempt:8][errLen:4][err][payload]
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 1+4+8+4, 17+len(e.LastError)+len(e.Payload))
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt))
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(e.LastError)))
	buf = append(buf, e.LastError...)
	return append(buf, e.Payload...)
}

func decodeEntry(key string, b []byte) (Entry, error) {
	if len(b) < 17 {
		return Entry{}, errors.New("invalid outbox record length")
	}
	errLen := int(binary.BigEndian.Uint32(b[13:17]))
	if len(b) < 17+errLen {
		return Entry{}, errors.New("invalid outbox error length")
	}
	payload := make([]byte, len(b)-17-errLen)
	copy(payload, b[17+errLen:])
	return Entry{
		Key:         key,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		LastError:   string(b[17 : 17+errLen]),
		Payload:     payload,
	}, nil
}

// -------------------- Outbox --------------------

// Outbox is the durable hand-off between a committed state change and its
// side effect. State changes are read-modify-write under one mutex so two
// workers can never both claim an entry.
type Outbox struct {
	db  *pebble.DB
	mu  sync.Mutex
	seq map[string]uint64
	now func() time.Time
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox at %s", dir)
	}
	return newOutbox(db), nil
}

// OpenInMemory runs the outbox on an in-memory filesystem.
func OpenInMemory() (*Outbox, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory outbox")
	}
	return newOutbox(db), nil
}

func newOutbox(db *pebble.DB) *Outbox {
	return &Outbox{db: db, seq: make(map[string]uint64), now: time.Now}
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// -------------------- API --------------------

// Put inserts a NEW entry under key unless one exists. It reports whether
// the entry was created.
func (o *Outbox) Put(ns, key string, payload []byte) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.get(ns, key); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	return true, o.set(ns, Entry{Key: key, State: StateNew, Payload: payload})
}

// Enqueue appends a NEW entry under the next ordered key of ns.
func (o *Outbox) Enqueue(ns string, payload []byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next, ok := o.seq[ns]
	if !ok {
		last, err := o.lastSeq(ns)
		if err != nil {
			return "", err
		}
		next = last
	}
	next++
	key := fmt.Sprintf("%020d", next)
	if err := o.set(ns, Entry{Key: key, State: StateNew, Payload: payload}); err != nil {
		return "", err
	}
	o.seq[ns] = next
	return key, nil
}

// Claim moves a NEW or FAILED entry to SENT and returns it. Only the
// caller that claimed an entry may report its outcome.
func (o *Outbox) Claim(ns, key string) (Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, err := o.get(ns, key)
	if err != nil {
		return Entry{}, err
	}
	if e.State != StateNew && e.State != StateFailed {
		return e, errors.Wrapf(ErrNotClaimable, "%s/%s is %s", ns, key, e.State)
	}
	e.State = StateSent
	e.LastAttempt = o.now().UnixNano()
	return e, o.set(ns, e)
}

// Release returns a SENT entry to NEW without counting a retry. Used when
// the attempt was abandoned before reaching the remote side.
func (o *Outbox) Release(ns, key string) error {
	return o.transition(ns, key, StateSent, func(e *Entry) {
		e.State = StateNew
	})
}

func (o *Outbox) MarkAcked(ns, key string) error {
	return o.transition(ns, key, StateSent, func(e *Entry) {
		e.State = StateAcked
		e.LastError = ""
	})
}

func (o *Outbox) MarkFailed(ns, key string, cause error) error {
	return o.transition(ns, key, StateSent, func(e *Entry) {
		e.State = StateFailed
		e.Retries++
		if cause != nil {
			e.LastError = cause.Error()
		}
	})
}

// Reset clears the retry budget of a FAILED entry and makes it NEW again.
func (o *Outbox) Reset(ns, key string) error {
	return o.transition(ns, key, StateFailed, func(e *Entry) {
		e.State = StateNew
		e.Retries = 0
	})
}

// RequeueSent returns every SENT entry of ns to NEW. Called once at
// startup: a SENT entry means the process died mid-attempt.
func (o *Outbox) RequeueSent(ns string) (int, error) {
	var keys []string
	err := o.ScanByState(ns, StateSent, func(e Entry) error {
		keys = append(keys, e.Key)
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := o.Release(ns, k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// Get returns the current entry.
func (o *Outbox) Get(ns, key string) (Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.get(ns, key)
}

// Delete removes an entry (cleanup).
func (o *Outbox) Delete(ns, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.db.Delete(keyFor(ns, key), pebble.Sync)
}

// PurgeAcked deletes every ACKED entry of ns.
func (o *Outbox) PurgeAcked(ns string) (int, error) {
	var keys []string
	err := o.ScanByState(ns, StateAcked, func(e Entry) error {
		keys = append(keys, e.Key)
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := o.Delete(ns, k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// -------------------- Scan --------------------

// Scan iterates every entry of ns in key order.
func (o *Outbox) Scan(ns string, fn func(Entry) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(ns + "/"),
		UpperBound: []byte(ns + "0"), // '0' follows '/'
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		e, err := decodeEntry(parseKey(ns, iter.Key()), iter.Value())
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ScanByState iterates the entries of ns in the given state.
func (o *Outbox) ScanByState(ns string, state State, fn func(Entry) error) error {
	return o.Scan(ns, func(e Entry) error {
		if e.State != state {
			return nil
		}
		return fn(e)
	})
}

// -------------------- Helpers --------------------

func (o *Outbox) transition(ns, key string, from State, apply func(*Entry)) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, err := o.get(ns, key)
	if err != nil {
		return err
	}
	if e.State != from {
		return errors.Errorf("%s/%s: expected %s, found %s", ns, key, from, e.State)
	}
	apply(&e)
	e.LastAttempt = o.now().UnixNano()
	return o.set(ns, e)
}

func (o *Outbox) get(ns, key string) (Entry, error) {
	val, closer, err := o.db.Get(keyFor(ns, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Entry{}, errors.Wrapf(ErrNotFound, "%s/%s", ns, key)
		}
		return Entry{}, err
	}
	defer closer.Close()
	return decodeEntry(key, val)
}

func (o *Outbox) set(ns string, e Entry) error {
	return o.db.Set(keyFor(ns, e.Key), encodeEntry(e), pebble.Sync)
}

func (o *Outbox) lastSeq(ns string) (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(ns + "/"),
		UpperBound: []byte(ns + "0"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	n, err := strconv.ParseUint(parseKey(ns, iter.Key()), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "non-sequential key in %s", ns)
	}
	return n, nil
}

func keyFor(ns, key string) []byte {
	return []byte(ns + "/" + key)
}

func parseKey(ns string, b []byte) string {
	return string(b[len(ns)+1:])
}
