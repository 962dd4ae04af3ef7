package mock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/szimmers/mock-indexeddb/internal/devseed"
)

// Mock is an in-memory stand-in for an asynchronous object-store engine.
// Every operation resolves through a callback fired after a fixed delay, with
// the outcome selected by Flags. Construct one per test or Reset between tests.
type Mock struct {
	id          string
	log         *logrus.Entry
	delay       time.Duration
	waitTimeout time.Duration

	mu          sync.Mutex
	flags       Flags
	items       []Record
	cursorIndex int
	cursorDone  bool
	dbName      string
	dbVersion   int
	generation  uint64
	seq         map[Operation]uint64
	fired       map[Operation]Outcome

	// event loop state, see loop
	queue   []callback
	running bool
	firing  uint64
	wake    chan struct{}

	openDBRequest   *Request
	deleteDBRequest *Request
	storeRequest    *Request
	cursorRequest   *Request
	transaction     *Transaction
	store           *ObjectStore
	database        *Database
	cursor          *Cursor
}

// Option configures a Mock.
type Option func(*Mock)

// WithDelay sets the artificial latency of every operation.
func WithDelay(d time.Duration) Option {
	return func(m *Mock) {
		if d > 0 {
			m.delay = d
		}
	}
}

// WithWaitTimeout bounds how long WaitFor polls before giving up.
func WithWaitTimeout(d time.Duration) Option {
	return func(m *Mock) {
		if d > 0 {
			m.waitTimeout = d
		}
	}
}

// WithLogger routes mock logging through entry.
func WithLogger(entry *logrus.Entry) Option {
	return func(m *Mock) {
		if entry != nil {
			m.log = entry
		}
	}
}

// New creates a mock in its default state: no records, everything succeeds.
func New(opts ...Option) *Mock {
	m := &Mock{
		id:          uuid.NewString(),
		delay:       DefaultDelay,
		waitTimeout: DefaultWaitTimeout,
		flags:       DefaultFlags(),
		seq:         make(map[Operation]uint64),
		fired:       make(map[Operation]Outcome),
		wake:        make(chan struct{}, 1),
		log:         logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithFields(logrus.Fields{"component": "mock-idb", "instance": m.id})

	m.database = &Database{m: m}
	m.openDBRequest = &Request{result: m.database}
	m.deleteDBRequest = &Request{}
	m.storeRequest = &Request{}
	m.cursorRequest = &Request{}
	m.transaction = &Transaction{m: m}
	m.store = &ObjectStore{m: m}
	m.cursor = &Cursor{m: m}
	return m
}

// ID identifies this mock instance in logs.
func (m *Mock) ID() string { return m.id }

// Delay reports the configured callback latency.
func (m *Mock) Delay() time.Duration { return m.delay }

// Reset restores the freshly constructed state: default flags, no records,
// cursor at zero, no registered handlers. Callbacks scheduled before the
// reset never fire, including one whose dispatch is already under way.
func (m *Mock) Reset() {
	m.mu.Lock()
	dropped := len(m.queue)
	m.queue = nil
	m.generation++
	m.items = nil
	m.cursorIndex = 0
	m.cursorDone = false
	m.dbName = ""
	m.dbVersion = 0
	m.flags = DefaultFlags()
	m.fired = make(map[Operation]Outcome)
	m.mu.Unlock()

	for _, s := range []*slots{
		&m.openDBRequest.slots,
		&m.deleteDBRequest.slots,
		&m.storeRequest.slots,
		&m.cursorRequest.slots,
		&m.transaction.slots,
		&m.store.slots,
	} {
		s.clear()
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
	m.log.Debugf("reset, %d callbacks dropped", dropped)
}

// CommitData appends a record ahead of the code under test reading it.
func (m *Mock) CommitData(key, value any) {
	m.mu.Lock()
	m.items = append(m.items, Record{Key: key, Value: value})
	m.mu.Unlock()
}

// Seed appends records from fixture entries.
func (m *Mock) Seed(entries []devseed.RecordEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range entries {
		if e.Key == nil {
			return fmt.Errorf("mock idb: seed entry %d missing key", i)
		}
		m.items = append(m.items, Record{Key: e.Key, Value: e.Value})
	}
	return nil
}

// ApplyFixture seeds records and applies the fixture's flag overrides.
func (m *Mock) ApplyFixture(fx *devseed.Fixture) error {
	if fx == nil {
		return nil
	}
	if err := m.Seed(fx.Records); err != nil {
		return err
	}
	if fx.Flags != nil {
		m.Configure(func(f *Flags) { applyOverrides(f, fx.Flags) })
	}
	return nil
}

func applyOverrides(f *Flags, o *devseed.FlagOverrides) {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&f.CanOpenDB, o.CanOpenDB)
	set(&f.OpenDBShouldBlock, o.OpenDBShouldBlock)
	set(&f.OpenDBShouldAbort, o.OpenDBShouldAbort)
	set(&f.UpgradeNeeded, o.UpgradeNeeded)
	set(&f.CanReadDB, o.CanReadDB)
	set(&f.CanSave, o.CanSave)
	set(&f.CanDelete, o.CanDelete)
	set(&f.CanClear, o.CanClear)
	set(&f.CanCreateStore, o.CanCreateStore)
	set(&f.CanDeleteDB, o.CanDeleteDB)
}

// Flags returns a copy of the current control flags.
func (m *Mock) Flags() Flags {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags
}

// SetFlags replaces the control flags.
func (m *Mock) SetFlags(f Flags) {
	m.mu.Lock()
	m.flags = f
	m.mu.Unlock()
}

// Configure mutates the control flags in place.
func (m *Mock) Configure(fn func(*Flags)) {
	m.mu.Lock()
	fn(&m.flags)
	m.mu.Unlock()
}

// Records returns a copy of the committed records.
func (m *Mock) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.items...)
}

// CursorPosition returns the shared cursor index.
func (m *Mock) CursorPosition() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursorIndex
}

// CursorDone reports whether the last cursor callback signalled the end.
func (m *Mock) CursorDone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursorDone
}

// Fired returns the outcome last delivered for op. It is cleared whenever a
// new call of the same kind is scheduled.
func (m *Mock) Fired(op Operation) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fired[op]
}

// Pending counts callbacks scheduled since the last Reset that have not
// started firing.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Database returns the shared database handle.
func (m *Mock) Database() *Database { return m.database }

// Open requests a database. The name is ignored since the mock keeps a single
// database. Exactly one of blocked, abort, upgrade-needed, success or error
// fires, checked in that order.
func (m *Mock) Open(name string, version int) *Request {
	req := m.openDBRequest

	m.mu.Lock()
	m.dbName = name
	m.dbVersion = version
	f := m.flags
	m.mu.Unlock()

	switch {
	case f.OpenDBShouldBlock:
		m.schedule(OpOpenDB, OutcomeBlocked, func() {
			m.deliver(&req.slots, OutcomeBlocked, failureEvent())
		})
	case f.OpenDBShouldAbort:
		m.schedule(OpOpenDB, OutcomeAbort, func() {
			m.deliver(&req.slots, OutcomeAbort, failureEvent())
		})
	case f.UpgradeNeeded:
		m.schedule(OpOpenDB, OutcomeUpgradeNeeded, func() {
			ev := Event{
				Type:       "upgradeneeded",
				Cancelable: true,
				Target: EventTarget{
					Result:      m.database,
					Transaction: &VersionChangeTransaction{m: m},
				},
			}
			m.deliver(&req.slots, OutcomeUpgradeNeeded, ev)
		})
	case f.CanOpenDB:
		m.schedule(OpOpenDB, OutcomeSuccess, func() {
			m.deliver(&req.slots, OutcomeSuccess, successEvent(m.database))
		})
	default:
		m.schedule(OpOpenDB, OutcomeError, func() {
			m.deliver(&req.slots, OutcomeError, failureEvent())
		})
	}
	return req
}

// DeleteDatabase fires success or error per CanDeleteDB. The name is ignored.
func (m *Mock) DeleteDatabase(name string) *Request {
	m.log.Tracef("deleteDatabase %q", name)
	return m.resolve(OpDeleteDB, m.deleteDBRequest, m.flag(func(f Flags) bool { return f.CanDeleteDB }))
}

// resolve schedules a plain success-or-error outcome on req.
func (m *Mock) resolve(op Operation, req *Request, ok bool) *Request {
	if ok {
		m.schedule(op, OutcomeSuccess, func() {
			m.deliver(&req.slots, OutcomeSuccess, successEvent(nil))
		})
	} else {
		m.schedule(op, OutcomeError, func() {
			m.deliver(&req.slots, OutcomeError, failureEvent())
		})
	}
	return req
}

func (m *Mock) flag(pick func(Flags) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pick(m.flags)
}

// deliver invokes the handler registered for o, if any. A Reset that lands
// after dispatch started still suppresses the callback.
func (m *Mock) deliver(s *slots, o Outcome, ev Event) {
	m.mu.Lock()
	if m.stale() {
		m.mu.Unlock()
		m.log.Tracef("%s callback dropped after reset", o)
		return
	}
	h := s.get(o)
	m.mu.Unlock()
	if h == nil {
		m.log.Tracef("no %s handler registered, skipping", o)
		return
	}
	h(ev)
}
