package mock

import "sync"

// slots holds the callbacks registered on a handle.
type slots struct {
	mu       sync.Mutex
	handlers [outcomeCount]Handler
}

func (s *slots) set(o Outcome, h Handler) {
	s.mu.Lock()
	s.handlers[o] = h
	s.mu.Unlock()
}

func (s *slots) get(o Outcome) Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[o]
}

func (s *slots) clear() {
	s.mu.Lock()
	s.handlers = [outcomeCount]Handler{}
	s.mu.Unlock()
}

// Request is returned synchronously by asynchronous operations. Handlers must
// be registered before the mock's delay elapses; an empty slot is skipped.
type Request struct {
	slots
	result any
}

// OnSuccess registers the success handler.
func (r *Request) OnSuccess(h Handler) *Request { r.set(OutcomeSuccess, h); return r }

// OnError registers the error handler.
func (r *Request) OnError(h Handler) *Request { r.set(OutcomeError, h); return r }

// OnBlocked registers the blocked handler.
func (r *Request) OnBlocked(h Handler) *Request { r.set(OutcomeBlocked, h); return r }

// OnAbort registers the abort handler.
func (r *Request) OnAbort(h Handler) *Request { r.set(OutcomeAbort, h); return r }

// OnUpgradeNeeded registers the upgrade-needed handler.
func (r *Request) OnUpgradeNeeded(h Handler) *Request { r.set(OutcomeUpgradeNeeded, h); return r }

// Result is the request's result object (the database for open requests).
func (r *Request) Result() any { return r.result }

// Transaction carries completion callbacks for add and put.
type Transaction struct {
	slots
	m *Mock
}

// ObjectStore returns the mock's single store; name is ignored.
func (t *Transaction) ObjectStore(name string) *ObjectStore {
	return t.m.store
}

// OnComplete registers the completion handler.
func (t *Transaction) OnComplete(h Handler) *Transaction { t.set(OutcomeComplete, h); return t }

// OnError registers the error handler.
func (t *Transaction) OnError(h Handler) *Transaction { t.set(OutcomeError, h); return t }

// VersionChangeTransaction is handed to upgrade-needed handlers.
type VersionChangeTransaction struct {
	m *Mock
}

// Abort makes the next Open fire its abort callback.
func (t *VersionChangeTransaction) Abort() {
	t.m.Configure(func(f *Flags) { f.OpenDBShouldAbort = true })
	t.m.log.Debug("upgrade transaction aborted")
}
