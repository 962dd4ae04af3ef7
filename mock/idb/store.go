package mock

// ObjectStore is the mock's only store. Add and Put report through the
// shared transaction, while Delete, Clear and OpenCursor report through a
// request, matching where listeners attach in the real engine.
type ObjectStore struct {
	slots
	m *Mock
}

// OnSuccess registers the handler fired after CreateObjectStore succeeds.
func (s *ObjectStore) OnSuccess(h Handler) *ObjectStore { s.set(OutcomeSuccess, h); return s }

// OnError registers the handler fired after CreateObjectStore fails.
func (s *ObjectStore) OnError(h Handler) *ObjectStore { s.set(OutcomeError, h); return s }

// Add appends rec when CanSave is set and fires the transaction's complete
// handler; otherwise nothing is stored and the error handler fires.
func (s *ObjectStore) Add(rec Record) *Transaction {
	return s.save("add", rec)
}

// Put behaves exactly like Add. It always appends.
func (s *ObjectStore) Put(rec Record) *Transaction {
	return s.save("put", rec)
}

func (s *ObjectStore) save(verb string, rec Record) *Transaction {
	m := s.m
	tx := m.transaction

	m.mu.Lock()
	ok := m.flags.CanSave
	if ok {
		m.items = append(m.items, rec)
	}
	m.mu.Unlock()

	m.log.WithField("verb", verb).Tracef("save key=%v accepted=%t", rec.Key, ok)
	if ok {
		m.schedule(OpSave, OutcomeComplete, func() {
			m.deliver(&tx.slots, OutcomeComplete, completeEvent())
		})
	} else {
		m.schedule(OpSave, OutcomeError, func() {
			m.deliver(&tx.slots, OutcomeError, failureEvent())
		})
	}
	return tx
}

// Delete fires the store request's success or error handler per CanDelete.
// Records are not removed.
func (s *ObjectStore) Delete(id any) *Request {
	m := s.m
	m.log.Tracef("delete id=%v", id)
	return m.resolve(OpDelete, m.storeRequest, m.flag(func(f Flags) bool { return f.CanDelete }))
}

// Clear fires the store request's success or error handler per CanClear.
// Records are not removed.
func (s *ObjectStore) Clear() *Request {
	m := s.m
	return m.resolve(OpClear, m.storeRequest, m.flag(func(f Flags) bool { return f.CanClear }))
}

// CreateIndex is accepted and ignored.
func (s *ObjectStore) CreateIndex(name, keyPath string, opts IndexOptions) {}

// OpenCursor fires the cursor request's success handler with the cursor
// positioned at the shared index, or its error handler when CanReadDB is off.
func (s *ObjectStore) OpenCursor() *Request {
	m := s.m
	req := m.cursorRequest
	if m.flag(func(f Flags) bool { return f.CanReadDB }) {
		m.schedule(OpOpenCursor, OutcomeSuccess, func() {
			m.deliver(&req.slots, OutcomeSuccess, m.cursorEvent())
		})
	} else {
		m.schedule(OpOpenCursor, OutcomeError, func() {
			m.deliver(&req.slots, OutcomeError, failureEvent())
		})
	}
	return req
}
