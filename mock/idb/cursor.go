package mock

// Cursor walks the committed records in insertion order. Its position is
// shared by the whole mock, so only one consumer may iterate at a time.
type Cursor struct {
	m *Mock
}

// Key returns the key at the current position, or nil once exhausted.
func (c *Cursor) Key() any {
	if rec, ok := c.current(); ok {
		return rec.Key
	}
	return nil
}

// Value returns the value at the current position, or nil once exhausted.
func (c *Cursor) Value() any {
	if rec, ok := c.current(); ok {
		return rec.Value
	}
	return nil
}

// ResultCount is the number of committed records.
func (c *Cursor) ResultCount() int {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	return len(c.m.items)
}

// Continue advances the position and fires the cursor request's success
// handler with the next record, or a nil result when iteration is done.
func (c *Cursor) Continue() *Request {
	m := c.m
	m.mu.Lock()
	m.cursorIndex++
	m.mu.Unlock()

	req := m.cursorRequest
	m.schedule(OpContinue, OutcomeSuccess, func() {
		m.deliver(&req.slots, OutcomeSuccess, m.cursorEvent())
	})
	return req
}

func (c *Cursor) current() (Record, bool) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if c.m.cursorIndex < len(c.m.items) {
		return c.m.items[c.m.cursorIndex], true
	}
	return Record{}, false
}

// cursorEvent is evaluated when the callback fires, not when it is scheduled.
func (m *Mock) cursorEvent() Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stale() {
		return Event{}
	}
	if m.cursorIndex < len(m.items) {
		m.cursorDone = false
		return successEvent(m.cursor)
	}
	m.cursorDone = true
	return successEvent(nil)
}
