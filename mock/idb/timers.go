package mock

import "time"

// callback is one scheduled delivery waiting in the mock's queue.
type callback struct {
	op      Operation
	outcome Outcome
	gen     uint64
	seq     uint64
	due     time.Time
	fire    func()
}

// schedule queues fire to run after the mock's delay. The delay is fixed per
// mock, so the queue stays ordered by due time and callbacks fire in the
// order they were scheduled.
func (m *Mock) schedule(op Operation, outcome Outcome, fire func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq[op]++
	m.fired[op] = OutcomeNone
	m.queue = append(m.queue, callback{
		op:      op,
		outcome: outcome,
		gen:     m.generation,
		seq:     m.seq[op],
		due:     time.Now().Add(m.delay),
		fire:    fire,
	})
	if !m.running {
		m.running = true
		go m.loop()
	}
	m.log.Debugf("%s scheduled %s in %s", op, outcome, m.delay)
}

// loop is the mock's event loop. It fires due callbacks one at a time and
// exits once the queue drains; the next schedule starts it again.
func (m *Mock) loop() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.running = false
			m.mu.Unlock()
			return
		}
		head := m.queue[0]
		wait := time.Until(head.due)
		if wait <= 0 {
			m.queue = m.queue[1:]
			m.mu.Unlock()
			m.dispatch(head)
			continue
		}
		m.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-m.wake:
			t.Stop()
		}
	}
}

// dispatch runs one callback. Fired is only updated when no newer call of the
// same kind was scheduled meanwhile, including from inside the handler.
func (m *Mock) dispatch(cb callback) {
	m.mu.Lock()
	if cb.gen != m.generation {
		m.mu.Unlock()
		m.log.Tracef("%s callback dropped after reset", cb.op)
		return
	}
	m.firing = cb.gen
	m.mu.Unlock()

	cb.fire()

	m.mu.Lock()
	if cb.gen == m.generation && m.seq[cb.op] == cb.seq {
		m.fired[cb.op] = cb.outcome
	}
	m.mu.Unlock()
	m.log.Debugf("%s fired %s", cb.op, cb.outcome)
}

// stale reports whether the callback being fired predates the last Reset.
// Callers hold m.mu.
func (m *Mock) stale() bool {
	return m.firing != m.generation
}
