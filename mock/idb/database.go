package mock

// Database is the handle produced by a successful open.
type Database struct {
	m *Mock
}

// Name returns the name passed to the most recent Open.
func (db *Database) Name() string {
	db.m.mu.Lock()
	defer db.m.mu.Unlock()
	return db.m.dbName
}

// Version returns the version passed to the most recent Open.
func (db *Database) Version() int {
	db.m.mu.Lock()
	defer db.m.mu.Unlock()
	return db.m.dbVersion
}

// Transaction returns the shared transaction; stores and mode are ignored.
func (db *Database) Transaction(stores []string, mode string) *Transaction {
	return db.m.transaction
}

// Close is a no-op.
func (db *Database) Close() {}

// ObjectStoreNames lists the stores known to the database.
func (db *Database) ObjectStoreNames() StoreNames {
	return StoreNames{}
}

// StoreNames never contains anything, so callers always take the create path.
type StoreNames struct{}

// Contains reports false for every name.
func (StoreNames) Contains(name string) bool { return false }

// CreateObjectStore returns the shared store and fires its success or error
// handler after the delay, depending on CanCreateStore.
func (db *Database) CreateObjectStore(name string, opts StoreOptions) *ObjectStore {
	m := db.m
	store := m.store
	if m.flag(func(f Flags) bool { return f.CanCreateStore }) {
		m.schedule(OpCreateStore, OutcomeSuccess, func() {
			m.deliver(&store.slots, OutcomeSuccess, successEvent(nil))
		})
	} else {
		m.schedule(OpCreateStore, OutcomeError, func() {
			m.deliver(&store.slots, OutcomeError, failureEvent())
		})
	}
	return store
}
