package mock

import (
	"errors"
	"fmt"
	"time"
)

const (
	// ErrorCode is the made-up code carried by every failure event.
	ErrorCode = 1
	// ErrorMessage is the made-up message carried by every failure event.
	ErrorMessage = "fail"
	// DefaultDelay is how long an operation waits before its callback fires.
	DefaultDelay = 20 * time.Millisecond
	// DefaultWaitTimeout bounds WaitFor unless WithWaitTimeout overrides it.
	DefaultWaitTimeout = 2 * time.Second
)

// Record is a key/value pair held by the mock store.
type Record struct {
	Key   any `json:"key"`
	Value any `json:"value"`
}

// Flags selects the outcome each operation simulates.
type Flags struct {
	CanOpenDB         bool `json:"canOpenDB"`
	OpenDBShouldBlock bool `json:"openDBShouldBlock"`
	OpenDBShouldAbort bool `json:"openDBShouldAbort"`
	UpgradeNeeded     bool `json:"upgradeNeeded"`
	CanReadDB         bool `json:"canReadDB"`
	CanSave           bool `json:"canSave"`
	CanDelete         bool `json:"canDelete"`
	CanClear          bool `json:"canClear"`
	CanCreateStore    bool `json:"canCreateStore"`
	CanDeleteDB       bool `json:"canDeleteDB"`
}

// DefaultFlags returns flags under which everything succeeds.
func DefaultFlags() Flags {
	return Flags{
		CanOpenDB:      true,
		CanReadDB:      true,
		CanSave:        true,
		CanDelete:      true,
		CanClear:       true,
		CanCreateStore: true,
		CanDeleteDB:    true,
	}
}

// Outcome enumerates the callbacks an operation can end in.
type Outcome int

// Each outcome names the handler slot it is delivered to. OutcomeNone means
// nothing has fired yet.
const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeError
	OutcomeBlocked
	OutcomeAbort
	OutcomeUpgradeNeeded
	OutcomeComplete // add and put, on the transaction

	outcomeCount
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeAbort:
		return "abort"
	case OutcomeUpgradeNeeded:
		return "upgradeneeded"
	case OutcomeComplete:
		return "complete"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Operation identifies an operation kind. Each kind owns one timer slot.
type Operation int

// Operation kinds, one per asynchronous call the mock supports. OpSave
// covers both Add and Put; OpContinue is Cursor.Continue.
const (
	OpOpenDB Operation = iota
	OpDeleteDB
	OpCreateStore
	OpSave
	OpDelete
	OpClear
	OpOpenCursor
	OpContinue
)

// Operations lists every operation kind.
var Operations = []Operation{OpOpenDB, OpDeleteDB, OpCreateStore, OpSave, OpDelete, OpClear, OpOpenCursor, OpContinue}

func (op Operation) String() string {
	switch op {
	case OpOpenDB:
		return "openDB"
	case OpDeleteDB:
		return "deleteDB"
	case OpCreateStore:
		return "createObjectStore"
	case OpSave:
		return "save"
	case OpDelete:
		return "delete"
	case OpClear:
		return "clear"
	case OpOpenCursor:
		return "openCursor"
	case OpContinue:
		return "continue"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Error is the single synthetic failure reported by the mock.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("mock idb: error %d: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so errors.Is(err, ErrFail) holds
// for copies of the payload.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	// ErrFail is the payload attached to every failure event.
	ErrFail = &Error{Code: ErrorCode, Message: ErrorMessage}

	// ErrNotFired is returned by WaitFor when no outcome arrived in time.
	ErrNotFired = errors.New("mock idb: operation has not fired")
)

// EventTarget mirrors the target of a storage engine event.
type EventTarget struct {
	Result      any                       `json:"result,omitempty"`
	ErrorCode   int                       `json:"errorCode,omitempty"`
	Error       *Error                    `json:"error,omitempty"`
	Transaction *VersionChangeTransaction `json:"-"`
}

// Event is delivered to every registered handler.
type Event struct {
	Type       string      `json:"type"`
	Bubbles    bool        `json:"bubbles"`
	Cancelable bool        `json:"cancelable"`
	Target     EventTarget `json:"target"`
}

// Cursor returns the cursor carried by a cursor success event, or nil when
// iteration is exhausted.
func (e Event) Cursor() *Cursor {
	c, _ := e.Target.Result.(*Cursor)
	return c
}

// Database returns the database carried by an open or upgrade event.
func (e Event) Database() *Database {
	db, _ := e.Target.Result.(*Database)
	return db
}

// Err returns the failure payload, if any.
func (e Event) Err() error {
	if e.Target.Error == nil {
		return nil
	}
	return e.Target.Error
}

// Handler receives an event when a callback fires.
type Handler func(Event)

func successEvent(result any) Event {
	return Event{Type: "success", Cancelable: true, Target: EventTarget{Result: result}}
}

func completeEvent() Event {
	return Event{Type: "complete", Cancelable: true}
}

func failureEvent() Event {
	return Event{
		Type:       "error",
		Bubbles:    true,
		Cancelable: true,
		Target: EventTarget{
			ErrorCode: ErrorCode,
			Error:     &Error{Code: ErrorCode, Message: ErrorMessage},
		},
	}
}

// StoreOptions is accepted by CreateObjectStore and otherwise ignored.
type StoreOptions struct {
	KeyPath       string
	AutoIncrement bool
}

// IndexOptions is accepted by CreateIndex and otherwise ignored.
type IndexOptions struct {
	Unique     bool
	MultiEntry bool
}
