package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	idbmock "github.com/szimmers/mock-indexeddb/mock/idb"
)

var errCallbackTimeout = errors.New("callback did not fire in time")

// sandbox owns one mock. Requests are serialized because the mock only
// supports a single consumer.
type sandbox struct {
	mu          sync.Mutex
	mock        *idbmock.Mock
	waitTimeout time.Duration
}

func newSandbox(m *idbmock.Mock, waitTimeout time.Duration) *sandbox {
	if waitTimeout <= 0 {
		waitTimeout = 5 * time.Second
	}
	return &sandbox{mock: m, waitTimeout: waitTimeout}
}

func newRouter(s *sandbox) *httprouter.Router {
	router := httprouter.New()
	router.POST("/reset", s.reset)
	router.GET("/status", s.status)
	router.GET("/records", s.listRecords)
	router.POST("/records", s.commitRecord)
	router.GET("/flags", s.getFlags)
	router.PUT("/flags", s.putFlags)
	router.POST("/databases/:name/open", s.openDatabase)
	router.DELETE("/databases/:name", s.deleteDatabase)
	router.POST("/store", s.createStore)
	router.POST("/store/records", s.saveRecord)
	router.DELETE("/store/records", s.clearStore)
	router.DELETE("/store/records/:id", s.deleteRecord)
	router.GET("/store/scan", s.scan)
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", nil)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
	return router
}

type eventView struct {
	Type       string `json:"type"`
	Bubbles    bool   `json:"bubbles"`
	Cancelable bool   `json:"cancelable"`
	ErrorCode  int    `json:"errorCode,omitempty"`
	Message    string `json:"message,omitempty"`
}

type callResult struct {
	Outcome string    `json:"outcome"`
	Event   eventView `json:"event"`
}

func viewEvent(ev idbmock.Event) eventView {
	v := eventView{
		Type:       ev.Type,
		Bubbles:    ev.Bubbles,
		Cancelable: ev.Cancelable,
		ErrorCode:  ev.Target.ErrorCode,
	}
	if ev.Target.Error != nil {
		v.Message = ev.Target.Error.Message
	}
	return v
}

type delivery struct {
	outcome idbmock.Outcome
	event   idbmock.Event
}

// collector hands out handlers that forward into a channel without ever
// blocking the mock's dispatch, even after the HTTP request gave up.
type collector chan delivery

func (c collector) handler(o idbmock.Outcome) idbmock.Handler {
	return func(ev idbmock.Event) {
		select {
		case c <- delivery{o, ev}:
		default:
			log.Warnf("dropped %s callback, nobody waiting", o)
		}
	}
}

func (c collector) watchRequest(req *idbmock.Request) {
	req.OnSuccess(c.handler(idbmock.OutcomeSuccess)).
		OnError(c.handler(idbmock.OutcomeError)).
		OnBlocked(c.handler(idbmock.OutcomeBlocked)).
		OnAbort(c.handler(idbmock.OutcomeAbort)).
		OnUpgradeNeeded(c.handler(idbmock.OutcomeUpgradeNeeded))
}

func (s *sandbox) await(ctx context.Context, c collector) (delivery, error) {
	timer := time.NewTimer(s.waitTimeout)
	defer timer.Stop()
	select {
	case d := <-c:
		return d, nil
	case <-timer.C:
		return delivery{}, errCallbackTimeout
	case <-ctx.Done():
		return delivery{}, ctx.Err()
	}
}

func (s *sandbox) respond(w http.ResponseWriter, r *http.Request, op string, c collector) {
	d, err := s.await(r.Context(), c)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, op+" failed", err)
		return
	}
	writeResult(w, callResult{Outcome: d.outcome.String(), Event: viewEvent(d.event)})
}

func (s *sandbox) reset(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mock.Reset()
	writeResult(w, true)
}

func (s *sandbox) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fired := make(map[string]string, len(idbmock.Operations))
	for _, op := range idbmock.Operations {
		fired[op.String()] = s.mock.Fired(op).String()
	}
	writeResult(w, map[string]any{
		"instance":       s.mock.ID(),
		"delay":          s.mock.Delay().String(),
		"records":        len(s.mock.Records()),
		"cursorPosition": s.mock.CursorPosition(),
		"cursorDone":     s.mock.CursorDone(),
		"pending":        s.mock.Pending(),
		"fired":          fired,
	})
}

func (s *sandbox) listRecords(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.mock.Records()
	if records == nil {
		records = []idbmock.Record{}
	}
	writeResult(w, records)
}

func decodeRecord(r *http.Request) (idbmock.Record, error) {
	var rec idbmock.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		return rec, err
	}
	if rec.Key == nil {
		return rec, errors.New("key is required")
	}
	return rec, nil
}

func (s *sandbox) commitRecord(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rec, err := decodeRecord(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mock.CommitData(rec.Key, rec.Value)
	writeResult(w, true)
}

func (s *sandbox) getFlags(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeResult(w, s.mock.Flags())
}

// putFlags decodes over the current flags, so omitted fields are kept.
func (s *sandbox) putFlags(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flags := s.mock.Flags()
	if err := json.NewDecoder(r.Body).Decode(&flags); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload", err)
		return
	}
	s.mock.SetFlags(flags)
	writeResult(w, flags)
}

func (s *sandbox) openDatabase(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	version := 1
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid version", err)
			return
		}
		version = v
	}
	abort, _ := strconv.ParseBool(r.URL.Query().Get("abort"))

	s.mu.Lock()
	defer s.mu.Unlock()
	c := make(collector, 1)
	req := s.mock.Open(ps.ByName("name"), version)
	c.watchRequest(req)
	if abort {
		forward := c.handler(idbmock.OutcomeUpgradeNeeded)
		req.OnUpgradeNeeded(func(ev idbmock.Event) {
			if ev.Target.Transaction != nil {
				ev.Target.Transaction.Abort()
			}
			forward(ev)
		})
	}
	s.respond(w, r, "open", c)
}

func (s *sandbox) deleteDatabase(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make(collector, 1)
	c.watchRequest(s.mock.DeleteDatabase(ps.ByName("name")))
	s.respond(w, r, "deleteDatabase", c)
}

func (s *sandbox) objectStore() *idbmock.ObjectStore {
	return s.mock.Database().Transaction(nil, "readwrite").ObjectStore("")
}

func (s *sandbox) createStore(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var payload struct {
		Name    string `json:"name"`
		KeyPath string `json:"keyPath"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON payload", err)
			return
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make(collector, 1)
	store := s.mock.Database().CreateObjectStore(payload.Name, idbmock.StoreOptions{KeyPath: payload.KeyPath})
	store.OnSuccess(c.handler(idbmock.OutcomeSuccess)).OnError(c.handler(idbmock.OutcomeError))
	s.respond(w, r, "createObjectStore", c)
}

func (s *sandbox) saveRecord(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	rec, err := decodeRecord(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record", err)
		return
	}
	put, _ := strconv.ParseBool(r.URL.Query().Get("put"))

	s.mu.Lock()
	defer s.mu.Unlock()
	c := make(collector, 1)
	store := s.objectStore()
	var tx *idbmock.Transaction
	if put {
		tx = store.Put(rec)
	} else {
		tx = store.Add(rec)
	}
	tx.OnComplete(c.handler(idbmock.OutcomeComplete)).OnError(c.handler(idbmock.OutcomeError))
	s.respond(w, r, "save", c)
}

func (s *sandbox) deleteRecord(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make(collector, 1)
	c.watchRequest(s.objectStore().Delete(ps.ByName("id")))
	s.respond(w, r, "delete", c)
}

func (s *sandbox) clearStore(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make(collector, 1)
	c.watchRequest(s.objectStore().Clear())
	s.respond(w, r, "clear", c)
}

// scan walks the shared cursor until exhausted. The position is not rewound,
// so a second scan without /reset returns nothing.
func (s *sandbox) scan(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make(collector, 1)
	c.watchRequest(s.objectStore().OpenCursor())

	records := []idbmock.Record{}
	for {
		d, err := s.await(r.Context(), c)
		if err != nil {
			writeError(w, http.StatusGatewayTimeout, "scan failed", err)
			return
		}
		if d.outcome != idbmock.OutcomeSuccess {
			writeError(w, http.StatusBadGateway, "scan failed", d.event.Err())
			return
		}
		cur := d.event.Cursor()
		if cur == nil {
			break
		}
		records = append(records, idbmock.Record{Key: cur.Key(), Value: cur.Value()})
		cur.Continue()
	}
	writeResult(w, records)
}

func writeResult(w http.ResponseWriter, payload any) {
	writeJSON(w, map[string]any{"result": payload})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warnf("encode response error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	body := struct {
		Error struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
			Detail  string `json:"detail,omitempty"`
		} `json:"error"`
	}{}
	body.Error.Status = status
	body.Error.Message = strings.TrimSpace(message)
	body.Error.Detail = detail
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warnf("encode error response error: %v", err)
	}
}
