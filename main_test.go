package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	idbmock "github.com/szimmers/mock-indexeddb/mock/idb"
)

func newTestSandbox(t *testing.T) (*sandbox, http.Handler) {
	t.Helper()
	m := idbmock.New(idbmock.WithDelay(2 * time.Millisecond))
	t.Cleanup(m.Reset)
	sb := newSandbox(m, time.Second)
	return sb, recoverMiddleware(requestIDMiddleware(loggingMiddleware(newRouter(sb))))
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
}

func call(t *testing.T, h http.Handler, method, target, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func outcomeOf(t *testing.T, env envelope) callResult {
	t.Helper()
	var res callResult
	require.NoError(t, json.Unmarshal(env.Result, &res))
	return res
}

func TestSandboxOpenFollowsFlags(t *testing.T) {
	_, h := newTestSandbox(t)

	code, env := call(t, h, http.MethodPost, "/databases/notes/open?version=2", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", outcomeOf(t, env).Outcome)

	code, _ = call(t, h, http.MethodPut, "/flags", `{"canOpenDB": false}`)
	require.Equal(t, http.StatusOK, code)

	_, env = call(t, h, http.MethodPost, "/databases/notes/open", "")
	res := outcomeOf(t, env)
	assert.Equal(t, "error", res.Outcome)
	assert.Equal(t, idbmock.ErrorCode, res.Event.ErrorCode)
	assert.Equal(t, idbmock.ErrorMessage, res.Event.Message)

	_, env = call(t, h, http.MethodGet, "/flags", "")
	var flags idbmock.Flags
	require.NoError(t, json.Unmarshal(env.Result, &flags))
	assert.False(t, flags.CanOpenDB)
	assert.True(t, flags.CanSave)
}

func TestSandboxUpgradeAbort(t *testing.T) {
	sb, h := newTestSandbox(t)
	sb.mock.Configure(func(f *idbmock.Flags) { f.UpgradeNeeded = true })

	_, env := call(t, h, http.MethodPost, "/databases/notes/open?abort=true", "")
	assert.Equal(t, "upgradeneeded", outcomeOf(t, env).Outcome)

	_, env = call(t, h, http.MethodPost, "/databases/notes/open", "")
	assert.Equal(t, "abort", outcomeOf(t, env).Outcome)
}

func TestSandboxBadVersion(t *testing.T) {
	_, h := newTestSandbox(t)
	code, env := call(t, h, http.MethodPost, "/databases/notes/open?version=x", "")
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid version", env.Error.Message)
}

func TestSandboxSaveAndScan(t *testing.T) {
	_, h := newTestSandbox(t)

	code, _ := call(t, h, http.MethodPost, "/records", `{"key":"a","value":1}`)
	require.Equal(t, http.StatusOK, code)

	_, env := call(t, h, http.MethodPost, "/store/records", `{"key":"b","value":2}`)
	assert.Equal(t, "complete", outcomeOf(t, env).Outcome)
	_, env = call(t, h, http.MethodPost, "/store/records?put=true", `{"key":"b","value":3}`)
	assert.Equal(t, "complete", outcomeOf(t, env).Outcome)

	code, env = call(t, h, http.MethodGet, "/store/scan", "")
	require.Equal(t, http.StatusOK, code)
	var records []idbmock.Record
	require.NoError(t, json.Unmarshal(env.Result, &records))
	assert.Equal(t, []idbmock.Record{
		{Key: "a", Value: float64(1)},
		{Key: "b", Value: float64(2)},
		{Key: "b", Value: float64(3)},
	}, records)

	// the cursor position is shared and not rewound
	_, env = call(t, h, http.MethodGet, "/store/scan", "")
	require.NoError(t, json.Unmarshal(env.Result, &records))
	assert.Empty(t, records)

	_, env = call(t, h, http.MethodGet, "/status", "")
	var status map[string]any
	require.NoError(t, json.Unmarshal(env.Result, &status))
	assert.Equal(t, float64(3), status["records"])
	assert.Equal(t, true, status["cursorDone"])
}

func TestSandboxScanFailure(t *testing.T) {
	sb, h := newTestSandbox(t)
	sb.mock.CommitData("a", 1)
	sb.mock.Configure(func(f *idbmock.Flags) { f.CanReadDB = false })

	code, env := call(t, h, http.MethodGet, "/store/scan", "")
	assert.Equal(t, http.StatusBadGateway, code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Detail, "fail")
}

func TestSandboxDeleteClearAndCreate(t *testing.T) {
	sb, h := newTestSandbox(t)

	_, env := call(t, h, http.MethodDelete, "/store/records/7", "")
	assert.Equal(t, "success", outcomeOf(t, env).Outcome)

	sb.mock.Configure(func(f *idbmock.Flags) { f.CanDelete = false; f.CanClear = false; f.CanDeleteDB = false })
	_, env = call(t, h, http.MethodDelete, "/store/records/7", "")
	assert.Equal(t, "error", outcomeOf(t, env).Outcome)
	_, env = call(t, h, http.MethodDelete, "/store/records", "")
	assert.Equal(t, "error", outcomeOf(t, env).Outcome)
	_, env = call(t, h, http.MethodDelete, "/databases/notes", "")
	assert.Equal(t, "error", outcomeOf(t, env).Outcome)

	_, env = call(t, h, http.MethodPost, "/store", `{"name":"items","keyPath":"key"}`)
	assert.Equal(t, "success", outcomeOf(t, env).Outcome)
}

func TestSandboxReset(t *testing.T) {
	sb, h := newTestSandbox(t)
	sb.mock.CommitData("a", 1)
	sb.mock.Configure(func(f *idbmock.Flags) { f.CanSave = false })

	code, _ := call(t, h, http.MethodPost, "/reset", "")
	require.Equal(t, http.StatusOK, code)

	assert.Empty(t, sb.mock.Records())
	assert.Equal(t, idbmock.DefaultFlags(), sb.mock.Flags())
}

func TestSandboxRejectsBadRecords(t *testing.T) {
	_, h := newTestSandbox(t)

	code, env := call(t, h, http.MethodPost, "/records", `{"value":1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "key is required", env.Error.Detail)

	code, _ = call(t, h, http.MethodPost, "/store/records", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, h, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSandboxTimesOutWhenCallbackNeverArrives(t *testing.T) {
	m := idbmock.New(idbmock.WithDelay(time.Second))
	t.Cleanup(m.Reset)
	sb := newSandbox(m, 10*time.Millisecond)
	h := newRouter(sb)

	code, env := call(t, requestIDMiddleware(h), http.MethodDelete, "/databases/notes", "")
	assert.Equal(t, http.StatusGatewayTimeout, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, errCallbackTimeout.Error(), env.Error.Detail)
}

func TestHostFromAddr(t *testing.T) {
	assert.Equal(t, "localhost", hostFromAddr(""))
	assert.Equal(t, "localhost:8789", hostFromAddr(":8789"))
	assert.Equal(t, "0.0.0.0:1", hostFromAddr("0.0.0.0:1"))
}

func TestFormatBodyForLog(t *testing.T) {
	assert.Equal(t, "<empty>", formatBodyForLog(nil))
	assert.Equal(t, "<whitespace>", formatBodyForLog([]byte("  \n")))
	assert.Equal(t, "{}", formatBodyForLog([]byte(" {} ")))
}
