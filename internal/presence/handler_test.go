package presence

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type presenceTestEnv struct {
	router *gin.Engine
	store  *MemoryStore
	now    *time.Time
}

func newPresenceTestEnv(t *testing.T) *presenceTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.UnixMilli(0)
	store := NewMemoryStore()
	store.SetClock(func() time.Time { return now })

	logger := zap.NewNop()
	pruner := NewPruner(store, 30*time.Second, 15*time.Second, logger)
	h := NewHandler(store, pruner, logger)

	router := gin.New()
	router.POST("/presence", h.Post)
	router.GET("/presence", h.GetCount)
	router.GET("/presence/listeners", h.GetListeners)

	return &presenceTestEnv{router: router, store: store, now: &now}
}

func (e *presenceTestEnv) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/presence", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *presenceTestEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeCount(t *testing.T, w *httptest.ResponseRecorder) int {
	t.Helper()
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Success)
	return body.Data.Count
}

func TestPresenceJoinHeartbeatLeave(t *testing.T) {
	e := newPresenceTestEnv(t)

	w := e.post(t, `{"action":"join","id":"a","track":{"id":"t1","title":"Aurora","artist":"Caelven"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeCount(t, w))

	w = e.post(t, `{"action":"join","id":"b"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decodeCount(t, w))

	w = e.post(t, `{"action":"heartbeat","id":"a"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decodeCount(t, w))

	w = e.post(t, `{"action":"leave","id":"b"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeCount(t, w))

	w = e.get(t, "/presence")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeCount(t, w))
}

func TestPresenceRejectsBadRequests(t *testing.T) {
	e := newPresenceTestEnv(t)

	w := e.post(t, `{"action":"join"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.post(t, `{"action":"teleport","id":"a"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.post(t, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPresenceStalenessPruning(t *testing.T) {
	e := newPresenceTestEnv(t)

	w := e.post(t, `{"action":"join","id":"a"}`)
	assert.Equal(t, 1, decodeCount(t, w))

	// 29s of silence: one missed 10s heartbeat is tolerated.
	*e.now = time.UnixMilli(29_000)
	w = e.get(t, "/presence")
	assert.Equal(t, 1, decodeCount(t, w))

	// Past the 30s threshold: pruned on the first read.
	*e.now = time.UnixMilli(30_001)
	w = e.get(t, "/presence")
	assert.Equal(t, 0, decodeCount(t, w))
}

func TestPresenceHeartbeatKeepsSessionAlive(t *testing.T) {
	e := newPresenceTestEnv(t)

	e.post(t, `{"action":"join","id":"a"}`)
	for ms := int64(10_000); ms <= 60_000; ms += 10_000 {
		*e.now = time.UnixMilli(ms)
		w := e.post(t, `{"action":"heartbeat","id":"a"}`)
		assert.Equal(t, 1, decodeCount(t, w))
	}
}

func TestPresenceListenersRoster(t *testing.T) {
	e := newPresenceTestEnv(t)

	e.post(t, `{"action":"join","id":"aaa-111","track":{"id":"t1","title":"Aurora","artist":"Caelven"}}`)
	*e.now = time.UnixMilli(1000)
	e.post(t, `{"action":"join","id":"bbb-222","track":{"id":"t2","title":"Driftwood","artist":"Caelven"}}`)
	e.post(t, `{"action":"join","id":"ccc-333"}`) // nothing playing: counted, not listed

	w := e.get(t, "/presence/listeners")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Count     int `json:"count"`
			Listeners []struct {
				ID    string `json:"id"`
				Name  string `json:"name"`
				Title string `json:"title"`
			} `json:"listeners"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Data.Count)
	require.Len(t, body.Data.Listeners, 2)
	assert.Equal(t, "Aurora", body.Data.Listeners[0].Title)
	assert.Equal(t, "AnonymousAAA111", body.Data.Listeners[0].Name)
	assert.Equal(t, "Driftwood", body.Data.Listeners[1].Title)
}
