package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FamiliaDusu/Ogaac-test/internal/audit"
	"github.com/FamiliaDusu/Ogaac-test/internal/record"
	"github.com/FamiliaDusu/Ogaac-test/internal/rooms"
	"github.com/FamiliaDusu/Ogaac-test/internal/scope"
	"github.com/FamiliaDusu/Ogaac-test/internal/switcher"
	"github.com/FamiliaDusu/Ogaac-test/internal/users"
	"github.com/FamiliaDusu/Ogaac-test/pkg/logging"
)

// scriptedConn plays the device side of the API tests.
type scriptedConn struct {
	mu           sync.Mutex
	recordActive bool
	recordBytes  float64
	streamActive bool
	scene        string
	failWith     *switcher.DeviceError
	calls        []string
}

func reply(out interface{}, v interface{}) error {
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *scriptedConn) Call(_ context.Context, requestType string, reqData interface{}, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, requestType)
	if f.failWith != nil {
		return f.failWith
	}

	switch requestType {
	case "GetRecordStatus":
		return reply(out, switcher.RecordStatus{
			OutputActive:   f.recordActive,
			OutputBytes:    f.recordBytes,
			OutputDuration: f.recordBytes / 2,
		})
	case "StartRecord":
		if f.recordActive {
			return &switcher.DeviceError{Code: 500, Comment: "output already active"}
		}
		f.recordActive = true
		f.recordBytes = 2048
		return nil
	case "StopRecord":
		if !f.recordActive {
			return &switcher.DeviceError{Code: 501, Comment: "the output is not recording"}
		}
		f.recordActive = false
		return reply(out, map[string]string{"outputPath": "/rec/out.mkv"})
	case "PauseRecord", "ResumeRecord":
		return nil
	case "GetStreamStatus":
		return reply(out, switcher.StreamStatus{OutputActive: f.streamActive})
	case "StartStream":
		f.streamActive = true
		return nil
	case "StopStream":
		f.streamActive = false
		return nil
	case "GetCurrentProgramScene":
		return reply(out, map[string]string{"currentProgramSceneName": f.scene})
	case "GetSceneList":
		return reply(out, map[string]interface{}{
			"currentProgramSceneName": f.scene,
			"scenes":                  []map[string]interface{}{{"sceneName": f.scene, "sceneIndex": 0}},
		})
	case "SetCurrentProgramScene":
		raw, _ := json.Marshal(reqData)
		var req struct {
			SceneName string `json:"sceneName"`
		}
		_ = json.Unmarshal(raw, &req)
		f.scene = req.SceneName
		return nil
	case "GetInputList":
		return reply(out, map[string]interface{}{
			"inputs": []map[string]interface{}{{"inputName": "Mic/Aux", "inputKind": "audio"}},
		})
	case "GetInputMute":
		return reply(out, map[string]bool{"inputMuted": false})
	case "ToggleInputMute":
		return reply(out, map[string]bool{"inputMuted": true})
	case "GetStats":
		return reply(out, switcher.Stats{ActiveFPS: 30})
	default:
		return nil
	}
}

func (f *scriptedConn) Connected() bool { return true }
func (f *scriptedConn) Close() error    { return nil }

type fixture struct {
	router *gin.Engine
	store  *users.Store
	sink   *audit.Sink
	conn   *scriptedConn
	dials  int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.NewLogger()
	dir := t.TempDir()

	store := users.NewStore(filepath.Join(dir, "users.json"), logger)
	_, err := store.Create(users.CreateParams{Username: "root", Password: "secret123", Role: "admin"})
	require.NoError(t, err)
	_, err = store.Create(users.CreateParams{
		Username: "ana", Password: "password1", Role: "operator",
		Scope: &scope.Scope{Sedes: []string{"madrid"}},
	})
	require.NoError(t, err)

	public := `{
		"madrid": {"sala1": {"ws": "ws://10.0.0.5:4455"}},
		"sevilla": {"sala1": {"ws": "ws://10.0.1.5:4455"}}
	}`
	secrets := `{
		"madrid": {"sala1": {"password": "devpw"}},
		"sevilla": {"sala1": {"password": "devpw"}}
	}`
	publicPath := filepath.Join(dir, "salas.json")
	secretsPath := filepath.Join(dir, "salas.secrets.json")
	require.NoError(t, os.WriteFile(publicPath, []byte(public), 0o600))
	require.NoError(t, os.WriteFile(secretsPath, []byte(secrets), 0o600))
	resolver := rooms.NewResolver(publicPath, secretsPath, logger)

	f := &fixture{conn: &scriptedConn{scene: "Main"}}
	pool := switcher.NewPool(logger, switcher.WithDialFunc(
		func(context.Context, switcher.Target) (switcher.Conn, error) {
			atomic.AddInt32(&f.dials, 1)
			return f.conn, nil
		}))
	t.Cleanup(pool.Close)

	tracker := record.NewTracker(filepath.Join(dir, "record-state.json"), record.Timings{
		SettleDelay:         time.Millisecond,
		PollInterval:        time.Millisecond,
		PollAttempts:        5,
		StatusRetries:       2,
		StatusRetryInterval: time.Millisecond,
	}, logger)

	sink, err := audit.NewSink(filepath.Join(dir, "audit"), logger)
	require.NoError(t, err)

	h := New(Config{
		Users:     store,
		Rooms:     resolver,
		Pool:      pool,
		Tracker:   tracker,
		Audit:     sink,
		JWTSecret: []byte("0123456789abcdef0123456789abcdef"),
		Bootstrap: Bootstrap{Username: "fallback", Password: "fallback-pass", Role: "admin"},
		Logger:    logger,
	})

	router := gin.New()
	h.Register(router)

	f.router = router
	f.store = store
	f.sink = sink
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:52000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) login(t *testing.T, username, password string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"username": username, "password": password,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestLoginFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"username": "root", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "ogaac_token=")

	w = f.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"username": "root", "password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_DENIED", decode(t, w)["code"])
}

func TestLoginBootstrapFallback(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "fallback", "fallback-pass")

	w := f.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "fallback", body["username"])
	assert.Equal(t, "admin", body["role"])
}

func TestSessionRequiresToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/session", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/session", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCookieAuthentication(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "ana", "password1")

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: "ogaac_token", Value: token})
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ana", decode(t, w)["username"])
}

func TestMeIncludesScope(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "ana", "password1")

	w := f.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	sc := body["scope"].(map[string]interface{})
	assert.Equal(t, []interface{}{"madrid"}, sc["sedes"])
}

func TestRoomsFilteredByScope(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/rooms", f.login(t, "root", "secret123"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["rooms"], 2)

	w = f.do(t, http.MethodGet, "/api/rooms", f.login(t, "ana", "password1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	roomsList := decode(t, w)["rooms"].([]interface{})
	require.Len(t, roomsList, 1)
	assert.Equal(t, "madrid/sala1", roomsList[0].(map[string]interface{})["id"])
}

func TestRoomsNeverLeakSecrets(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/rooms", f.login(t, "root", "secret123"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "devpw")
}

func TestRoomsFullRequiresAdminOrLoopback(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/rooms/full", f.login(t, "ana", "password1"), nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "ADMIN_ONLY", decode(t, w)["code"])

	w = f.do(t, http.MethodGet, "/api/rooms/full", f.login(t, "root", "secret123"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "devpw")

	// Loopback peer reads it without the admin role.
	req := httptest.NewRequest(http.MethodGet, "/api/rooms/full", nil)
	req.Header.Set("Authorization", "Bearer "+f.login(t, "ana", "password1"))
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestScopeDenialBeforeDeviceAccess(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "ana", "password1")

	w := f.do(t, http.MethodGet, "/api/rooms/sevilla/sala1/status", token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "SCOPE_DENIED", decode(t, w)["code"])
	assert.Zero(t, atomic.LoadInt32(&f.dials))
}

func TestUnknownRoomIs404(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")

	w := f.do(t, http.MethodGet, "/api/rooms/madrid/sala9/status", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ROOM_NOT_CONFIGURED", decode(t, w)["code"])
}

func TestUnknownDeviceActionIs404(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")

	w := f.do(t, http.MethodPost, "/api/rooms/madrid/sala1/reboot", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ROUTE_NOT_IMPLEMENTED", decode(t, w)["code"])
}

func TestDeviceStatus(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")

	w := f.do(t, http.MethodGet, "/api/rooms/madrid/sala1/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Contains(t, body, "stream")
	assert.Contains(t, body, "record")
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.dials))
}

func TestRecordStartThenAlready(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")

	w := f.do(t, http.MethodPost, "/api/rooms/madrid/sala1/record/start", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["started"])

	w = f.do(t, http.MethodPost, "/api/rooms/madrid/sala1/record/start", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["already"])
}

func TestRecordStopWhenIdle(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")

	w := f.do(t, http.MethodPost, "/api/rooms/madrid/sala1/record/stop", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["already"])
}

func TestRecordStopCapturesPath(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")

	w := f.do(t, http.MethodPost, "/api/rooms/madrid/sala1/record/start", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/rooms/madrid/sala1/record/stop", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["stopped"])
	assert.Equal(t, "/rec/out.mkv", body["outputPath"])
}

func TestSceneSetAndState(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")

	w := f.do(t, http.MethodPost, "/api/rooms/madrid/sala1/scene/set", token, map[string]string{"scene": "Pizarra"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/rooms/madrid/sala1/state", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Pizarra", decode(t, w)["scene"])
}

func TestAudioToggleRequiresInput(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")

	w := f.do(t, http.MethodPost, "/api/rooms/madrid/sala1/audio/mute/toggle", token, map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/rooms/madrid/sala1/audio/mute/toggle", token, map[string]string{"input": "Mic/Aux"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["muted"])
}

func TestDeviceRejectionSurfacesComment(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")
	f.conn.failWith = &switcher.DeviceError{Code: 600, Comment: "studio mode is not enabled"}

	w := f.do(t, http.MethodGet, "/api/rooms/madrid/sala1/stats", token, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "DEVICE_ERROR", body["code"])
	assert.Equal(t, "studio mode is not enabled", body["message"])
}

func TestAdminRequiresRole(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/admin/users", f.login(t, "ana", "password1"), nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminUserCRUD(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")

	w := f.do(t, http.MethodPost, "/api/admin/users", token, map[string]interface{}{
		"username": "nuevo", "password": "secret9", "role": "viewer",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/admin/users", token, map[string]interface{}{
		"username": "nuevo", "password": "secret9", "role": "viewer",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "DUPLICATE_USER", decode(t, w)["code"])

	w = f.do(t, http.MethodPatch, "/api/admin/users/nuevo", token, map[string]interface{}{
		"role": "operator",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// PUT reaches the same update handler.
	w = f.do(t, http.MethodPut, "/api/admin/users/nuevo", token, map[string]interface{}{
		"scope": map[string]interface{}{"sedes": []string{"madrid"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/admin/users", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "passwordHash")
	// Env bootstrap account listed read-only.
	assert.Contains(t, w.Body.String(), `"fallback"`)

	w = f.do(t, http.MethodDelete, "/api/admin/users/nuevo", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodDelete, "/api/admin/users/nuevo", token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminAuditQuery(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")

	w := f.do(t, http.MethodPost, "/api/rooms/madrid/sala1/record/start", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	f.sink.Flush()

	w = f.do(t, http.MethodGet, "/api/admin/audit?action=record_start", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	events := body["events"].([]interface{})
	require.NotEmpty(t, events)
	evt := events[0].(map[string]interface{})
	assert.Equal(t, "root", evt["user"])
	assert.Equal(t, "/api/rooms/madrid/sala1/record/start", evt["path"])

	w = f.do(t, http.MethodGet, "/api/admin/audit?date=bad-date", token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditSkipsAuditReads(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")

	w := f.do(t, http.MethodGet, "/api/admin/audit", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	f.sink.Flush()

	events, err := f.sink.Query(time.Now().UTC().Format("2006-01-02"), audit.QueryOptions{})
	require.NoError(t, err)
	for _, evt := range events {
		assert.NotEqual(t, "/api/admin/audit", evt.Path)
	}
}

func TestAdminRoomsReload(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "root", "secret123")

	w := f.do(t, http.MethodPost, "/api/admin/rooms/reload", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["reloaded"])
}
