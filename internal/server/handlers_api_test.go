package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagistrTheOne/deadlinecome-realtime/internal/realtime"
)

func postJSON(srv *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestStatsEndpoint_Empty(t *testing.T) {
	srv := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"totalClients":0,"totalRooms":0,"rooms":[]}`, rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalAdmitted":0`)
	assert.Contains(t, rec.Body.String(), `"active":0`)
}

func TestNotifyRoom_RequiresEvent(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rec := postJSON(srv, "/api/notify/room/project:p1", `{"payload":{"x":1}}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "event is required")
}

func TestNotifyRoom_InvalidBody(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rec := postJSON(srv, "/api/notify/room/project:p1", `{not json`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifyRoom_EmptyRoomDeliversToNobody(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rec := postJSON(srv, "/api/notify/room/project:ghost", `{"event":"bug_created"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"delivered":0}`, rec.Body.String())
}

func TestNotifyUser_RequiresEvent(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rec := postJSON(srv, "/api/notify/user/alice", `{}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifyUser_UnknownUserDeliversToNobody(t *testing.T) {
	srv := newTestServer(t, testConfig())

	rec := postJSON(srv, "/api/notify/user/nobody", `{"event":"task_assigned"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"delivered":0}`, rec.Body.String())
}

func TestStatsEndpoint_ReflectsRegistry(t *testing.T) {
	srv := newTestServer(t, testConfig())

	transport := newStubTransport()
	_, err := srv.registry.Admit(transport, realtime.Identity{UserID: "alice", ProjectID: "p1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalClients":1`)
	assert.Contains(t, rec.Body.String(), `"project:p1"`)
}
