package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"atypik-backend/internal/models"
	"atypik-backend/internal/repository"
	"atypik-backend/internal/repository/memory"
	"atypik-backend/internal/services"
	"atypik-backend/internal/websocket"
	"atypik-backend/pkg/geo"
	"atypik-backend/pkg/jwt"
	"atypik-backend/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
	stores *repository.Stores
	jwt    *jwt.JWTUtil
	loc    *time.Location
	region string
	feed   *websocket.Manager
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)

	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	stores := memory.NewStores()
	jwtUtil := jwt.NewJWTUtil("test-secret", time.Hour)

	manager := websocket.NewManager()
	require.NoError(t, manager.Start())
	t.Cleanup(func() { manager.Stop() })

	missions := services.NewMissionService(stores, loc)
	missions.SetPublisher(manager)
	tracking := services.NewTrackingService(stores, missions, nil)
	tracking.SetPublisher(manager)

	limitConfig := ratelimit.DefaultConfig()

	router := gin.New()
	SetupRoutes(router, Dependencies{
		Location:          loc,
		JWT:               jwtUtil,
		Manager:           manager,
		Limiter:           ratelimit.NewMemoryRateLimiter(limitConfig),
		RateLimitConfig:   limitConfig,
		AuthService:       services.NewAuthService(stores, jwtUtil),
		TransportService:  services.NewTransportService(stores, geo.HaversineDistance{RoadFactor: 1.3}, loc),
		MissionService:    missions,
		TrackingService:   tracking,
		TripService:       services.NewTripService(stores, loc),
		AssignmentService: services.NewAssignmentService(stores),
		AdminService:      services.NewAdminService(stores, loc),
	})

	region, err := stores.Regions.Create(context.Background(), &models.Region{Name: "Paris", CreatedAt: time.Now()})
	require.NoError(t, err)

	return &testServer{t: t, router: router, stores: stores, jwt: jwtUtil, loc: loc, region: region.ID.Hex(), feed: manager}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

func (s *testServer) do(method, path, token string, body interface{}) (int, envelope) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func (s *testServer) register(email string, role models.Role) services.LoginResponse {
	code, resp := s.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":       email,
		"password":    "correct-horse",
		"displayName": email,
		"role":        string(role),
		"regionId":    s.region,
	})
	require.Equal(s.t, http.StatusCreated, code, resp.Message)
	return decode[services.LoginResponse](s.t, resp.Data)
}

func (s *testServer) adminToken() string {
	admin, err := s.stores.Users.Create(context.Background(), &models.User{
		Email:       "admin@example.com",
		DisplayName: "admin",
		Role:        models.RoleAdmin,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	})
	require.NoError(s.t, err)
	token, err := s.jwt.GenerateToken(admin.ID.Hex(), admin.Email, admin.Role)
	require.NoError(s.t, err)
	return token
}

func TestMissionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	parent := s.register("parent@example.com", models.RoleParent)
	driver := s.register("driver@example.com", models.RoleDriver)
	admin := s.adminToken()

	code, _ := s.do(http.MethodPost, "/api/v1/admin/drivers/"+driver.User.ID+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(http.MethodPut, "/api/v1/admin/parents/"+parent.User.ID+"/driver", admin, map[string]string{"driverId": driver.User.ID})
	require.Equal(t, http.StatusOK, code)

	tomorrow := time.Now().In(s.loc).AddDate(0, 0, 1).Format(time.DateOnly)
	code, resp := s.do(http.MethodPost, "/api/v1/transports", parent.Token, map[string]interface{}{
		"childId":       "child-1",
		"childName":     "Léa",
		"date":          tomorrow,
		"time":          "8:30",
		"transportType": "aller",
		"from":          map[string]interface{}{"address": "1 rue de Rivoli", "lat": 48.8566, "lng": 2.3522},
		"to":            map[string]interface{}{"address": "École Jules Ferry", "lat": 48.8606, "lng": 2.3376},
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	transport := decode[models.Transport](t, resp.Data)
	assert.Equal(t, "08:30", transport.Time)
	assert.Equal(t, driver.User.ID, transport.DriverID)

	// Only drivers start missions.
	code, _ = s.do(http.MethodPost, "/api/v1/transports/"+transport.ID.Hex()+"/start", parent.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = s.do(http.MethodPost, "/api/v1/transports/"+transport.ID.Hex()+"/start", driver.Token, nil)
	require.Equal(t, http.StatusCreated, code, resp.Message)
	mission := decode[models.ActiveMission](t, resp.Data)
	assert.Equal(t, models.MissionStarted, mission.Status)

	code, _ = s.do(http.MethodPost, "/api/v1/transports/"+transport.ID.Hex()+"/start", driver.Token, nil)
	assert.Equal(t, http.StatusConflict, code)

	missionPath := "/api/v1/missions/" + mission.ID.Hex()
	code, resp = s.do(http.MethodPost, missionPath+"/positions", driver.Token, map[string]interface{}{
		"lat":       48.857,
		"lng":       2.35,
		"timestamp": time.Now().UTC(),
	})
	require.Equal(t, http.StatusAccepted, code, resp.Message)
	result := decode[services.IngestResult](t, resp.Data)
	assert.True(t, result.Accepted)

	code, resp = s.do(http.MethodGet, missionPath+"/live", parent.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 48.857, decode[models.Position](t, resp.Data).Lat)

	code, resp = s.do(http.MethodGet, "/api/v1/dashboard/upcoming", parent.Token, nil)
	require.Equal(t, http.StatusOK, code)
	trips := decode[[]models.UpcomingTrip](t, resp.Data)
	require.Len(t, trips, 1)
	assert.Equal(t, models.TransportInProgress, trips[0].Status)
	assert.Equal(t, mission.ID.Hex(), trips[0].MissionID)

	code, _ = s.do(http.MethodPost, missionPath+"/complete", parent.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = s.do(http.MethodPost, missionPath+"/complete", driver.Token, nil)
	require.Equal(t, http.StatusOK, code, resp.Message)
	assert.Equal(t, models.MissionCompleted, decode[models.ActiveMission](t, resp.Data).Status)

	code, _ = s.do(http.MethodPost, missionPath+"/complete", driver.Token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, resp = s.do(http.MethodGet, missionPath+"/history", parent.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]models.GPSPosition](t, resp.Data), 1)
}

func TestAuthAndRoleGuards(t *testing.T) {
	s := newTestServer(t)
	parent := s.register("parent@example.com", models.RoleParent)

	code, _ := s.do(http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(http.MethodGet, "/api/v1/auth/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp := s.do(http.MethodGet, "/api/v1/auth/me", parent.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, parent.User.ID, decode[models.AuthUser](t, resp.Data).ID)

	code, _ = s.do(http.MethodGet, "/api/v1/admin/stats", parent.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodGet, "/api/v1/driver/today", parent.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodGet, "/api/v1/admin/stats", s.adminToken(), nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestCreateTransportValidation(t *testing.T) {
	s := newTestServer(t)
	parent := s.register("parent@example.com", models.RoleParent)

	yesterday := time.Now().In(s.loc).AddDate(0, 0, -1).Format(time.DateOnly)
	code, _ := s.do(http.MethodPost, "/api/v1/transports", parent.Token, map[string]interface{}{
		"childId":       "child-1",
		"childName":     "Léa",
		"date":          yesterday,
		"time":          "08:30",
		"transportType": "aller",
		"from":          map[string]interface{}{"address": "a", "lat": 48.8, "lng": 2.3},
		"to":            map[string]interface{}{"address": "b", "lat": 48.9, "lng": 2.4},
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPost, "/api/v1/transports", parent.Token, map[string]interface{}{
		"childName": "Léa",
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthReportsDisabledBackends(t *testing.T) {
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, "/api/v1/health", nil)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var health struct {
		Status   string                            `json:"status"`
		Services map[string]map[string]interface{} `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "Disabled", health.Services["redis"]["message"])
	assert.Equal(t, float64(0), health.Services["feed"]["subscribers"])
}

// startMission registers a verified driver assigned to a parent and starts a
// mission for a transport tomorrow.
func (s *testServer) startMission() (parent, driver services.LoginResponse, missionID string) {
	parent = s.register("parent@example.com", models.RoleParent)
	driver = s.register("driver@example.com", models.RoleDriver)
	admin := s.adminToken()

	code, _ := s.do(http.MethodPost, "/api/v1/admin/drivers/"+driver.User.ID+"/approve", admin, nil)
	require.Equal(s.t, http.StatusOK, code)

	tomorrow := time.Now().In(s.loc).AddDate(0, 0, 1).Format(time.DateOnly)
	code, resp := s.do(http.MethodPost, "/api/v1/transports", parent.Token, map[string]interface{}{
		"childId":       "child-1",
		"childName":     "Léa",
		"date":          tomorrow,
		"time":          "16:30",
		"transportType": "retour",
		"from":          map[string]interface{}{"address": "École Jules Ferry", "lat": 48.8606, "lng": 2.3376},
		"to":            map[string]interface{}{"address": "1 rue de Rivoli", "lat": 48.8566, "lng": 2.3522},
	})
	require.Equal(s.t, http.StatusCreated, code, resp.Message)
	transport := decode[models.Transport](s.t, resp.Data)

	code, resp = s.do(http.MethodPost, "/api/v1/transports/"+transport.ID.Hex()+"/start", driver.Token, nil)
	require.Equal(s.t, http.StatusCreated, code, resp.Message)
	return parent, driver, decode[models.ActiveMission](s.t, resp.Data).ID.Hex()
}

func dialWS(t *testing.T, server *httptest.Server, path, token string) *gorilla.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path + "?token=" + token
	conn, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

type streamFrame struct {
	Type      string                 `json:"type"`
	MissionID string                 `json:"missionId"`
	Result    *services.IngestResult `json:"result"`
	Error     string                 `json:"error"`
}

func TestPositionStreamFeedsLiveWatchers(t *testing.T) {
	s := newTestServer(t)
	parent, driver, missionID := s.startMission()

	server := httptest.NewServer(s.router)
	defer server.Close()

	watcher := dialWS(t, server, "/api/v1/ws/missions/"+missionID, parent.Token)
	require.Eventually(t, func() bool { return s.feed.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	stream := dialWS(t, server, "/api/v1/ws/driver/positions", driver.Token)

	var reply streamFrame
	require.NoError(t, stream.WriteJSON(map[string]string{"type": websocket.MessageTypePing}))
	require.NoError(t, stream.ReadJSON(&reply))
	assert.Equal(t, websocket.MessageTypePong, reply.Type)

	require.NoError(t, stream.WriteJSON(map[string]interface{}{
		"type":      websocket.MessageTypeSample,
		"missionId": missionID,
		"driverId":  parent.User.ID,
		"data":      map[string]interface{}{"lat": 48.86, "lng": 2.34, "timestamp": time.Now().UTC()},
	}))
	reply = streamFrame{}
	require.NoError(t, stream.ReadJSON(&reply))
	assert.Equal(t, websocket.MessageTypeError, reply.Type)

	require.NoError(t, stream.WriteJSON(map[string]interface{}{
		"type":      websocket.MessageTypeSample,
		"missionId": missionID,
		"data":      map[string]interface{}{"lat": 48.86, "lng": 2.34, "timestamp": time.Now().UTC()},
	}))
	reply = streamFrame{}
	require.NoError(t, stream.ReadJSON(&reply))
	require.Equal(t, websocket.MessageTypeAck, reply.Type, reply.Error)
	require.NotNil(t, reply.Result)
	assert.True(t, reply.Result.Accepted)

	// The first sample moves the mission to in-progress, then the position follows.
	watcher.SetReadDeadline(time.Now().Add(2 * time.Second))
	seen := map[string]bool{}
	for !seen[websocket.UpdatePosition] {
		var frame struct {
			Type string                  `json:"type"`
			Data websocket.MissionUpdate `json:"data"`
		}
		require.NoError(t, watcher.ReadJSON(&frame))
		assert.Equal(t, missionID, frame.Data.MissionID)
		seen[frame.Data.UpdateType] = true
		if frame.Data.UpdateType == websocket.UpdatePosition {
			require.NotNil(t, frame.Data.Position)
			assert.Equal(t, 48.86, frame.Data.Position.Lat)
		}
	}
	assert.True(t, seen[websocket.UpdateStatus])
}

func TestLiveFeedRejectsStrangers(t *testing.T) {
	s := newTestServer(t)
	_, _, missionID := s.startMission()
	stranger := s.register("stranger@example.com", models.RoleParent)

	code, _ := s.do(http.MethodGet, "/api/v1/ws/missions/"+missionID, stranger.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)
}
