package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/familycircle/internal/consent"
	"github.com/askwhyharsh/familycircle/internal/family"
	"github.com/askwhyharsh/familycircle/internal/location"
	"github.com/askwhyharsh/familycircle/internal/ratelimit"
	"github.com/askwhyharsh/familycircle/internal/session"
	"github.com/askwhyharsh/familycircle/internal/sharing"
	"github.com/askwhyharsh/familycircle/internal/storage"
	apperrors "github.com/askwhyharsh/familycircle/pkg/errors"
	"github.com/askwhyharsh/familycircle/pkg/logger"
	"github.com/askwhyharsh/familycircle/pkg/validator"
)

const (
	alice = "6f1c1b7e-0d7a-4c55-9a0e-3c1f0a6d1a01"
	bob   = "6f1c1b7e-0d7a-4c55-9a0e-3c1f0a6d1a02"
	carol = "6f1c1b7e-0d7a-4c55-9a0e-3c1f0a6d1a03"
)

type fakeSessions struct {
	sessions map[string]*session.Session
}

func (f *fakeSessions) Create(ctx context.Context, userID, ip string) (*session.Session, error) {
	s := &session.Session{ID: uuid.New().String(), UserID: userID, CreatedAt: time.Now(), LastSeen: time.Now(), IPAddress: ip}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeSessions) Get(ctx context.Context, id string) (*session.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeSessions) Touch(ctx context.Context, id string) error { return nil }

func (f *fakeSessions) Delete(ctx context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

type fakeDirectory struct {
	users      map[string]string
	family     map[string][]storage.UserRecord
	posts      []storage.Post
	businesses []storage.Business
	cells      []string
}

func (f *fakeDirectory) UserExists(ctx context.Context, id string) (bool, error) {
	_, ok := f.users[id]
	return ok, nil
}

func (f *fakeDirectory) FamilyOf(ctx context.Context, userID string) ([]storage.UserRecord, error) {
	return f.family[userID], nil
}

func (f *fakeDirectory) RecentPosts(ctx context.Context, cells []string, limit int) ([]storage.Post, error) {
	f.cells = cells
	return f.posts, nil
}

func (f *fakeDirectory) Businesses(ctx context.Context, cells []string, limit int) ([]storage.Business, error) {
	f.cells = cells
	return f.businesses, nil
}

type fakeLocations struct {
	locations map[string]*location.Location
}

func (f *fakeLocations) UpdateLocation(ctx context.Context, userID string, lat, lon float64) (*location.Location, error) {
	loc := &location.Location{UserID: userID, Lat: lat, Lon: lon, UpdatedAt: time.Now().UTC()}
	f.locations[userID] = loc
	return loc, nil
}

func (f *fakeLocations) GetLocation(ctx context.Context, userID string) (*location.Location, error) {
	loc, ok := f.locations[userID]
	if !ok {
		return nil, apperrors.ErrLocationNotFound
	}
	return loc, nil
}

func (f *fakeLocations) GetLocations(ctx context.Context, userIDs []string) (map[string]*location.Location, error) {
	out := make(map[string]*location.Location)
	for _, id := range userIDs {
		if loc, ok := f.locations[id]; ok {
			out[id] = loc
		}
	}
	return out, nil
}

type allowAll struct{}

func (allowAll) AllowToggle(ctx context.Context, userID string) (bool, error)         { return true, nil }
func (allowAll) AllowLocationUpdate(ctx context.Context, userID string) (bool, error) { return true, nil }
func (allowAll) AllowIPRequest(ctx context.Context, ip string) (bool, error)          { return true, nil }

type revocation struct{ owner, viewer string }

type fakeNotifier struct {
	changed []*location.Location
	revoked []revocation
}

func (f *fakeNotifier) LocationChanged(ctx context.Context, loc *location.Location) (int, error) {
	f.changed = append(f.changed, loc)
	return 1, nil
}

func (f *fakeNotifier) SharingRevoked(ctx context.Context, ownerID, viewerID string) error {
	f.revoked = append(f.revoked, revocation{ownerID, viewerID})
	return nil
}

type downPinger struct{}

func (downPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

type noSocket struct{}

func (noSocket) HandleWebSocket(c *gin.Context) { c.Status(http.StatusNoContent) }

type testServer struct {
	router    *gin.Engine
	store     *sharing.MemoryStore
	directory *fakeDirectory
	locations *fakeLocations
	notifier  *fakeNotifier
}

func ptr[T any](v T) *T { return &v }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop()
	store := sharing.NewMemoryStore()
	directory := &fakeDirectory{
		users: map[string]string{alice: "Alice", bob: "Bob", carol: "Carol"},
		family: map[string][]storage.UserRecord{
			alice: {{ID: bob, Name: "Bob"}, {ID: carol, Name: "Carol"}},
		},
	}
	locations := &fakeLocations{locations: map[string]*location.Location{}}
	notifier := &fakeNotifier{}
	sessions := &fakeSessions{sessions: map[string]*session.Session{
		"s-alice": {ID: "s-alice", UserID: alice},
		"s-bob":   {ID: "s-bob", UserID: bob},
	}}

	h := NewHandler(Dependencies{
		Sessions:  sessions,
		Directory: directory,
		Locations: locations,
		Projector: family.NewProjector(consent.NewResolver(store), time.Hour, log),
		Toggler:   sharing.NewToggler(store, directory, log),
		Limiter:   allowAll{},
		Notifier:  notifier,
		Validator: validator.NewValidator(),
		Logger:    log,
		Health:    map[string]Pinger{},
	}, Options{GeohashPrecision: 5, DefaultRadiusKm: 10})

	r := gin.New()
	SetupRoutes(r, h, noSocket{}, NewSessionMiddleware(sessions, log), ratelimit.NewMiddleware(allowAll{}, log), RouteOptions{})

	return &testServer{
		router:    r,
		store:     store,
		directory: directory,
		locations: locations,
		notifier:  notifier,
	}
}

func (s *testServer) do(t *testing.T, method, path, sessionID string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	return w, decoded
}

func TestCreateSession(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/session/create", "", gin.H{"user_id": alice})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, body["success"])

	w, _ = s.do(t, http.MethodPost, "/api/session/create", "", gin.H{"user_id": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/session/create", "", gin.H{"user_id": uuid.New().String()})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFamilyRequiresSession(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/api/family", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, body["success"])

	w, _ = s.do(t, http.MethodGet, "/api/family", "unknown", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFamilyOnlyShowsConsentedLocations(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.store.UpsertSharingEdge(ctx, bob, alice, true))
	require.NoError(t, s.store.UpsertSharingEdge(ctx, alice, carol, true))

	now := time.Now().UTC()
	s.locations.locations[alice] = &location.Location{UserID: alice, Lat: 52.52, Lon: 13.405, UpdatedAt: now}
	s.locations.locations[bob] = &location.Location{UserID: bob, Lat: 52.53, Lon: 13.405, UpdatedAt: now}
	s.locations.locations[carol] = &location.Location{UserID: carol, Lat: 48.85, Lon: 2.35, UpdatedAt: now}

	w, body := s.do(t, http.MethodGet, "/api/family", "s-alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]interface{})
	members := data["members"].([]interface{})
	require.Len(t, members, 2)

	b := members[0].(map[string]interface{})
	assert.Equal(t, bob, b["id"])
	assert.Equal(t, true, b["they_are_sharing_with_me"])
	assert.Equal(t, false, b["i_am_sharing_with_them"])
	assert.Equal(t, "shared", b["location_status"])
	assert.Equal(t, 52.53, b["latitude"])
	assert.NotEmpty(t, b["distance_label"])

	c := members[1].(map[string]interface{})
	assert.Equal(t, carol, c["id"])
	assert.Equal(t, false, c["they_are_sharing_with_me"])
	assert.Equal(t, true, c["i_am_sharing_with_them"])
	assert.Equal(t, "not_shared", c["location_status"])
	for _, key := range []string{"latitude", "longitude", "last_updated", "distance_km", "distance_label"} {
		assert.NotContains(t, c, key)
	}
}

func TestSetSharing(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPut, "/api/family/"+bob+"/sharing", "s-alice", gin.H{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["success"])
	assert.Equal(t, true, data["enabled"])

	edge, ok := s.store.Edge(alice, bob)
	require.True(t, ok)
	assert.True(t, edge.Enabled)
	assert.Empty(t, s.notifier.revoked)

	w, _ = s.do(t, http.MethodPut, "/api/family/"+bob+"/sharing", "s-alice", gin.H{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []revocation{{alice, bob}}, s.notifier.revoked)
	assert.Equal(t, 1, s.store.Len())
}

func TestSetSharingErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"someone else's edge", "/api/family/" + carol + "/sharing", gin.H{"enabled": true, "owner_id": bob}, http.StatusForbidden, "FORBIDDEN"},
		{"unknown viewer", "/api/family/" + uuid.New().String() + "/sharing", gin.H{"enabled": true}, http.StatusNotFound, "USER_NOT_FOUND"},
		{"missing enabled", "/api/family/" + bob + "/sharing", gin.H{}, http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := s.do(t, http.MethodPut, tt.path, "s-alice", tt.body)
			assert.Equal(t, tt.status, w.Code)
			errData := body["error"].(map[string]interface{})
			assert.Equal(t, tt.code, errData["code"])
		})
	}

	assert.Zero(t, s.store.Len())
}

func TestReportLocation(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodPost, "/api/location", "s-bob", gin.H{"latitude": 91, "longitude": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.notifier.changed)

	w, body := s.do(t, http.MethodPost, "/api/location", "s-bob", gin.H{"latitude": 0, "longitude": 0})
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["notified"])

	require.Len(t, s.notifier.changed, 1)
	assert.Equal(t, bob, s.notifier.changed[0].UserID)
	assert.Contains(t, s.locations.locations, bob)
}

func seedFeed(s *testServer) {
	s.directory.posts = []storage.Post{
		{ID: "far", Caption: "five km", Latitude: ptr(52.565), Longitude: ptr(13.405)},
		{ID: "near", Caption: "one km", Latitude: ptr(52.53), Longitude: ptr(13.405)},
		{ID: "nowhere", Caption: "no location"},
		{ID: "paris", Caption: "another city", Latitude: ptr(48.85), Longitude: ptr(2.35)},
	}
}

func TestNearbyPostsWithoutLocation(t *testing.T) {
	s := newTestServer(t)
	seedFeed(s)

	for _, path := range []string{"/api/nearby/posts", "/api/nearby/posts?lat=abc&lon=13"} {
		w, body := s.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, w.Code)

		data := body["data"].(map[string]interface{})
		assert.Equal(t, false, data["has_location"])
		items := data["items"].([]interface{})
		require.Len(t, items, 4)
		for _, it := range items {
			entry := it.(map[string]interface{})
			assert.Contains(t, entry, "distance_km")
			assert.Nil(t, entry["distance_km"])
		}
		require.NotNil(t, s.directory.cells, "an unset cover must not bind as NULL")
		assert.Empty(t, s.directory.cells)
	}
}

func TestNearbyPostsSortedWithinRadius(t *testing.T) {
	s := newTestServer(t)
	seedFeed(s)

	w, body := s.do(t, http.MethodGet, "/api/nearby/posts?lat=52.52&lon=13.405&sort=distance", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, s.directory.cells, 9)

	items := body["data"].(map[string]interface{})["items"].([]interface{})
	require.Len(t, items, 2)
	first := items[0].(map[string]interface{})
	second := items[1].(map[string]interface{})
	assert.Equal(t, "near", first["item"].(map[string]interface{})["id"])
	assert.Equal(t, "far", second["item"].(map[string]interface{})["id"])
	assert.Less(t, first["distance_km"].(float64), second["distance_km"].(float64))
}

func TestNearbyUsesSessionLocation(t *testing.T) {
	s := newTestServer(t)
	s.directory.businesses = []storage.Business{{ID: "cafe", Name: "Cafe", Latitude: 52.521, Longitude: 13.405}}
	s.locations.locations[alice] = &location.Location{UserID: alice, Lat: 52.52, Lon: 13.405}

	w, body := s.do(t, http.MethodGet, "/api/nearby/businesses", "s-alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["has_location"])
	items := data["items"].([]interface{})
	require.Len(t, items, 1)
	assert.NotNil(t, items[0].(map[string]interface{})["distance_km"])
}

func TestNearbyRejectsBadRadius(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/api/nearby/posts?radius_km=5000", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_RADIUS", body["error"].(map[string]interface{})["code"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	gin.SetMode(gin.TestMode)
	h := NewHandler(Dependencies{Logger: logger.NewNop(), Health: map[string]Pinger{"redis": downPinger{}}}, Options{})
	r := gin.New()
	r.GET("/health", h.Health)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
