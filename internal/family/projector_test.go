package family

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/familycircle/internal/consent"
	"github.com/askwhyharsh/familycircle/internal/location"
	"github.com/askwhyharsh/familycircle/internal/proximity"
	"github.com/askwhyharsh/familycircle/internal/sharing"
	"github.com/askwhyharsh/familycircle/internal/storage"
	"github.com/askwhyharsh/familycircle/pkg/logger"
)

var forbiddenKeys = []string{"latitude", "longitude", "last_updated", "stale", "distance_km"}

func ptr[T any](v T) *T { return &v }

func newProjector(t *testing.T, store sharing.Reader) *Projector {
	t.Helper()
	return NewProjector(consent.NewResolver(store), 30*time.Minute, logger.NewNop())
}

// keysOf decodes each member into a generic map so assertions see exactly
// which fields a client would receive.
func keysOf(t *testing.T, members []Member) []map[string]any {
	t.Helper()
	data, err := json.Marshal(members)
	require.NoError(t, err)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestProjectScenario(t *testing.T) {
	store := sharing.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertSharingEdge(ctx, "c1", "v", true))
	require.NoError(t, store.UpsertSharingEdge(ctx, "c2", "v", false))

	now := time.Now()
	c1 := User{ID: "c1", Name: "Near", Latitude: ptr(0.0), Longitude: ptr(0.0009), LastUpdated: &now}
	c2 := User{ID: "c2", Name: "Far", Latitude: ptr(10.0), Longitude: ptr(10.0), LastUpdated: &now}

	p := newProjector(t, store)
	members := p.ProjectFrom(ctx, "v", &location.Point{Lat: 0, Lon: 0}, []User{c1, c2})

	require.Len(t, members, 2)
	assert.Equal(t, "c1", members[0].ID)
	assert.Equal(t, StatusShared, members[0].Status)
	require.NotNil(t, members[0].Latitude)
	assert.InDelta(t, 0.0009, *members[0].Longitude, 1e-12)
	require.NotNil(t, members[0].DistanceKm)
	assert.InDelta(t, 0.1, *members[0].DistanceKm, 0.001)

	assert.Equal(t, "c2", members[1].ID)
	assert.Equal(t, StatusNotShared, members[1].Status)

	encoded := keysOf(t, members)
	for _, key := range forbiddenKeys {
		assert.NotContains(t, encoded[1], key)
	}
	assert.Contains(t, encoded[0], "latitude")
	assert.Contains(t, encoded[0], "longitude")

	item := []User{c1}
	annotated := proximity.Annotate(&location.Point{Lat: 0, Lon: 0}, asItems(item))
	require.NotNil(t, annotated[0].DistanceKm)
	assert.InDelta(t, 0.1, *annotated[0].DistanceKm, 0.001)
}

type userItem User

func (u userItem) Coordinates() (float64, float64, bool) {
	if u.Latitude == nil || u.Longitude == nil {
		return 0, 0, false
	}
	return *u.Latitude, *u.Longitude, true
}

func asItems(users []User) []userItem {
	out := make([]userItem, len(users))
	for i, u := range users {
		out[i] = userItem(u)
	}
	return out
}

func TestProjectNeverLeaksWithoutConsent(t *testing.T) {
	store := sharing.NewMemoryStore()
	ctx := context.Background()
	// viewer shares with everyone; nobody shares back
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.UpsertSharingEdge(ctx, "v", id, true))
	}

	now := time.Now()
	var candidates []User
	for _, id := range []string{"a", "b", "c"} {
		candidates = append(candidates, User{ID: id, Latitude: ptr(1.0), Longitude: ptr(2.0), LastUpdated: &now})
	}

	members := newProjector(t, store).ProjectFrom(ctx, "v", &location.Point{}, candidates)

	for i, encoded := range keysOf(t, members) {
		assert.True(t, members[i].IAmSharingWithThem)
		assert.False(t, members[i].TheyAreSharingWithMe)
		for _, key := range forbiddenKeys {
			assert.NotContains(t, encoded, key, "member %s leaked %s", members[i].ID, key)
		}
	}
}

func TestProjectSharingWithoutLocation(t *testing.T) {
	store := sharing.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertSharingEdge(ctx, "a", "v", true))

	members := newProjector(t, store).Project(ctx, "v", []User{{ID: "a", Name: "A"}})

	require.Len(t, members, 1)
	assert.True(t, members[0].TheyAreSharingWithMe)
	assert.Equal(t, StatusUnavailable, members[0].Status)
	assert.Nil(t, members[0].Latitude)
	assert.Nil(t, members[0].Longitude)
}

func TestProjectPreservesOrder(t *testing.T) {
	ids := []string{"z", "a", "m", "b"}
	candidates := make([]User, len(ids))
	for i, id := range ids {
		candidates[i] = User{ID: id}
	}

	members := newProjector(t, sharing.NewMemoryStore()).Project(context.Background(), "v", candidates)

	for i, m := range members {
		assert.Equal(t, ids[i], m.ID)
	}
}

func TestProjectMarksStale(t *testing.T) {
	store := sharing.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertSharingEdge(ctx, "old", "v", true))
	require.NoError(t, store.UpsertSharingEdge(ctx, "fresh", "v", true))

	p := newProjector(t, store)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	old := now.Add(-2 * time.Hour)
	fresh := now.Add(-time.Minute)
	members := p.Project(ctx, "v", []User{
		{ID: "old", Latitude: ptr(1.0), Longitude: ptr(1.0), LastUpdated: &old},
		{ID: "fresh", Latitude: ptr(1.0), Longitude: ptr(1.0), LastUpdated: &fresh},
	})

	assert.True(t, members[0].Stale)
	assert.False(t, members[1].Stale)
}

func TestProjectDoesNotAliasInput(t *testing.T) {
	store := sharing.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertSharingEdge(ctx, "a", "v", true))

	lat, lon := 1.0, 2.0
	members := newProjector(t, store).Project(ctx, "v", []User{{ID: "a", Latitude: &lat, Longitude: &lon}})

	lat = 99
	assert.Equal(t, 1.0, *members[0].Latitude)
}

type failingReader struct{}

func (failingReader) SharingWith(ctx context.Context, ownerIDs []string, viewerID string) (map[string]bool, error) {
	return nil, errors.New("db down")
}

func (failingReader) SharedBy(ctx context.Context, ownerID string, viewerIDs []string) (map[string]bool, error) {
	return nil, errors.New("db down")
}

func TestProjectFailsClosedOnStoreError(t *testing.T) {
	now := time.Now()
	members := newProjector(t, failingReader{}).Project(context.Background(), "v", []User{
		{ID: "a", Name: "A", Latitude: ptr(1.0), Longitude: ptr(1.0), LastUpdated: &now},
	})

	require.Len(t, members, 1)
	assert.False(t, members[0].TheyAreSharingWithMe)
	assert.Nil(t, members[0].Latitude)
	assert.Equal(t, StatusNotShared, members[0].Status)
}

func TestCompose(t *testing.T) {
	ts := time.Now()
	records := []storage.UserRecord{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}
	locs := map[string]*location.Location{"b": {UserID: "b", Lat: 3, Lon: 4, UpdatedAt: ts}}

	users := Compose(records, locs)

	require.Len(t, users, 2)
	assert.Nil(t, users[0].Latitude)
	require.NotNil(t, users[1].Latitude)
	assert.Equal(t, 3.0, *users[1].Latitude)
	assert.Equal(t, []string{"a", "b"}, IDs(records))
}
