// Package sharing owns the directional location-sharing edges between users
// and the single mutating entry point that flips them.
package sharing

import (
	"context"
	"sync"
	"time"
)

// EdgeKey identifies an edge by ordered pair: OwnerID shares with ViewerID.
// EdgeKey{A, B} and EdgeKey{B, A} are different edges.
type EdgeKey struct {
	OwnerID  string
	ViewerID string
}

// Edge is the stored state of one ordered pair. A missing edge means
// Enabled == false.
type Edge struct {
	EdgeKey
	Enabled   bool
	UpdatedAt time.Time
}

// Reader answers batched edge lookups. Ids without an edge are simply
// absent from the returned map.
type Reader interface {
	// SharingWith returns edge(owner -> viewerID) for every owner in ownerIDs.
	SharingWith(ctx context.Context, ownerIDs []string, viewerID string) (map[string]bool, error)
	// SharedBy returns edge(ownerID -> viewer) for every viewer in viewerIDs.
	SharedBy(ctx context.Context, ownerID string, viewerIDs []string) (map[string]bool, error)
}

type Store interface {
	Reader
	UpsertSharingEdge(ctx context.Context, ownerID, viewerID string, enabled bool) error
	// ViewersOf lists viewers with edge(ownerID -> viewer) enabled.
	ViewersOf(ctx context.Context, ownerID string) ([]string, error)
}

// MemoryStore keeps edges in process memory. It backs tests and the
// single-process dev mode (SHARING_STORE=memory).
type MemoryStore struct {
	mu    sync.RWMutex
	edges map[EdgeKey]Edge
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		edges: make(map[EdgeKey]Edge),
		now:   time.Now,
	}
}

func (m *MemoryStore) SharingWith(ctx context.Context, ownerIDs []string, viewerID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]bool, len(ownerIDs))
	for _, owner := range ownerIDs {
		if e, ok := m.edges[EdgeKey{OwnerID: owner, ViewerID: viewerID}]; ok {
			result[owner] = e.Enabled
		}
	}
	return result, nil
}

func (m *MemoryStore) SharedBy(ctx context.Context, ownerID string, viewerIDs []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]bool, len(viewerIDs))
	for _, viewer := range viewerIDs {
		if e, ok := m.edges[EdgeKey{OwnerID: ownerID, ViewerID: viewer}]; ok {
			result[viewer] = e.Enabled
		}
	}
	return result, nil
}

func (m *MemoryStore) UpsertSharingEdge(ctx context.Context, ownerID, viewerID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := EdgeKey{OwnerID: ownerID, ViewerID: viewerID}
	m.edges[key] = Edge{EdgeKey: key, Enabled: enabled, UpdatedAt: m.now()}
	return nil
}

func (m *MemoryStore) ViewersOf(ctx context.Context, ownerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var viewers []string
	for key, e := range m.edges {
		if key.OwnerID == ownerID && e.Enabled {
			viewers = append(viewers, key.ViewerID)
		}
	}
	return viewers, nil
}

// Edge returns the stored edge for an ordered pair.
func (m *MemoryStore) Edge(ownerID, viewerID string) (Edge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.edges[EdgeKey{OwnerID: ownerID, ViewerID: viewerID}]
	return e, ok
}

// Len reports how many edges have ever been written.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.edges)
}
