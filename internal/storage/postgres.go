package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type PostgresClient struct {
	db *sql.DB
}

type UserRecord struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Post is a feed item. Latitude/Longitude are nil for posts published
// without a location.
type Post struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Caption    string    `json:"caption"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p Post) Coordinates() (float64, float64, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return 0, 0, false
	}
	return *p.Latitude, *p.Longitude, true
}

type Business struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (b Business) Coordinates() (float64, float64, bool) {
	return b.Latitude, b.Longitude, true
}

func NewPostgresClient(connStr string) (*PostgresClient, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &PostgresClient{db: db}

	// Initialize schema
	if err := client.initSchema(); err != nil {
		return nil, err
	}

	return client, nil
}

func (p *PostgresClient) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS family_members (
		family_id TEXT NOT NULL,
		user_id TEXT NOT NULL REFERENCES users(id),
		PRIMARY KEY (family_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_family_members_user ON family_members (user_id);

	CREATE TABLE IF NOT EXISTS sharing_edges (
		owner_id TEXT NOT NULL,
		viewer_id TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (owner_id, viewer_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sharing_edges_viewer ON sharing_edges (viewer_id);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL REFERENCES users(id),
		caption TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		geohash TEXT,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_posts_geohash ON posts (geohash text_pattern_ops);

	CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		geohash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_businesses_geohash ON businesses (geohash text_pattern_ops);
	`

	_, err := p.db.Exec(schema)
	return err
}

func (p *PostgresClient) Close() error {
	return p.db.Close()
}

func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// User operations

func (p *PostgresClient) GetUser(ctx context.Context, id string) (*UserRecord, error) {
	query := `SELECT id, name, created_at FROM users WHERE id = $1`

	var u UserRecord
	err := p.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Name, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &u, nil
}

func (p *PostgresClient) UserExists(ctx context.Context, id string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`

	var exists bool
	if err := p.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}

	return exists, nil
}

// FamilyOf lists every user sharing at least one family with userID,
// excluding userID itself, ordered by name.
func (p *PostgresClient) FamilyOf(ctx context.Context, userID string) ([]UserRecord, error) {
	query := `
		SELECT DISTINCT u.id, u.name, u.created_at
		FROM family_members me
		JOIN family_members fm ON fm.family_id = me.family_id
		JOIN users u ON u.id = fm.user_id
		WHERE me.user_id = $1 AND u.id <> $1
		ORDER BY u.name, u.id
	`

	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []UserRecord
	for rows.Next() {
		var u UserRecord
		if err := rows.Scan(&u.ID, &u.Name, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// Sharing edge operations

// SharingWith returns edge(owner -> viewerID) for each owner that has one.
func (p *PostgresClient) SharingWith(ctx context.Context, ownerIDs []string, viewerID string) (map[string]bool, error) {
	query := `
		SELECT owner_id, enabled FROM sharing_edges
		WHERE viewer_id = $1 AND owner_id = ANY($2)
	`
	return p.scanEdges(ctx, query, viewerID, pq.Array(ownerIDs))
}

// SharedBy returns edge(ownerID -> viewer) for each viewer that has one.
func (p *PostgresClient) SharedBy(ctx context.Context, ownerID string, viewerIDs []string) (map[string]bool, error) {
	query := `
		SELECT viewer_id, enabled FROM sharing_edges
		WHERE owner_id = $1 AND viewer_id = ANY($2)
	`
	return p.scanEdges(ctx, query, ownerID, pq.Array(viewerIDs))
}

func (p *PostgresClient) scanEdges(ctx context.Context, query string, args ...interface{}) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edges := make(map[string]bool)
	for rows.Next() {
		var id string
		var enabled bool
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, err
		}
		edges[id] = enabled
	}

	return edges, rows.Err()
}

func (p *PostgresClient) UpsertSharingEdge(ctx context.Context, ownerID, viewerID string, enabled bool) error {
	query := `
		INSERT INTO sharing_edges (owner_id, viewer_id, enabled, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner_id, viewer_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`

	_, err := p.db.ExecContext(ctx, query, ownerID, viewerID, enabled)
	return err
}

// ViewersOf lists the viewers ownerID currently shares their location with.
func (p *PostgresClient) ViewersOf(ctx context.Context, ownerID string) ([]string, error) {
	query := `SELECT viewer_id FROM sharing_edges WHERE owner_id = $1 AND enabled`

	rows, err := p.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var viewers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		viewers = append(viewers, id)
	}

	return viewers, rows.Err()
}

// Content operations

// RecentPosts returns the newest posts. When cells is non-empty only posts
// whose geohash starts with one of the cells are returned.
func (p *PostgresClient) RecentPosts(ctx context.Context, cells []string, limit int) ([]Post, error) {
	query := `
		SELECT p.id, p.author_id, u.name, p.caption, p.latitude, p.longitude, p.created_at
		FROM posts p
		JOIN users u ON u.id = p.author_id
		WHERE $1::text[] IS NULL OR cardinality($1::text[]) = 0 OR p.geohash LIKE ANY (
			SELECT c || '%' FROM unnest($1::text[]) AS c
		)
		ORDER BY p.created_at DESC
		LIMIT $2
	`

	rows, err := p.db.QueryContext(ctx, query, cellsArray(cells), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]Post, 0)
	for rows.Next() {
		var post Post
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&post.ID, &post.AuthorID, &post.AuthorName, &post.Caption, &lat, &lon, &post.CreatedAt); err != nil {
			return nil, err
		}
		if lat.Valid && lon.Valid {
			post.Latitude = &lat.Float64
			post.Longitude = &lon.Float64
		}
		posts = append(posts, post)
	}

	return posts, rows.Err()
}

// cellsArray binds a geohash cover. A nil cover binds as '{}' rather than
// NULL so it still means "no spatial filter".
func cellsArray(cells []string) interface{} {
	if cells == nil {
		cells = []string{}
	}
	return pq.Array(cells)
}

func (p *PostgresClient) Businesses(ctx context.Context, cells []string, limit int) ([]Business, error) {
	query := `
		SELECT id, name, category, latitude, longitude
		FROM businesses
		WHERE $1::text[] IS NULL OR cardinality($1::text[]) = 0 OR geohash LIKE ANY (
			SELECT c || '%' FROM unnest($1::text[]) AS c
		)
		ORDER BY name
		LIMIT $2
	`

	rows, err := p.db.QueryContext(ctx, query, cellsArray(cells), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	businesses := make([]Business, 0)
	for rows.Next() {
		var b Business
		if err := rows.Scan(&b.ID, &b.Name, &b.Category, &b.Latitude, &b.Longitude); err != nil {
			return nil, err
		}
		businesses = append(businesses, b)
	}

	return businesses, rows.Err()
}
