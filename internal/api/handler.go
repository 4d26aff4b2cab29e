package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/askwhyharsh/familycircle/internal/family"
	"github.com/askwhyharsh/familycircle/internal/location"
	"github.com/askwhyharsh/familycircle/internal/proximity"
	"github.com/askwhyharsh/familycircle/internal/ratelimit"
	"github.com/askwhyharsh/familycircle/internal/session"
	"github.com/askwhyharsh/familycircle/internal/sharing"
	"github.com/askwhyharsh/familycircle/internal/storage"
	apperrors "github.com/askwhyharsh/familycircle/pkg/errors"
	"github.com/askwhyharsh/familycircle/pkg/logger"
	"github.com/askwhyharsh/familycircle/pkg/validator"
)

// Directory is the user and content source, *storage.PostgresClient in
// production.
type Directory interface {
	UserExists(ctx context.Context, id string) (bool, error)
	FamilyOf(ctx context.Context, userID string) ([]storage.UserRecord, error)
	RecentPosts(ctx context.Context, cells []string, limit int) ([]storage.Post, error)
	Businesses(ctx context.Context, cells []string, limit int) ([]storage.Business, error)
}

// Notifier pushes live updates, *live.Notifier in production.
type Notifier interface {
	LocationChanged(ctx context.Context, loc *location.Location) (int, error)
	SharingRevoked(ctx context.Context, ownerID, viewerID string) error
}

// Pinger is anything /api/health should check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	GeohashPrecision int
	DefaultRadiusKm  float64
	FeedLimit        int
}

type Dependencies struct {
	Sessions  session.SessionService
	Directory Directory
	Locations location.LocationService
	Projector *family.Projector
	Toggler   *sharing.Toggler
	Limiter   ratelimit.RateLimiter
	Notifier  Notifier
	Validator validator.Validator
	Logger    logger.Logger
	Health    map[string]Pinger
}

type Handler struct {
	sessions  session.SessionService
	directory Directory
	locations location.LocationService
	projector *family.Projector
	toggler   *sharing.Toggler
	limiter   ratelimit.RateLimiter
	notifier  Notifier
	validator validator.Validator
	logger    logger.Logger
	health    map[string]Pinger
	opts      Options
}

// FamilyMember is a family.Member plus a human readable distance.
type FamilyMember struct {
	family.Member
	DistanceLabel string `json:"distance_label,omitempty"`
}

func NewHandler(deps Dependencies, opts Options) *Handler {
	if opts.FeedLimit <= 0 {
		opts.FeedLimit = 50
	}
	if opts.GeohashPrecision <= 0 {
		opts.GeohashPrecision = 5
	}
	if opts.DefaultRadiusKm <= 0 {
		opts.DefaultRadiusKm = 10
	}

	return &Handler{
		sessions:  deps.Sessions,
		directory: deps.Directory,
		locations: deps.Locations,
		projector: deps.Projector,
		toggler:   deps.Toggler,
		limiter:   deps.Limiter,
		notifier:  deps.Notifier,
		validator: deps.Validator,
		logger:    deps.Logger,
		health:    deps.Health,
		opts:      opts,
	}
}

// POST /api/session/create
func (h *Handler) CreateSession(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid request", "INVALID_REQUEST"))
		return
	}

	if err := h.validator.ValidateUserID(req.UserID); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse(err.Error(), "INVALID_USER_ID"))
		return
	}

	ctx := c.Request.Context()
	exists, err := h.directory.UserExists(ctx, req.UserID)
	if err != nil {
		h.logger.Error("Failed to look up user", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse(apperrors.ErrStoreUnavailable.Error(), "STORE_UNAVAILABLE"))
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, ErrorResponse(apperrors.ErrUserNotFound.Error(), "USER_NOT_FOUND"))
		return
	}

	sess, err := h.sessions.Create(ctx, req.UserID, c.ClientIP())
	if err != nil {
		h.logger.Error("Failed to create session", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse("Failed to create session", "INTERNAL_ERROR"))
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse(sess))
}

// GET /api/family
func (h *Handler) GetFamily(c *gin.Context) {
	viewerID := c.GetString(ctxUserID)
	ctx := c.Request.Context()

	records, err := h.directory.FamilyOf(ctx, viewerID)
	if err != nil {
		h.logger.Error("Failed to load family", "viewer_id", viewerID, "error", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse(apperrors.ErrStoreUnavailable.Error(), "STORE_UNAVAILABLE"))
		return
	}

	// one MGET covers the family and the viewer's own position
	ids := append(family.IDs(records), viewerID)
	locations, err := h.locations.GetLocations(ctx, ids)
	if err != nil {
		h.logger.Warn("Failed to load locations, showing family without positions",
			"viewer_id", viewerID,
			"error", err,
		)
		locations = nil
	}

	var origin *location.Point
	if own, ok := locations[viewerID]; ok && own != nil {
		p := own.Point()
		origin = &p
	}

	members := h.projector.ProjectFrom(ctx, viewerID, origin, family.Compose(records, locations))

	out := make([]FamilyMember, len(members))
	for i, m := range members {
		out[i] = FamilyMember{Member: m}
		if m.DistanceKm != nil {
			out[i].DistanceLabel = location.FormatDistance(*m.DistanceKm)
		}
	}

	c.JSON(http.StatusOK, SuccessResponse(gin.H{
		"count":   len(out),
		"members": out,
	}))
}

// PUT /api/family/:id/sharing
//
// :id is the viewer. owner_id defaults to the session user; naming anyone
// else is refused by the toggler.
func (h *Handler) SetSharing(c *gin.Context) {
	var req struct {
		Enabled *bool  `json:"enabled" binding:"required"`
		OwnerID string `json:"owner_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid request", "INVALID_REQUEST"))
		return
	}

	actorID := c.GetString(ctxUserID)
	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = actorID
	}
	viewerID := c.Param("id")
	ctx := c.Request.Context()

	allowed, err := h.limiter.AllowToggle(ctx, actorID)
	if err != nil || !allowed {
		c.JSON(http.StatusTooManyRequests, ErrorResponse(apperrors.ErrRateLimitExceeded.Error(), "RATE_LIMIT"))
		return
	}

	result := h.toggler.SetSharing(ctx, actorID, ownerID, viewerID, *req.Enabled)
	if !result.Success {
		status, code := statusFor(result.Err)
		c.JSON(status, ErrorResponse(result.Error, code))
		return
	}

	if !result.Enabled && viewerID != ownerID {
		if err := h.notifier.SharingRevoked(ctx, ownerID, viewerID); err != nil {
			h.logger.Warn("Failed to push sharing revocation",
				"owner_id", ownerID,
				"viewer_id", viewerID,
				"error", err,
			)
		}
	}

	c.JSON(http.StatusOK, SuccessResponse(result))
}

// POST /api/location
func (h *Handler) ReportLocation(c *gin.Context) {
	var req struct {
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid request", "INVALID_REQUEST"))
		return
	}

	if err := h.validator.ValidateCoordinates(*req.Latitude, *req.Longitude); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse(err.Error(), "INVALID_COORDINATES"))
		return
	}

	userID := c.GetString(ctxUserID)
	ctx := c.Request.Context()

	allowed, err := h.limiter.AllowLocationUpdate(ctx, userID)
	if err != nil || !allowed {
		c.JSON(http.StatusTooManyRequests, ErrorResponse("Location update rate limit exceeded", "RATE_LIMIT"))
		return
	}

	loc, err := h.locations.UpdateLocation(ctx, userID, *req.Latitude, *req.Longitude)
	if err != nil {
		status, code := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to update location", "user_id", userID, "error", err)
		}
		c.JSON(status, ErrorResponse("Failed to update location", code))
		return
	}

	notified, err := h.notifier.LocationChanged(ctx, loc)
	if err != nil {
		h.logger.Warn("Failed to fan out location", "user_id", userID, "error", err)
	}

	c.JSON(http.StatusOK, SuccessResponse(gin.H{
		"location": loc,
		"notified": notified,
	}))
}

// GET /api/nearby/posts
func (h *Handler) NearbyPosts(c *gin.Context) {
	nearby(c, h, h.directory.RecentPosts)
}

// GET /api/nearby/businesses
func (h *Handler) NearbyBusinesses(c *gin.Context) {
	nearby(c, h, h.directory.Businesses)
}

// nearby serves an annotated content feed. Without a usable viewer location
// every item is returned with a null distance, unfiltered and in source order.
func nearby[T proximity.Locatable](c *gin.Context, h *Handler, fetch func(ctx context.Context, cells []string, limit int) ([]T, error)) {
	ctx := c.Request.Context()

	radius := h.opts.DefaultRadiusKm
	if raw := c.Query("radius_km"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			err = h.validator.ValidateRadiusKm(r)
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse(apperrors.ErrInvalidRadius.Error(), "INVALID_RADIUS"))
			return
		}
		radius = r
	}

	origin := h.viewerOrigin(c)

	// empty, not nil: the directory treats an empty cover as "everywhere"
	cells := []string{}
	if origin != nil {
		precision := location.PrecisionForRadius(*origin, radius, h.opts.GeohashPrecision)
		cells = location.Cover(*origin, precision)
	}

	items, err := fetch(ctx, cells, h.opts.FeedLimit)
	if err != nil {
		h.logger.Error("Failed to load nearby content", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse(apperrors.ErrStoreUnavailable.Error(), "STORE_UNAVAILABLE"))
		return
	}

	annotated := proximity.Annotate(origin, items)
	if origin != nil {
		annotated = proximity.Within(annotated, radius)
	}
	if c.Query("sort") == "distance" {
		proximity.SortByDistance(annotated)
	}

	c.JSON(http.StatusOK, SuccessResponse(gin.H{
		"count":        len(annotated),
		"has_location": origin != nil,
		"items":        annotated,
	}))
}

// viewerOrigin prefers explicit lat/lon query parameters and falls back to
// the session user's last reported location. Malformed input yields nil.
func (h *Handler) viewerOrigin(c *gin.Context) *location.Point {
	latRaw, lonRaw := c.Query("lat"), c.Query("lon")
	if latRaw != "" || lonRaw != "" {
		lat, errLat := strconv.ParseFloat(latRaw, 64)
		lon, errLon := strconv.ParseFloat(lonRaw, 64)
		if errLat != nil || errLon != nil || h.validator.ValidateCoordinates(lat, lon) != nil {
			return nil
		}
		return &location.Point{Lat: lat, Lon: lon}
	}

	userID := c.GetString(ctxUserID)
	if userID == "" {
		return nil
	}

	loc, err := h.locations.GetLocation(c.Request.Context(), userID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrLocationNotFound) {
			h.logger.Warn("Failed to load viewer location", "user_id", userID, "error", err)
		}
		return nil
	}

	p := loc.Point()
	return &p
}

// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.health))
	for name, p := range h.health {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}

	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().UTC(),
	})
}
