package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/odysseylabs/odyssey/backend/internal/auth"
	"github.com/odysseylabs/odyssey/backend/internal/content"
	"github.com/odysseylabs/odyssey/backend/internal/room"
	"github.com/odysseylabs/odyssey/backend/internal/slides"
)

const userIDContextKey = "odyssey_user_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingIdentityResolver = errors.New("identity resolver dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingSlideStore       = errors.New("slide store dependency required")
	errMissingContentService   = errors.New("content service dependency required")
	errMissingHub              = errors.New("room hub dependency required")
	errMissingRoomTokenIssuer  = errors.New("room token issuer dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// SessionAuthenticator validates identity-provider credentials.
type SessionAuthenticator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

// IdentityResolver maps session claims to a canonical user identifier.
type IdentityResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
}

// BackendTokenManager issues and validates the backend's own API tokens.
type BackendTokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies lists the collaborators the HTTP surface is built from.
type Dependencies struct {
	Sessions   SessionAuthenticator
	Identities IdentityResolver
	Tokens     BackendTokenManager
	Store      *slides.Service
	Content    *content.Service
	Hub        *room.Hub
	RoomTokens *auth.RoomTokenIssuer
	Logger     *zap.Logger
}

// NewHTTPHandler assembles the gin router for the presentation backend.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Identities == nil {
		return nil, errMissingIdentityResolver
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Store == nil {
		return nil, errMissingSlideStore
	}
	if deps.Content == nil {
		return nil, errMissingContentService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	if deps.RoomTokens == nil {
		return nil, errMissingRoomTokenIssuer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:   deps.Sessions,
		identities: deps.Identities,
		tokens:     deps.Tokens,
		store:      deps.Store,
		content:    deps.Content,
		hub:        deps.Hub,
		roomTokens: deps.RoomTokens,
		logger:     logger,
	}

	router.POST("/auth/session", handler.handleSessionExchange)

	// Share visitors reach most read routes without credentials, so bearer
	// auth is optional everywhere except owner-centric routes.
	router.Use(handler.resolveOptionalSession)

	router.POST("/presentations", handler.requireSession, handler.handleCreatePresentation)
	router.GET("/presentations", handler.requireSession, handler.handleListPresentations)
	router.GET("/presentations/:presentationId", handler.handleGetPresentation)
	router.PATCH("/presentations/:presentationId", handler.requireSession, handler.handleRenamePresentation)
	router.DELETE("/presentations/:presentationId", handler.requireSession, handler.handleDeletePresentation)

	router.POST("/slides", handler.handleCreateSlide)
	router.GET("/slides/:slideId", handler.handleGetSlide)
	router.PATCH("/slides/:slideId/position", handler.handleReorderSlide)
	router.DELETE("/slides/:slideId", handler.handleDeleteSlide)
	router.POST("/slides/:slideId/content", handler.handleApplyContent)
	router.GET("/slides/:slideId/content", handler.handleGetContent)

	router.POST("/shares", handler.requireSession, handler.handleCreateShare)
	router.GET("/shares/:shareId", handler.handleGetShare)
	router.GET("/shares/presentation/:presentationId", handler.requireSession, handler.handleListShares)
	router.DELETE("/shares/:shareId", handler.requireSession, handler.handleDeleteShare)

	router.POST("/rooms/auth", handler.handleRoomAuth)
	router.GET("/rooms/:presentationId/ws", handler.handleRoomSocket)

	return router, nil
}

type httpHandler struct {
	sessions   SessionAuthenticator
	identities IdentityResolver
	tokens     BackendTokenManager
	store      *slides.Service
	content    *content.Service
	hub        *room.Hub
	roomTokens *auth.RoomTokenIssuer
	logger     *zap.Logger
}

type sessionExchangePayload struct {
	SessionToken string `json:"session_token"`
}

type sessionExchangeResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// handleSessionExchange trades an identity-provider session JWT for a backend
// API token whose subject is the canonical user id.
func (h *httpHandler) handleSessionExchange(c *gin.Context) {
	var request sessionExchangePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.SessionToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.sessions.ValidateToken(request.SessionToken)
	if err != nil {
		h.logger.Warn("session token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.identities.ResolveCanonicalUserID(claims)
	if err != nil {
		h.logger.Warn("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, sessionExchangeResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

// resolveOptionalSession resolves the canonical user id when a backend bearer
// token is present and valid; anonymous requests pass through untouched.
func (h *httpHandler) resolveOptionalSession(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.Next()
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.Next()
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) requireSession(c *gin.Context) {
	if c.GetString(userIDContextKey) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	c.Next()
}

func (h *httpHandler) requesterID(c *gin.Context) slides.UserID {
	return slides.UserID(c.GetString(userIDContextKey))
}

func (h *httpHandler) shareID(c *gin.Context, bodyShareID string) slides.ShareID {
	if bodyShareID != "" {
		return slides.ShareID(strings.TrimSpace(bodyShareID))
	}
	return slides.ShareID(strings.TrimSpace(c.Query("share_id")))
}

func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, slides.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, slides.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, slides.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, slides.ErrInvalidPresentationID),
		errors.Is(err, slides.ErrInvalidSlideID),
		errors.Is(err, slides.ErrInvalidShareID),
		errors.Is(err, slides.ErrInvalidUserID),
		errors.Is(err, slides.ErrInvalidScope),
		errors.Is(err, slides.ErrInvalidPermission),
		errors.Is(err, content.ErrInvalidUpdate),
		errors.Is(err, content.ErrInvalidSnapshot),
		errors.Is(err, content.ErrInvalidUpdateID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

type presentationPayload struct {
	PresentationID   string `json:"presentation_id"`
	Title            string `json:"title"`
	OwnerID          string `json:"owner_id"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

type slidePayload struct {
	SlideID          string `json:"slide_id"`
	PresentationID   string `json:"presentation_id"`
	Position         int    `json:"position"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func presentationToPayload(presentation slides.Presentation) presentationPayload {
	return presentationPayload{
		PresentationID:   presentation.ID,
		Title:            presentation.Title,
		OwnerID:          presentation.OwnerID,
		CreatedAtSeconds: presentation.CreatedAtSeconds,
		UpdatedAtSeconds: presentation.UpdatedAtSeconds,
	}
}

func slideToPayload(slide slides.Slide) slidePayload {
	return slidePayload{
		SlideID:          slide.ID,
		PresentationID:   slide.PresentationID,
		Position:         slide.Position,
		CreatedAtSeconds: slide.CreatedAtSeconds,
		UpdatedAtSeconds: slide.UpdatedAtSeconds,
	}
}

type createPresentationPayload struct {
	Title string `json:"title"`
}

func (h *httpHandler) handleCreatePresentation(c *gin.Context) {
	var request createPresentationPayload
	_ = c.ShouldBindJSON(&request)

	presentation, slide, err := h.store.CreatePresentation(c.Request.Context(), strings.TrimSpace(request.Title), h.requesterID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"presentation": presentationToPayload(presentation),
		"slides":       []slidePayload{slideToPayload(slide)},
	})
}

func (h *httpHandler) handleListPresentations(c *gin.Context) {
	presentations, err := h.store.ListPresentations(c.Request.Context(), h.requesterID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payloads := make([]presentationPayload, 0, len(presentations))
	for _, presentation := range presentations {
		payloads = append(payloads, presentationToPayload(presentation))
	}
	c.JSON(http.StatusOK, gin.H{"presentations": payloads})
}

func (h *httpHandler) handleGetPresentation(c *gin.Context) {
	presentationID, err := slides.NewPresentationID(c.Param("presentationId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	access, err := h.store.ResolveAccess(c.Request.Context(), h.requesterID(c), presentationID, h.shareID(c, ""))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if !access.CanView() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	presentation, ordered, err := h.store.GetPresentation(c.Request.Context(), presentationID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	visible := make([]slidePayload, 0, len(ordered))
	for _, slide := range ordered {
		if access.SlideVisible(slides.SlideID(slide.ID)) {
			visible = append(visible, slideToPayload(slide))
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"presentation": presentationToPayload(presentation),
		"slides":       visible,
		"access_level": string(access.Level),
	})
}

type renamePresentationPayload struct {
	Title string `json:"title"`
}

func (h *httpHandler) handleRenamePresentation(c *gin.Context) {
	presentationID, err := slides.NewPresentationID(c.Param("presentationId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if err := h.requireOwner(c, presentationID); err != nil {
		return
	}

	var request renamePresentationPayload
	_ = c.ShouldBindJSON(&request)

	presentation, err := h.store.RenamePresentation(c.Request.Context(), presentationID, strings.TrimSpace(request.Title))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presentation": presentationToPayload(presentation)})
}

func (h *httpHandler) handleDeletePresentation(c *gin.Context) {
	presentationID, err := slides.NewPresentationID(c.Param("presentationId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if err := h.requireOwner(c, presentationID); err != nil {
		return
	}

	if err := h.store.DeletePresentation(c.Request.Context(), presentationID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// requireOwner resolves access and rejects the request unless the requester
// owns the presentation. A response has already been written on error.
func (h *httpHandler) requireOwner(c *gin.Context, presentationID slides.PresentationID) error {
	access, err := h.store.ResolveAccess(c.Request.Context(), h.requesterID(c), presentationID, "")
	if err != nil {
		h.writeServiceError(c, err)
		return err
	}
	if access.Level != slides.AccessOwner {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return slides.ErrForbidden
	}
	return nil
}

type createSlidePayload struct {
	PresentationID string `json:"presentation_id"`
	Position       int    `json:"position"`
	ShareID        string `json:"share_id"`
}

func (h *httpHandler) handleCreateSlide(c *gin.Context) {
	var request createSlidePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	presentationID, err := slides.NewPresentationID(request.PresentationID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	_, handle, err := h.hub.Attach(c.Request.Context(), presentationID, h.requesterID(c), h.shareID(c, request.ShareID))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	defer handle.Close()

	created, err := handle.CreateSlide(c.Request.Context(), request.Position)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"slide": slideToPayload(created)})
}

func (h *httpHandler) handleGetSlide(c *gin.Context) {
	slideID, err := slides.NewSlideID(c.Param("slideId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	slide, access, err := h.visibleSlide(c, slideID)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"slide":        slideToPayload(slide),
		"access_level": string(access.Level),
	})
}

type reorderSlidePayload struct {
	Position int    `json:"position"`
	ShareID  string `json:"share_id"`
}

func (h *httpHandler) handleReorderSlide(c *gin.Context) {
	slideID, err := slides.NewSlideID(c.Param("slideId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	var request reorderSlidePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	slide, err := h.store.GetSlide(c.Request.Context(), slideID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	_, handle, err := h.hub.Attach(c.Request.Context(), slides.PresentationID(slide.PresentationID), h.requesterID(c), h.shareID(c, request.ShareID))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	defer handle.Close()

	if err := handle.ReorderSlide(c.Request.Context(), slideID, request.Position); err != nil {
		h.writeServiceError(c, err)
		return
	}
	moved, err := h.store.GetSlide(c.Request.Context(), slideID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slide": slideToPayload(moved)})
}

func (h *httpHandler) handleDeleteSlide(c *gin.Context) {
	slideID, err := slides.NewSlideID(c.Param("slideId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	slide, err := h.store.GetSlide(c.Request.Context(), slideID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	_, handle, err := h.hub.Attach(c.Request.Context(), slides.PresentationID(slide.PresentationID), h.requesterID(c), h.shareID(c, ""))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	defer handle.Close()

	if err := handle.DeleteSlide(c.Request.Context(), slideID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type contentUpdatePayload struct {
	UpdateB64        string `json:"update_b64"`
	SnapshotB64      string `json:"snapshot_b64"`
	SnapshotUpdateID int64  `json:"snapshot_update_id"`
}

type applyContentPayload struct {
	Updates []contentUpdatePayload `json:"updates"`
	ShareID string                 `json:"share_id"`
}

func (h *httpHandler) handleApplyContent(c *gin.Context) {
	slideID, err := slides.NewSlideID(c.Param("slideId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	var request applyContentPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	slide, err := h.store.GetSlide(c.Request.Context(), slideID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	access, err := h.store.ResolveAccess(c.Request.Context(), h.requesterID(c), slides.PresentationID(slide.PresentationID), h.shareID(c, request.ShareID))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if !access.CanEditContent(slideID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	envelopes := make([]content.UpdateEnvelope, 0, len(request.Updates))
	for _, update := range request.Updates {
		updateB64, err := content.NewUpdateBase64(update.UpdateB64)
		if err != nil {
			h.writeServiceError(c, err)
			return
		}
		snapshotB64, err := content.NewSnapshotBase64(update.SnapshotB64)
		if err != nil {
			h.writeServiceError(c, err)
			return
		}
		snapshotUpdateID, err := content.NewUpdateID(update.SnapshotUpdateID)
		if err != nil {
			h.writeServiceError(c, err)
			return
		}
		envelopes = append(envelopes, content.UpdateEnvelope{
			UpdateB64:        updateB64,
			SnapshotB64:      snapshotB64,
			SnapshotUpdateID: snapshotUpdateID,
		})
	}

	outcomes, err := h.content.ApplyUpdates(c.Request.Context(), slideID, envelopes)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	results := make([]gin.H, 0, len(outcomes))
	for _, outcome := range outcomes {
		results = append(results, gin.H{
			"update_id": outcome.UpdateID.Int64(),
			"duplicate": outcome.Duplicate,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *httpHandler) handleGetContent(c *gin.Context) {
	slideID, err := slides.NewSlideID(c.Param("slideId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if _, _, err := h.visibleSlide(c, slideID); err != nil {
		return
	}

	snapshot, snapshotUpdateID, found, err := h.content.GetSnapshot(c.Request.Context(), slideID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	updates, err := h.content.ListUpdates(c.Request.Context(), slideID, snapshotUpdateID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	updatePayloads := make([]gin.H, 0, len(updates))
	for _, update := range updates {
		updatePayloads = append(updatePayloads, gin.H{
			"update_id":  update.UpdateID.Int64(),
			"update_b64": update.UpdateB64.String(),
		})
	}
	response := gin.H{"updates": updatePayloads}
	if found {
		response["snapshot_b64"] = snapshot.String()
		response["snapshot_update_id"] = snapshotUpdateID.Int64()
	}
	c.JSON(http.StatusOK, response)
}

// visibleSlide loads a slide and verifies the requester may see it. A response
// has already been written on error.
func (h *httpHandler) visibleSlide(c *gin.Context, slideID slides.SlideID) (slides.Slide, slides.AccessContext, error) {
	slide, err := h.store.GetSlide(c.Request.Context(), slideID)
	if err != nil {
		h.writeServiceError(c, err)
		return slides.Slide{}, slides.AccessContext{}, err
	}
	access, err := h.store.ResolveAccess(c.Request.Context(), h.requesterID(c), slides.PresentationID(slide.PresentationID), h.shareID(c, ""))
	if err != nil {
		h.writeServiceError(c, err)
		return slides.Slide{}, slides.AccessContext{}, err
	}
	if !access.SlideVisible(slideID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return slides.Slide{}, slides.AccessContext{}, slides.ErrForbidden
	}
	return slide, access, nil
}

type createSharePayload struct {
	PresentationID   string `json:"presentation_id"`
	Scope            string `json:"scope"`
	Permission       string `json:"permission"`
	SlideID          string `json:"slide_id"`
	ExpiresAtSeconds *int64 `json:"expires_at_s"`
}

type sharePayload struct {
	ShareID          string  `json:"share_id"`
	PresentationID   string  `json:"presentation_id"`
	SlideID          *string `json:"slide_id,omitempty"`
	Scope            string  `json:"scope"`
	Permission       string  `json:"permission"`
	ExpiresAtSeconds *int64  `json:"expires_at_s,omitempty"`
	CreatedAtSeconds int64   `json:"created_at_s"`
}

func shareToPayload(share slides.Share) sharePayload {
	return sharePayload{
		ShareID:          share.ShareID,
		PresentationID:   share.PresentationID,
		SlideID:          share.SlideID,
		Scope:            string(share.Scope),
		Permission:       string(share.Permission),
		ExpiresAtSeconds: share.ExpiresAtSeconds,
		CreatedAtSeconds: share.CreatedAtSeconds,
	}
}

func (h *httpHandler) handleCreateShare(c *gin.Context) {
	var request createSharePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	presentationID, err := slides.NewPresentationID(request.PresentationID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if err := h.requireOwner(c, presentationID); err != nil {
		return
	}
	scope, err := slides.ParseShareScope(request.Scope)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	permission, err := slides.ParseSharePermission(request.Permission)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	shareRequest := slides.ShareRequest{
		PresentationID: presentationID,
		Scope:          scope,
		Permission:     permission,
		SlideID:        slides.SlideID(strings.TrimSpace(request.SlideID)),
	}
	if request.ExpiresAtSeconds != nil {
		expires := time.Unix(*request.ExpiresAtSeconds, 0).UTC()
		shareRequest.ExpiresAt = &expires
	}

	share, err := h.store.CreateShare(c.Request.Context(), shareRequest)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"share": shareToPayload(share)})
}

func (h *httpHandler) handleGetShare(c *gin.Context) {
	shareID, err := slides.NewShareID(c.Param("shareId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	share, err := h.store.FindShare(c.Request.Context(), shareID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"share": shareToPayload(share)})
}

func (h *httpHandler) handleListShares(c *gin.Context) {
	presentationID, err := slides.NewPresentationID(c.Param("presentationId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if err := h.requireOwner(c, presentationID); err != nil {
		return
	}
	shares, err := h.store.ListShares(c.Request.Context(), presentationID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	payloads := make([]sharePayload, 0, len(shares))
	for _, share := range shares {
		payloads = append(payloads, shareToPayload(share))
	}
	c.JSON(http.StatusOK, gin.H{"shares": payloads})
}

func (h *httpHandler) handleDeleteShare(c *gin.Context) {
	shareID, err := slides.NewShareID(c.Param("shareId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	share, err := h.store.FindShare(c.Request.Context(), shareID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if err := h.requireOwner(c, slides.PresentationID(share.PresentationID)); err != nil {
		return
	}
	if err := h.store.DeleteShare(c.Request.Context(), shareID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type roomAuthPayload struct {
	PresentationID string `json:"presentation_id"`
	ShareID        string `json:"share_id"`
}

func (h *httpHandler) handleRoomAuth(c *gin.Context) {
	var request roomAuthPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	presentationID, err := slides.NewPresentationID(request.PresentationID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	shareID := h.shareID(c, request.ShareID)
	access, err := h.store.ResolveAccess(c.Request.Context(), h.requesterID(c), presentationID, shareID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	if !access.CanView() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	visibleSlides := []string(nil)
	for _, visible := range access.VisibleSlideIDs() {
		visibleSlides = append(visibleSlides, visible.String())
	}

	token, expiresIn, err := h.roomTokens.IssueRoomToken(
		c.Request.Context(),
		c.GetString(userIDContextKey),
		room.RoomID(presentationID),
		string(access.Level),
		shareID.String(),
		visibleSlides,
	)
	if err != nil {
		h.logger.Error("failed to issue room token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": expiresIn,
		"room":       room.RoomID(presentationID),
	})
}
