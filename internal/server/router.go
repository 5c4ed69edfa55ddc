package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/scriptoriumlab/scribe/backend/internal/fault"
	"github.com/scriptoriumlab/scribe/backend/internal/notes"
	"github.com/scriptoriumlab/scribe/backend/internal/realtime"
	"github.com/scriptoriumlab/scribe/backend/internal/users"
	"go.uber.org/zap"
)

const callerContextKey = "scribe_caller"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingNotesService  = errors.New("notes service dependency required")
	errMissingHub           = errors.New("realtime hub dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the bearer tokens used on every route.
type TokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer.
type Dependencies struct {
	TokenManager TokenManager
	Users        *users.Service
	Notes        *notes.Service
	Hub          *realtime.Hub
	QuietWindow  time.Duration
	CORSOrigin   string
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin handler exposing the REST and websocket surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Notes == nil {
		return nil, errMissingNotesService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	corsOrigin := deps.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "http://localhost:3000"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{corsOrigin},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		users:       deps.Users,
		notes:       deps.Notes,
		hub:         deps.Hub,
		quietWindow: deps.QuietWindow,
		corsOrigin:  corsOrigin,
		logger:      logger,
	}

	router.POST("/api/register", handler.handleRegister)
	router.POST("/api/login", handler.handleLogin)
	router.GET("/api/public/:publicId", handler.handleGetPublic)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/api/notes", handler.handleListNotes)
	protected.POST("/api/notes", handler.handleCreateNote)
	protected.GET("/api/notes/:id", handler.handleGetNote)
	protected.PUT("/api/notes/:id", handler.handleUpdateNote)
	protected.DELETE("/api/notes/:id", handler.handleDeleteNote)
	protected.POST("/api/notes/:id/share", handler.handleShareNote)
	protected.GET("/api/search", handler.handleSearch)
	protected.GET("/api/activity", handler.handleActivity)
	protected.GET("/api/notes/:id/collaborators", handler.handleListCollaborators)
	protected.POST("/api/notes/:id/collaborators", handler.handleAddCollaborator)
	protected.DELETE("/api/notes/:id/collaborators/:userId", handler.handleRemoveCollaborator)
	protected.GET("/ws", handler.handleWebsocket)

	return router, nil
}

type httpHandler struct {
	tokens      TokenManager
	users       *users.Service
	notes       *notes.Service
	hub         *realtime.Hub
	quietWindow time.Duration
	corsOrigin  string
	logger      *zap.Logger
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type authResponsePayload struct {
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expires_in"`
	User      userPayload `json:"user"`
}

type notePayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	OwnerID   string    `json:"owner_id"`
	PublicID  string    `json:"public_id"`
	IsPublic  bool      `json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toNotePayload(note notes.Note) notePayload {
	return notePayload{
		ID:        note.ID,
		Title:     note.Title,
		Content:   note.Content,
		OwnerID:   note.OwnerID,
		PublicID:  note.PublicID,
		IsPublic:  note.IsPublic,
		CreatedAt: note.CreatedAt,
		UpdatedAt: note.UpdatedAt,
	}
}

func toUserPayload(account users.User) userPayload {
	return userPayload{
		ID:    account.ID,
		Email: account.Email,
		Name:  account.Name,
		Role:  string(account.Role),
	}
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Register(c.Request.Context(), request.Email, request.Password, request.Name, request.Role)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.writeAuthResponse(c, account)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Login(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.writeAuthResponse(c, account)
}

func (h *httpHandler) writeAuthResponse(c *gin.Context, account users.User) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), account.ID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, authResponsePayload{
		Token:     token,
		ExpiresIn: expiresIn,
		User:      toUserPayload(account),
	})
}

type noteRequestPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	caller := callerFrom(c)
	visible, err := h.notes.ListVisible(c.Request.Context(), caller)
	if err != nil {
		h.writeError(c, err)
		return
	}
	payload := make([]notePayload, 0, len(visible))
	for _, note := range visible {
		payload = append(payload, toNotePayload(note))
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notes.Create(c.Request.Context(), callerFrom(c), request.Title, request.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toNotePayload(note))
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	note, err := h.notes.Get(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toNotePayload(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	var request noteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notes.Update(c.Request.Context(), callerFrom(c), c.Param("id"), request.Title, request.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toNotePayload(note))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	if err := h.notes.Delete(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "note deleted"})
}

func (h *httpHandler) handleShareNote(c *gin.Context) {
	publicID, err := h.notes.Share(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_id": publicID})
}

func (h *httpHandler) handleGetPublic(c *gin.Context) {
	note, err := h.notes.GetPublic(c.Request.Context(), c.Param("publicId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"title":      note.Title,
		"content":    note.Content,
		"created_at": note.CreatedAt,
		"updated_at": note.UpdatedAt,
	})
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	results, err := h.notes.Search(c.Request.Context(), callerFrom(c), c.Query("q"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	payload := make([]notePayload, 0, len(results))
	for _, note := range results {
		payload = append(payload, toNotePayload(note))
	}
	c.JSON(http.StatusOK, payload)
}

type activityPayload struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	NoteID     *string   `json:"note_id"`
	NoteTitle  string    `json:"note_title"`
	Action     string    `json:"action"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (h *httpHandler) handleActivity(c *gin.Context) {
	entries, err := h.notes.RecentActivity(c.Request.Context(), callerFrom(c), 0)
	if err != nil {
		h.writeError(c, err)
		return
	}
	payload := make([]activityPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, activityPayload{
			ID:         entry.Record.ID,
			UserID:     entry.Record.UserID,
			UserName:   entry.UserName,
			NoteID:     entry.Record.NoteID,
			NoteTitle:  entry.NoteTitle,
			Action:     string(entry.Record.Action),
			RecordedAt: entry.Record.RecordedAt,
		})
	}
	c.JSON(http.StatusOK, payload)
}

type collaboratorRequestPayload struct {
	Email      string `json:"email"`
	Permission string `json:"permission"`
}

type collaboratorPayload struct {
	UserID  string    `json:"user_id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	Level   string    `json:"permission"`
	AddedAt time.Time `json:"added_at"`
}

func (h *httpHandler) handleListCollaborators(c *gin.Context) {
	collaborators, err := h.notes.ListCollaborators(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	payload := make([]collaboratorPayload, 0, len(collaborators))
	for _, collaborator := range collaborators {
		payload = append(payload, collaboratorPayload{
			UserID:  collaborator.UserID,
			Name:    collaborator.Name,
			Email:   collaborator.Email,
			Level:   string(collaborator.Level),
			AddedAt: collaborator.AddedAt,
		})
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleAddCollaborator(c *gin.Context) {
	var request collaboratorRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	// Unspecified permission defaults to editor, matching account defaults.
	level := notes.GrantEditor
	if strings.TrimSpace(request.Permission) != "" {
		parsed, ok := notes.ParseGrantLevel(request.Permission)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_permission"})
			return
		}
		level = parsed
	}

	collaborator, err := h.notes.AddCollaborator(c.Request.Context(), callerFrom(c), c.Param("id"), request.Email, level)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, collaboratorPayload{
		UserID:  collaborator.UserID,
		Name:    collaborator.Name,
		Email:   collaborator.Email,
		Level:   string(collaborator.Level),
		AddedAt: collaborator.AddedAt,
	})
}

func (h *httpHandler) handleRemoveCollaborator(c *gin.Context) {
	err := h.notes.RemoveCollaborator(c.Request.Context(), callerFrom(c), c.Param("id"), c.Param("userId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "collaborator removed"})
}

// authorizeRequest validates the bearer token (or, for websocket upgrades,
// the token query parameter) and re-fetches the account so role changes take
// effect immediately.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	account, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(callerContextKey, notes.Caller{UserID: account.ID, Role: account.Role})
	c.Next()
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}

func callerFrom(c *gin.Context) notes.Caller {
	value, ok := c.Get(callerContextKey)
	if !ok {
		return notes.Caller{}
	}
	caller, ok := value.(notes.Caller)
	if !ok {
		return notes.Caller{}
	}
	return caller
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	switch fault.KindOf(err) {
	case fault.KindUnauthenticated:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case fault.KindForbidden:
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case fault.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case fault.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case fault.KindInvalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
