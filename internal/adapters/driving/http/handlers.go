package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driving"
	"github.com/shamba-labs/shamba-core/internal/reference"
	"github.com/swaggo/swag"
)

// Pagination bounds for listing endpoints
const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// ComponentStatus reports the health of one dependency
// @Description Health of a single dependency
type ComponentStatus struct {
	Status string `json:"status" example:"healthy"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse aggregates dependency health
// @Description Aggregated health report
type HealthResponse struct {
	Status     string                     `json:"status" example:"healthy"`
	Components map[string]ComponentStatus `json:"components"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health of the API and its backing stores. Always 200; degraded dependencies are reported per component.
// @Tags         Health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status: "healthy",
		Components: map[string]ComponentStatus{
			"server": {Status: "healthy"},
		},
	}

	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = ComponentStatus{Status: "unhealthy", Error: err.Error()}
			return
		}
		resp.Components[name] = ComponentStatus{Status: "healthy"}
	}

	check("store", s.db)
	check("redis", s.redisClient)
	check("queue", s.taskQueue)

	writeJSON(w, http.StatusOK, resp)
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Returns the readiness status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// handleOpenAPI serves the generated OpenAPI 2.0 document. The docs package
// must be imported for its side effect of registering the spec.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "openapi document unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
}

// Auth endpoints

// handleLogin godoc
// @Summary      User login
// @Description  Authenticate with email and password to receive a JWT token
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        request  body      domain.LoginRequest  true  "Login credentials"
// @Success      200      {object}  domain.LoginResponse
// @Failure      400      {object}  ErrorResponse  "Invalid request body"
// @Failure      401      {object}  ErrorResponse  "Invalid credentials or account disabled"
// @Failure      500      {object}  ErrorResponse  "Internal server error"
// @Router       /auth/login [post]
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.authService.Authenticate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, domain.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "account disabled")
		default:
			writeError(w, http.StatusInternalServerError, "authentication failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh godoc
// @Summary      Refresh token
// @Description  Exchange a refresh token for a new JWT token
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        request  body      domain.RefreshRequest  true  "Refresh token"
// @Success      200      {object}  domain.LoginResponse
// @Failure      400      {object}  ErrorResponse  "Invalid request body"
// @Failure      401      {object}  ErrorResponse  "Invalid refresh token"
// @Router       /auth/refresh [post]
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req domain.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.authService.RefreshToken(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleLogout godoc
// @Summary      Logout user
// @Description  Invalidate the current session token
// @Tags         Authentication
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  StatusResponse
// @Router       /auth/logout [post]
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	_ = s.authService.Logout(r.Context(), token)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetMe godoc
// @Summary      Get current user
// @Description  Get the currently authenticated user's profile
// @Tags         Authentication
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  domain.UserSummary
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      404  {object}  ErrorResponse  "User not found"
// @Router       /auth/me [get]
func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := s.userService.Get(r.Context(), authCtx.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, user.ToSummary())
}

// handleChangePassword godoc
// @Summary      Change password
// @Description  Change the password for the authenticated user
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      domain.ChangePasswordRequest  true  "Current and new password"
// @Success      200      {object}  StatusResponse
// @Failure      400      {object}  ErrorResponse  "Invalid input"
// @Failure      401      {object}  ErrorResponse  "Current password incorrect"
// @Router       /auth/password [post]
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req domain.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.authService.ChangePassword(r.Context(), authCtx.UserID, req); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "current password is incorrect")
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to change password")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Setup endpoint (no auth required, one-time use)

// handleSetup godoc
// @Summary      Initial setup
// @Description  Create the initial admin user. This endpoint can only be called once when no users exist.
// @Tags         Setup
// @Accept       json
// @Produce      json
// @Param        request  body      driving.SetupRequest  true  "Admin user details"
// @Success      201      {object}  driving.SetupResponse
// @Failure      400      {object}  ErrorResponse  "Invalid input"
// @Failure      403      {object}  ErrorResponse  "Setup already complete"
// @Failure      500      {object}  ErrorResponse  "Setup failed"
// @Router       /setup [post]
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req driving.SetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.userService.Setup(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "email, password, and name are required")
		case errors.Is(err, domain.ErrForbidden):
			writeError(w, http.StatusForbidden, "setup already complete")
		default:
			writeError(w, http.StatusInternalServerError, "setup failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// User endpoints

// handleListUsers godoc
// @Summary      List users
// @Description  List users. Admins see every cooperative; agents only their own.
// @Tags         Users
// @Produce      json
// @Security     BearerAuth
// @Param        cooperative_id  query     string  false  "Scope to a cooperative (admin only)"
// @Success      200  {array}   domain.UserSummary
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      403  {object}  ErrorResponse  "Forbidden"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /users [get]
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	cooperativeID := r.URL.Query().Get("cooperative_id")
	if !authCtx.IsAdmin() {
		// Agents are confined to their own cooperative
		if authCtx.CooperativeID == "" {
			writeJSON(w, http.StatusOK, []*domain.UserSummary{})
			return
		}
		cooperativeID = authCtx.CooperativeID
	}

	users, err := s.userService.List(r.Context(), cooperativeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	summaries := make([]*domain.UserSummary, len(users))
	for i, u := range users {
		summaries[i] = u.ToSummary()
	}

	writeJSON(w, http.StatusOK, summaries)
}

// handleCreateUser godoc
// @Summary      Create user
// @Description  Create a new user (admin only)
// @Tags         Users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      driving.CreateUserRequest  true  "User details"
// @Success      201      {object}  domain.UserSummary
// @Failure      400      {object}  ErrorResponse  "Invalid input"
// @Failure      401      {object}  ErrorResponse  "Unauthorized"
// @Failure      403      {object}  ErrorResponse  "Forbidden - admin only"
// @Failure      409      {object}  ErrorResponse  "User already exists"
// @Failure      500      {object}  ErrorResponse  "Internal server error"
// @Router       /users [post]
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req driving.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.userService.Create(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "user already exists")
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	writeJSON(w, http.StatusCreated, user.ToSummary())
}

// handleGetUser godoc
// @Summary      Get user
// @Description  Get a user by ID. Farmers may only read their own profile.
// @Tags         Users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  domain.UserSummary
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      403  {object}  ErrorResponse  "Forbidden"
// @Failure      404  {object}  ErrorResponse  "User not found"
// @Router       /users/{id} [get]
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	if id != authCtx.UserID && !authCtx.CanViewAllRecords() {
		writeError(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	user, err := s.userService.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, user.ToSummary())
}

// handleUpdateUser godoc
// @Summary      Update user
// @Description  Update a user's profile fields (admin only)
// @Tags         Users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "User ID"
// @Param        request  body      driving.UpdateUserRequest  true  "Fields to update"
// @Success      200      {object}  domain.UserSummary
// @Failure      400      {object}  ErrorResponse  "Invalid input"
// @Failure      401      {object}  ErrorResponse  "Unauthorized"
// @Failure      403      {object}  ErrorResponse  "Forbidden - admin only"
// @Failure      404      {object}  ErrorResponse  "User not found"
// @Router       /users/{id} [put]
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req driving.UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.userService.Update(r.Context(), id, req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to update user")
		}
		return
	}

	writeJSON(w, http.StatusOK, user.ToSummary())
}

// handleDeleteUser godoc
// @Summary      Delete user
// @Description  Delete a user by ID (admin only)
// @Tags         Users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  StatusResponse
// @Failure      400  {object}  ErrorResponse  "Cannot delete own account"
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      403  {object}  ErrorResponse  "Forbidden - admin only"
// @Failure      404  {object}  ErrorResponse  "User not found"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /users/{id} [delete]
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	if id == authCtx.UserID {
		writeError(w, http.StatusBadRequest, "cannot delete own account")
		return
	}

	if err := s.userService.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to delete user")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Sync endpoints

// handleSyncBatch godoc
// @Summary      Submit sync batch
// @Description  Apply a batch of offline operations against the record store. Divergent updates are auto-resolved by the active conflict policy or held for manual resolution. The response is the full sync log with per-operation outcomes.
// @Tags         Sync
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      domain.SyncBatch  true  "Operations batch"
// @Success      200      {object}  domain.SyncLog
// @Failure      400      {object}  ErrorResponse  "Malformed batch"
// @Failure      401      {object}  ErrorResponse  "Unauthorized"
// @Failure      503      {object}  ErrorResponse  "Store unavailable"
// @Router       /sync [post]
func (s *Server) handleSyncBatch(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Clients estimate clock skew from this header
	w.Header().Set("X-Server-Time", time.Now().UTC().Format(time.RFC3339Nano))

	var batch domain.SyncBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The submitting identity always comes from the session, never the body
	batch.UserID = authCtx.UserID

	log, err := s.syncService.Reconcile(r.Context(), &batch)
	s.metrics.ObserveSyncLog(log)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMalformedBatch):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "sync failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, log)
}

// handleListConflicts godoc
// @Summary      List open conflicts
// @Description  List unresolved conflicts. Agents and admins may query other users; farmers only themselves.
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        user_id  query     string  false  "Record owner to filter by"
// @Param        limit    query     int     false  "Page size"
// @Param        offset   query     int     false  "Page offset"
// @Success      200  {array}   domain.ConflictView
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      403  {object}  ErrorResponse  "Forbidden"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /sync/conflicts [get]
func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ownerID := r.URL.Query().Get("user_id")
	switch {
	case ownerID == "":
		if !authCtx.CanViewAllRecords() {
			ownerID = authCtx.UserID
		}
	case ownerID != authCtx.UserID && !authCtx.CanViewAllRecords():
		writeError(w, http.StatusForbidden, "cannot view conflicts for other users")
		return
	}

	limit, offset := parsePagination(r)
	views, err := s.syncService.ListConflicts(r.Context(), ownerID, limit, offset)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list conflicts")
		return
	}

	writeJSON(w, http.StatusOK, views)
}

// handleResolveConflict godoc
// @Summary      Resolve conflict
// @Description  Close an open conflict by writing the chosen field values to the record
// @Tags         Sync
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      domain.ResolveRequest  true  "Record ID and chosen fields"
// @Success      200      {object}  domain.Record
// @Failure      400      {object}  ErrorResponse  "Invalid input"
// @Failure      401      {object}  ErrorResponse  "Unauthorized"
// @Failure      404      {object}  ErrorResponse  "Record not found"
// @Failure      409      {object}  ErrorResponse  "Record not in conflict state"
// @Failure      503      {object}  ErrorResponse  "Store unavailable"
// @Router       /sync/resolve [post]
func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req domain.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RecordID == "" {
		writeError(w, http.StatusBadRequest, "record_id is required")
		return
	}
	req.ResolvedBy = authCtx.UserID

	// Visibility rides on the record service, so farmers cannot resolve
	// conflicts on records they do not own
	if _, err := s.recordService.Get(r.Context(), authCtx, req.RecordID); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "record not found")
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "resolve failed")
		}
		return
	}

	rec, err := s.syncService.Resolve(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotInConflict):
			writeError(w, http.StatusConflict, "record is not in conflict state")
		case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnknownEntity):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "record not found")
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "resolve failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleListSyncLogs godoc
// @Summary      List sync logs
// @Description  List reconciliation audit entries, newest first. Agents and admins may query other users; farmers only themselves.
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        user_id    query     string  false  "Submitting user to filter by"
// @Param        device_id  query     string  false  "Device to filter by"
// @Param        status     query     string  false  "Batch status to filter by"  Enums(success, partial, failed)
// @Param        limit      query     int     false  "Page size"
// @Param        offset     query     int     false  "Page offset"
// @Success      200  {array}   domain.SyncLog
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      403  {object}  ErrorResponse  "Forbidden"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /sync/logs [get]
func (s *Server) handleListSyncLogs(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	userID := r.URL.Query().Get("user_id")
	switch {
	case userID == "":
		if !authCtx.CanViewAllRecords() {
			userID = authCtx.UserID
		}
	case userID != authCtx.UserID && !authCtx.CanViewAllRecords():
		writeError(w, http.StatusForbidden, "cannot view sync logs for other users")
		return
	}

	limit, offset := parsePagination(r)
	filter := domain.SyncLogFilter{
		UserID:   userID,
		DeviceID: r.URL.Query().Get("device_id"),
		Status:   domain.SyncLogStatus(r.URL.Query().Get("status")),
		Limit:    limit,
		Offset:   offset,
	}

	logs, err := s.syncService.ListLogs(r.Context(), filter)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list sync logs")
		return
	}

	writeJSON(w, http.StatusOK, logs)
}

// handleGetSyncLog godoc
// @Summary      Get sync log
// @Description  Get a single reconciliation audit entry by ID
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Sync log ID"
// @Success      200  {object}  domain.SyncLog
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      404  {object}  ErrorResponse  "Sync log not found"
// @Router       /sync/logs/{id} [get]
func (s *Server) handleGetSyncLog(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	log, err := s.syncService.GetLog(r.Context(), r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "sync log not found")
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to get sync log")
		}
		return
	}

	// Foreign logs stay invisible to farmers
	if log.UserID != authCtx.UserID && !authCtx.CanViewAllRecords() {
		writeError(w, http.StatusNotFound, "sync log not found")
		return
	}

	writeJSON(w, http.StatusOK, log)
}

// handleListDevices godoc
// @Summary      List sync devices
// @Description  List device sync bookkeeping for the caller. Admins may query any user.
// @Tags         Sync
// @Produce      json
// @Security     BearerAuth
// @Param        user_id  query     string  false  "User to query (admin only)"
// @Success      200  {array}   domain.Device
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      403  {object}  ErrorResponse  "Forbidden"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /sync/devices [get]
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	userID := authCtx.UserID
	if v := r.URL.Query().Get("user_id"); v != "" && v != authCtx.UserID {
		if !authCtx.IsAdmin() {
			writeError(w, http.StatusForbidden, "cannot view devices for other users")
			return
		}
		userID = v
	}

	devices, err := s.syncService.ListDevices(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, devices)
}

// Record endpoints

// recordListResponse pages records with the total match count
// @Description Paged record listing
type recordListResponse struct {
	Records []*domain.Record `json:"records"`
	Total   int              `json:"total" example:"128"`
}

// deleteRecordRequest carries the version a delete was issued against
// @Description Soft delete request
type deleteRecordRequest struct {
	BaseVersion time.Time `json:"base_version"`
}

// handleCreateRecord godoc
// @Summary      Create record
// @Description  Validate the payload against the entity schema and store a new record stamped with a server version
// @Tags         Records
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        entity   path      string                       true  "Entity type"
// @Param        request  body      driving.CreateRecordRequest  true  "Record fields"
// @Success      201      {object}  domain.Record
// @Failure      400      {object}  ErrorResponse  "Invalid payload or unknown entity"
// @Failure      401      {object}  ErrorResponse  "Unauthorized"
// @Failure      403      {object}  ErrorResponse  "Cannot create records for other users"
// @Failure      503      {object}  ErrorResponse  "Store unavailable"
// @Router       /records/{entity} [post]
func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req driving.CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Entity = r.PathValue("entity")

	rec, err := s.recordService.Create(r.Context(), authCtx, req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownEntity), errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrForbidden):
			writeError(w, http.StatusForbidden, "cannot create records for other users")
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "record already exists")
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to create record")
		}
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleListRecords godoc
// @Summary      List records
// @Description  List records of an entity type. Farmers see only their own records; agents and admins may filter by owner.
// @Tags         Records
// @Produce      json
// @Security     BearerAuth
// @Param        entity    path      string  true   "Entity type"
// @Param        owner_id  query     string  false  "Owner to filter by"
// @Param        status    query     string  false  "Sync status to filter by"  Enums(synced, pending, conflict)
// @Param        limit     query     int     false  "Page size"
// @Param        offset    query     int     false  "Page offset"
// @Success      200  {object}  recordListResponse
// @Failure      400  {object}  ErrorResponse  "Unknown entity"
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      500  {object}  ErrorResponse  "Internal server error"
// @Router       /records/{entity} [get]
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, offset := parsePagination(r)
	filter := domain.RecordFilter{
		Entity:  r.PathValue("entity"),
		OwnerID: r.URL.Query().Get("owner_id"),
		Status:  domain.SyncStatus(r.URL.Query().Get("status")),
		Limit:   limit,
		Offset:  offset,
	}

	records, total, err := s.recordService.List(r.Context(), authCtx, filter)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownEntity):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to list records")
		}
		return
	}

	writeJSON(w, http.StatusOK, recordListResponse{Records: records, Total: total})
}

// handleGetRecord godoc
// @Summary      Get record
// @Description  Get a record by ID
// @Tags         Records
// @Produce      json
// @Security     BearerAuth
// @Param        entity  path      string  true  "Entity type"
// @Param        id      path      string  true  "Record ID"
// @Success      200  {object}  domain.Record
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      404  {object}  ErrorResponse  "Record not found"
// @Router       /records/{entity}/{id} [get]
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rec, err := s.recordService.Get(r.Context(), authCtx, r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "record not found")
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to get record")
		}
		return
	}

	// The path names the entity; a mismatched ID is treated as absent
	if rec.Entity != r.PathValue("entity") {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleUpdateRecord godoc
// @Summary      Update record
// @Description  Apply field changes under optimistic concurrency. The body's base_version must match the stored version.
// @Tags         Records
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        entity   path      string                       true  "Entity type"
// @Param        id       path      string                       true  "Record ID"
// @Param        request  body      driving.UpdateRecordRequest  true  "Fields and base version"
// @Success      200      {object}  domain.Record
// @Failure      400      {object}  ErrorResponse  "Invalid payload"
// @Failure      401      {object}  ErrorResponse  "Unauthorized"
// @Failure      404      {object}  ErrorResponse  "Record not found"
// @Failure      409      {object}  ErrorResponse  "Version mismatch"
// @Failure      503      {object}  ErrorResponse  "Store unavailable"
// @Router       /records/{entity}/{id} [put]
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req driving.UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.recordService.Update(r.Context(), authCtx, r.PathValue("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrVersionMismatch):
			writeError(w, http.StatusConflict, "version mismatch: record has changed")
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "record not found")
		case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnknownEntity):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to update record")
		}
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteRecord godoc
// @Summary      Delete record
// @Description  Soft-delete a record under optimistic concurrency. base_version comes from the body or the query string.
// @Tags         Records
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        entity        path      string               true   "Entity type"
// @Param        id            path      string               true   "Record ID"
// @Param        base_version  query     string               false  "Version the delete was issued against (RFC 3339)"
// @Param        request       body      deleteRecordRequest  false  "Version the delete was issued against"
// @Success      200  {object}  StatusResponse
// @Failure      400  {object}  ErrorResponse  "Missing base_version"
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      404  {object}  ErrorResponse  "Record not found"
// @Failure      409  {object}  ErrorResponse  "Version mismatch"
// @Router       /records/{entity}/{id} [delete]
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	authCtx := GetAuthContext(r.Context())
	if authCtx == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req deleteRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BaseVersion.IsZero() {
		if v := r.URL.Query().Get("base_version"); v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid base_version")
				return
			}
			req.BaseVersion = t
		}
	}
	if req.BaseVersion.IsZero() {
		writeError(w, http.StatusBadRequest, "base_version is required")
		return
	}

	err := s.recordService.Delete(r.Context(), authCtx, r.PathValue("id"), req.BaseVersion)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrVersionMismatch):
			writeError(w, http.StatusConflict, "version mismatch: record has changed")
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "record not found")
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to delete record")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Schema endpoints

// handleListSchemas godoc
// @Summary      List schemas
// @Description  List all registered entity schemas
// @Tags         Schemas
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   domain.EntitySchema
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Router       /schemas [get]
func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.schemas.List())
}

// handleGetSchema godoc
// @Summary      Get schema
// @Description  Get the schema for one entity type
// @Tags         Schemas
// @Produce      json
// @Security     BearerAuth
// @Param        entity  path      string  true  "Entity type"
// @Success      200  {object}  domain.EntitySchema
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      404  {object}  ErrorResponse  "Unknown entity"
// @Router       /schemas/{entity} [get]
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.schemas.Get(r.PathValue("entity"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown entity type")
		return
	}

	writeJSON(w, http.StatusOK, schema)
}

// handlePutSchema godoc
// @Summary      Register schema
// @Description  Register or replace an entity schema at runtime (admin only). The definition is persisted and survives restarts.
// @Tags         Schemas
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        entity   path      string               true  "Entity type"
// @Param        request  body      domain.EntitySchema  true  "Schema definition"
// @Success      200      {object}  domain.EntitySchema
// @Failure      400      {object}  ErrorResponse  "Invalid schema definition"
// @Failure      401      {object}  ErrorResponse  "Unauthorized"
// @Failure      403      {object}  ErrorResponse  "Forbidden - admin only"
// @Failure      500      {object}  ErrorResponse  "Failed to persist schema"
// @Router       /schemas/{entity} [put]
func (s *Server) handlePutSchema(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")

	var schema domain.EntitySchema
	if err := json.NewDecoder(r.Body).Decode(&schema); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The path names the entity; the body may omit it but not contradict it
	if schema.Name == "" {
		schema.Name = entity
	}
	if schema.Name != entity {
		writeError(w, http.StatusBadRequest, "schema name does not match path")
		return
	}

	if err := s.schemas.Set(r.Context(), &schema); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to save schema")
		}
		return
	}

	writeJSON(w, http.StatusOK, &schema)
}

// handleDeleteSchema godoc
// @Summary      Delete schema
// @Description  Remove a custom entity schema (admin only). Builtin entities revert to their shipped definition.
// @Tags         Schemas
// @Produce      json
// @Security     BearerAuth
// @Param        entity  path      string  true  "Entity type"
// @Success      200  {object}  StatusResponse
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      403  {object}  ErrorResponse  "Forbidden - admin only"
// @Failure      404  {object}  ErrorResponse  "Unknown entity"
// @Router       /schemas/{entity} [delete]
func (s *Server) handleDeleteSchema(w http.ResponseWriter, r *http.Request) {
	if err := s.schemas.Delete(r.Context(), r.PathValue("entity")); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownEntity):
			writeError(w, http.StatusNotFound, "unknown entity type")
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to delete schema")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Reference data endpoints

// handleReferenceCountries godoc
// @Summary      List supported countries
// @Description  List the supported countries with currency, languages and mobile money providers
// @Tags         Reference
// @Produce      json
// @Success      200  {array}   reference.Country
// @Failure      500  {object}  ErrorResponse  "Reference data unavailable"
// @Router       /reference/countries [get]
func (s *Server) handleReferenceCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := reference.Countries()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reference data unavailable")
		return
	}
	writeJSON(w, http.StatusOK, countries)
}

// handleReferenceCrops godoc
// @Summary      List crop calendars
// @Description  List regional crop calendars. Pass country to get the calendar covering one country.
// @Tags         Reference
// @Produce      json
// @Param        country  query     string  false  "ISO country code"
// @Success      200  {array}   reference.CropCalendar
// @Failure      404  {object}  ErrorResponse  "No calendar for country"
// @Failure      500  {object}  ErrorResponse  "Reference data unavailable"
// @Router       /reference/crops [get]
func (s *Server) handleReferenceCrops(w http.ResponseWriter, r *http.Request) {
	if code := r.URL.Query().Get("country"); code != "" {
		cal, err := reference.CropCalendarForCountry(code)
		if err != nil {
			writeError(w, http.StatusNotFound, "no crop calendar for country")
			return
		}
		writeJSON(w, http.StatusOK, cal)
		return
	}

	calendars, err := reference.CropCalendars()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reference data unavailable")
		return
	}
	writeJSON(w, http.StatusOK, calendars)
}

// handleReferenceLanguages godoc
// @Summary      List supported languages
// @Description  List the languages the platform ships translations for
// @Tags         Reference
// @Produce      json
// @Success      200  {array}   reference.Language
// @Failure      500  {object}  ErrorResponse  "Reference data unavailable"
// @Router       /reference/languages [get]
func (s *Server) handleReferenceLanguages(w http.ResponseWriter, r *http.Request) {
	languages, err := reference.Languages()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reference data unavailable")
		return
	}
	writeJSON(w, http.StatusOK, languages)
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parsePagination reads limit/offset query parameters with safe defaults
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxPageSize {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
