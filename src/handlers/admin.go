package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/middleware"
	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/Vafelkin/outline-tg-bot/src/outline"
	"github.com/Vafelkin/outline-tg-bot/src/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ServerAPI is the server-level part of the Outline management API
type ServerAPI interface {
	ServerInfo(ctx context.Context) (*models.ServerInfo, error)
	RenameServer(ctx context.Context, name string) error
	ClearDefaultDataLimit(ctx context.Context) error
}

// AdminHandler serves the operator API
type AdminHandler struct {
	keys         *services.KeyService
	actors       *services.ActorService
	activity     *services.ActivityService
	operators    *services.OperatorService
	reconciler   *services.Reconciler
	server       ServerAPI
	tokens       *middleware.TokenManager
	secureCookie bool
}

// AdminDeps groups the collaborators of AdminHandler
type AdminDeps struct {
	Keys         *services.KeyService
	Actors       *services.ActorService
	Activity     *services.ActivityService
	Operators    *services.OperatorService
	Reconciler   *services.Reconciler
	Server       ServerAPI
	Tokens       *middleware.TokenManager
	SecureCookie bool
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(d AdminDeps) *AdminHandler {
	return &AdminHandler{
		keys:         d.Keys,
		actors:       d.Actors,
		activity:     d.Activity,
		operators:    d.Operators,
		reconciler:   d.Reconciler,
		server:       d.Server,
		tokens:       d.Tokens,
		secureCookie: d.SecureCookie,
	}
}

// RegisterRoutes mounts the login route and the authenticated /admin group
func (ah *AdminHandler) RegisterRoutes(r *gin.Engine) {
	r.POST("/admin/login", middleware.LoginRateLimitMiddleware(), ah.HandleLogin)

	admin := r.Group("/admin", middleware.OperatorAuth(ah.tokens))
	admin.POST("/logout", ah.HandleLogout)
	admin.GET("/status", ah.HandleStatus)

	admin.GET("/keys", ah.HandleListKeys)
	admin.GET("/keys/:key_id", ah.HandleGetKey)
	admin.DELETE("/keys/:key_id", ah.HandleDeleteKey)
	admin.PUT("/keys/:key_id/name", ah.HandleRenameKey)
	admin.PUT("/keys/:key_id/limit", ah.HandleSetLimit)
	admin.DELETE("/keys/:key_id/limit", ah.HandleClearLimit)
	admin.PUT("/keys/:key_id/expiry", ah.HandleSetExpiry)
	admin.DELETE("/keys/:key_id/expiry", ah.HandleClearExpiry)

	admin.GET("/actors", ah.HandleListActors)
	admin.PUT("/actors/:actor_id/blocked", ah.HandleSetBlocked)
	admin.PUT("/actors/:actor_id/elevated", ah.HandleSetElevated)

	admin.GET("/activity", ah.HandleActivity)
	admin.POST("/sync", ah.HandleSync)

	admin.GET("/server", ah.HandleServerInfo)
	admin.PUT("/server/name", ah.HandleRenameServer)
	admin.DELETE("/server/data-limit", ah.HandleClearServerLimit)
}

// errorStatus maps an error kind to an HTTP status
func errorStatus(err error) int {
	var apiErr *outline.APIError
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, services.ErrKeyNotFound), errors.Is(err, services.ErrActorNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrQuotaExceeded), errors.Is(err, services.ErrOperationInProgress):
		return http.StatusConflict
	case errors.Is(err, services.ErrUpstreamUnavailable), errors.Is(err, services.ErrVerificationFailed), errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg("operator request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

// LoginRequest represents the request body for operator login
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the response for successful login
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// HandleLogin authenticates an operator and returns a JWT
func (ah *AdminHandler) HandleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	op, err := ah.operators.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	token, expiresAt, err := ah.tokens.Issue(op)
	if err != nil {
		writeError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.OperatorCookie, token, int(time.Until(expiresAt).Seconds()), "/admin", "", ah.secureCookie, true)
	c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt.Unix()})
}

// HandleLogout clears the token cookie
func (ah *AdminHandler) HandleLogout(c *gin.Context) {
	c.SetCookie(middleware.OperatorCookie, "", -1, "/admin", "", ah.secureCookie, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// HandleStatus returns the authenticated operator
func (ah *AdminHandler) HandleStatus(c *gin.Context) {
	op := middleware.GetOperator(c)
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"operator_id":   op.OperatorID,
		"username":      op.Username,
	})
}

// KeyResponse is an access key as exposed by the operator API
type KeyResponse struct {
	models.AccessKey
	OwnerLabel    string `json:"owner_label"`
	LegacyOwnerID int64  `json:"legacy_owner_id"`
	Expired       bool   `json:"expired"`
}

func (ah *AdminHandler) keyResponse(ctx context.Context, k models.AccessKey, now time.Time) KeyResponse {
	return KeyResponse{
		AccessKey:     k,
		OwnerLabel:    ah.actors.OwnerLabel(ctx, k.Owner),
		LegacyOwnerID: k.Owner.LegacyID(),
		Expired:       k.Expired(now),
	}
}

// HandleListKeys reconciles and lists every key
func (ah *AdminHandler) HandleListKeys(c *gin.Context) {
	ctx := c.Request.Context()
	keys, err := ah.keys.ListAll(ctx, services.OperatorActor())
	if err != nil {
		writeError(c, err)
		return
	}

	now := time.Now()
	out := make([]KeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, ah.keyResponse(ctx, k, now))
	}
	c.JSON(http.StatusOK, gin.H{"keys": out, "total": len(out)})
}

// HandleGetKey returns the display view of one key
func (ah *AdminHandler) HandleGetKey(c *gin.Context) {
	view, err := ah.keys.GetDisplayInfo(c.Request.Context(), c.Param("key_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":             ah.keyResponse(c.Request.Context(), view.Key, time.Now()),
		"usage_bytes":     view.UsageBytes,
		"traffic_cap":     view.TrafficCap,
		"cap_from_server": view.CapRemote,
		"usage":           view.UsageLine(),
	})
}

// HandleDeleteKey removes a key
func (ah *AdminHandler) HandleDeleteKey(c *gin.Context) {
	if err := ah.keys.Delete(c.Request.Context(), services.OperatorActor(), c.Param("key_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type nameRequest struct {
	Name string `json:"name" binding:"required"`
}

// HandleRenameKey renames a key
func (ah *AdminHandler) HandleRenameKey(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	key, err := ah.keys.Rename(c.Request.Context(), services.OperatorActor(), c.Param("key_id"), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ah.keyResponse(c.Request.Context(), *key, time.Now()))
}

type limitRequest struct {
	Gigabytes *float64 `json:"gigabytes" binding:"required"`
}

func capResponse(res *services.CapResult) gin.H {
	body := gin.H{
		"bytes":    res.Bytes,
		"limit":    services.FormatGB(res.Bytes),
		"verified": res.Verified,
	}
	if res.VerifyErr != nil {
		body["warning"] = res.VerifyErr.Error()
	}
	return body
}

// HandleSetLimit sets a traffic cap in decimal gigabytes
func (ah *AdminHandler) HandleSetLimit(c *gin.Context) {
	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := ah.keys.SetTrafficCap(c.Request.Context(), services.OperatorActor(), c.Param("key_id"), *req.Gigabytes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, capResponse(res))
}

// HandleClearLimit removes the traffic cap
func (ah *AdminHandler) HandleClearLimit(c *gin.Context) {
	res, err := ah.keys.ClearTrafficCap(c.Request.Context(), services.OperatorActor(), c.Param("key_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, capResponse(res))
}

type expiryRequest struct {
	Date string `json:"date" binding:"required"`
}

// HandleSetExpiry stores a payment date given as DD.MM.YYYY
func (ah *AdminHandler) HandleSetExpiry(c *gin.Context) {
	var req expiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	at, err := ah.keys.SetExpiry(c.Request.Context(), services.OperatorActor(), c.Param("key_id"), req.Date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expires_at": at})
}

// HandleClearExpiry removes the payment date
func (ah *AdminHandler) HandleClearExpiry(c *gin.Context) {
	if err := ah.keys.ClearExpiry(c.Request.Context(), services.OperatorActor(), c.Param("key_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// HandleListActors lists every known chat actor
func (ah *AdminHandler) HandleListActors(c *gin.Context) {
	actors, err := ah.actors.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actors": actors, "total": len(actors)})
}

type flagRequest struct {
	Value *bool `json:"value" binding:"required"`
}

func (ah *AdminHandler) setFlag(c *gin.Context, set func(ctx context.Context, caller *models.Actor, actorID int64, v bool) error) {
	actorID, err := strconv.ParseInt(c.Param("actor_id"), 10, 64)
	if err != nil || actorID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid actor id"})
		return
	}
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := set(c.Request.Context(), services.OperatorActor(), actorID, *req.Value); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actor_id": actorID, "value": *req.Value})
}

// HandleSetBlocked blocks or unblocks a chat actor
func (ah *AdminHandler) HandleSetBlocked(c *gin.Context) {
	ah.setFlag(c, ah.actors.SetBlocked)
}

// HandleSetElevated grants or revokes the elevated tier
func (ah *AdminHandler) HandleSetElevated(c *gin.Context) {
	ah.setFlag(c, ah.actors.SetElevated)
}

// HandleActivity returns recent activity, optionally for one actor
func (ah *AdminHandler) HandleActivity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	var (
		records []models.ActivityRecord
		err     error
	)
	if raw := c.Query("actor_id"); raw != "" {
		actorID, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid actor id"})
			return
		}
		records, err = ah.activity.ForActor(c.Request.Context(), actorID, limit)
	} else {
		records, err = ah.activity.Recent(c.Request.Context(), limit)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": records, "total": len(records)})
}

// HandleSync runs a reconciliation pass
func (ah *AdminHandler) HandleSync(c *gin.Context) {
	report, err := ah.reconciler.Reconcile(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"remote":     report.Remote,
		"discovered": report.Discovered,
		"drifted":    report.Drifted,
		"duration":   report.Duration.String(),
	})
}

// HandleServerInfo returns the Outline server description
func (ah *AdminHandler) HandleServerInfo(c *gin.Context) {
	info, err := ah.server.ServerInfo(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// HandleRenameServer renames the Outline server
func (ah *AdminHandler) HandleRenameServer(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := ah.server.RenameServer(c.Request.Context(), req.Name); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": req.Name})
}

// HandleClearServerLimit removes the server-wide default data limit
func (ah *AdminHandler) HandleClearServerLimit(c *gin.Context) {
	if err := ah.server.ClearDefaultDataLimit(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
