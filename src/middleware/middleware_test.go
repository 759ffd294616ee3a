package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-for-unit-tests-32ch!"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTokens(t *testing.T) *TokenManager {
	t.Helper()
	tm, err := NewTokenManager(testSecret, time.Hour)
	require.NoError(t, err)
	return tm
}

func protectedRouter(tm *TokenManager) *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware(), OperatorAuth(tm))
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"username": GetOperator(c).Username})
	})
	return r
}

func TestNewTokenManager_ShortSecret(t *testing.T) {
	_, err := NewTokenManager("short", time.Hour)
	assert.Error(t, err)
}

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := newTokens(t)
	op := &models.Operator{ID: uuid.New(), Username: "root"}

	token, expiresAt, err := tm.Issue(op)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := tm.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, op.ID.String(), claims.OperatorID)
	assert.Equal(t, "root", claims.Username)
}

func TestTokenManager_Rejects(t *testing.T) {
	tm := newTokens(t)
	op := &models.Operator{ID: uuid.New(), Username: "root"}

	t.Run("expired", func(t *testing.T) {
		token, _, err := tm.Issue(op)
		require.NoError(t, err)

		later := *tm
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err = later.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("foreign secret", func(t *testing.T) {
		other, err := NewTokenManager(strings.Repeat("x", 40), time.Hour)
		require.NoError(t, err)
		token, _, err := other.Issue(op)
		require.NoError(t, err)

		_, err = tm.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tm.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestOperatorAuth(t *testing.T) {
	tm := newTokens(t)
	token, _, err := tm.Issue(&models.Operator{ID: uuid.New(), Username: "root"})
	require.NoError(t, err)
	r := protectedRouter(tm)

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid bearer", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer invalid_token")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid bearer", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"root"`)
	})

	t.Run("valid cookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.AddCookie(&http.Cookie{Name: OperatorCookie, Value: token})
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	t.Run("generates id", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Len(t, w.Header().Get("X-Request-ID"), 8)
		assert.Equal(t, w.Header().Get("X-Request-ID"), w.Body.String())
	})

	t.Run("reuses inbound id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		r.ServeHTTP(w, req)
		assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	})

	t.Run("replaces oversized id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Request-ID", strings.Repeat("a", 100))
		r.ServeHTTP(w, req)
		assert.Len(t, w.Header().Get("X-Request-ID"), 8)
	})
}

func TestKeyedLimiter(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l := NewKeyedLimiter(60, 2)
	defer l.Stop()
	l.now = func() time.Time { return now }

	assert.True(t, l.AllowActor(1))
	assert.True(t, l.AllowActor(1))
	assert.False(t, l.AllowActor(1), "burst exhausted")
	assert.True(t, l.AllowActor(2), "other actors have their own bucket")

	now = now.Add(time.Second)
	assert.True(t, l.AllowActor(1), "one token per second refills")

	now = now.Add(11 * time.Minute)
	l.Cleanup()
	assert.Equal(t, 0, l.Len())
}

func TestKeyedLimiter_Unlimited(t *testing.T) {
	l := NewKeyedLimiter(0, 0)
	defer l.Stop()
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("k"))
	}
}

func TestLoginRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(NewIPRateLimitingMiddleware(RateLimitConfig{RequestsPerMinute: 1, Burst: 1}))
	r.POST("/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
