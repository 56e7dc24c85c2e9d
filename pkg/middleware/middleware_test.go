package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret"

func signToken(t *testing.T, userID, role string, expiresIn time.Duration) string {
	t.Helper()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "eticket",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	cfg := &AuthConfig{Secret: testSecret, Issuer: "eticket"}

	router := gin.New()
	router.GET("/me", Auth(cfg), func(c *gin.Context) {
		id, _ := GetUserID(c)
		role, _ := GetRole(c)
		c.String(http.StatusOK, id+":"+role)
	})
	router.GET("/admin", Auth(cfg), RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"missing token", "/me", "", http.StatusUnauthorized, ""},
		{"malformed header", "/me", "Token abc", http.StatusUnauthorized, ""},
		{"garbage token", "/me", "Bearer abc", http.StatusUnauthorized, ""},
		{"expired token", "/me", "Bearer " + signToken(t, "u1", "customer", -time.Minute), http.StatusUnauthorized, ""},
		{"valid token", "/me", "Bearer " + signToken(t, "u1", "customer", time.Hour), http.StatusOK, "u1:customer"},
		{"role denied", "/admin", "Bearer " + signToken(t, "u1", "customer", time.Hour), http.StatusForbidden, ""},
		{"role allowed", "/admin", "Bearer " + signToken(t, "a1", "admin", time.Hour), http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestParseToken_WrongIssuer(t *testing.T) {
	token := signToken(t, "u1", "customer", time.Hour)
	_, err := ParseToken(token, &AuthConfig{Secret: testSecret, Issuer: "someone-else"})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// fakeRedis is an in-memory RedisClient
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	store := newFakeRedis()
	calls := 0

	router := gin.New()
	router.POST("/purchases", Idempotency(DefaultIdempotencyConfig(store)), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusAccepted, gin.H{"call": calls})
	})

	send := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/purchases", strings.NewReader(body))
		req.Header.Set(IdempotencyKeyHeader, key)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	first := send("k1", `{"quantity":1}`)
	second := send("k1", `{"quantity":1}`)

	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, calls)

	reused := send("k1", `{"quantity":2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, reused.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotency_ServerErrorsAreNotStored(t *testing.T) {
	store := newFakeRedis()
	calls := 0

	router := gin.New()
	router.POST("/purchases", Idempotency(DefaultIdempotencyConfig(store)), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusInternalServerError, gin.H{"call": calls})
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/purchases", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyKeyHeader, "k2")
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotency_RequiredKey(t *testing.T) {
	cfg := DefaultIdempotencyConfig(newFakeRedis())
	cfg.Required = true

	router := gin.New()
	router.POST("/purchases", Idempotency(cfg), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/purchases", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIdempotency_InFlightConflict(t *testing.T) {
	store := newFakeRedis()
	router := gin.New()
	router.POST("/purchases", Idempotency(DefaultIdempotencyConfig(store)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// compute the hash the middleware will produce for this request
	hasher := gin.New()
	var hash string
	hasher.POST("/purchases", func(c *gin.Context) { hash = requestHash(c, []byte(`{}`)) })
	hasher.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/purchases", nil))

	require.True(t, trySetRecord(context.Background(), store, IdempotencyKeyPrefix+"k3",
		&IdempotencyRecord{Key: "k3", Status: StatusProcessing, RequestHash: hash}, time.Minute))

	req := httptest.NewRequest(http.MethodPost, "/purchases", strings.NewReader(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "k3")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}
