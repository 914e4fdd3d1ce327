package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/session"
	"github.com/nawapolsungjun/borrow-it/store"
	"github.com/nawapolsungjun/borrow-it/token"
)

func init() { gin.SetMode(gin.TestMode) }

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "RP_ORIGINS", "TOKEN_TTL_SECONDS", "WEBAUTHN_TTL_SECONDS",
		"LOGIN_RATE_LIMIT", "LOGIN_RATE_WINDOW_SECONDS", "DB_SSLMODE", "ADMIN_USERNAME", "ADMIN_PASSWORD"} {
		t.Setenv(k, "")
	}
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("WEB_ORIGIN", "https://tools.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.WebAuthnTTL)
	assert.Equal(t, 10, cfg.LoginRateLimit)
	assert.Equal(t, time.Minute, cfg.LoginRateWindow)
	assert.Equal(t, []string{"https://tools.example.com"}, cfg.RPOrigins)
	assert.True(t, cfg.SecureCookies())
	assert.Contains(t, cfg.DSN(), "sslmode=disable")
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("TOKEN_TTL_SECONDS", "soon")
	t.Setenv("ADMIN_USERNAME", "root")
	t.Setenv("ADMIN_PASSWORD", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "TOKEN_TTL_SECONDS")
	assert.Contains(t, err.Error(), "ADMIN_PASSWORD")
}

func testConfig() Config {
	return Config{
		WebOrigin:       "http://localhost:3000",
		RPID:            "localhost",
		RPOrigins:       []string{"http://localhost:3000"},
		JWTSecret:       "0123456789abcdef0123",
		TokenTTL:        time.Hour,
		WebAuthnTTL:     time.Minute,
		LoginRateLimit:  2,
		LoginRateWindow: time.Minute,
	}
}

func TestNewWiresRouter(t *testing.T) {
	_, rdb := newRedis(t)
	a, err := New(testConfig(), store.NewMemoryStore(), rdb)
	require.NoError(t, err)
	a.Router.GET("/ping", func(c *Ctx) { c.JSON(http.StatusOK, H{"ok": true}) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	cfg := testConfig()
	cfg.JWTSecret = ""
	_, err = New(cfg, store.NewMemoryStore(), rdb)
	assert.Error(t, err)
}

type fakeUsers map[uint]models.Identity

func (f fakeUsers) Identify(_ context.Context, id uint) (models.Identity, error) {
	if who, ok := f[id]; ok {
		return who, nil
	}
	return models.Identity{}, apperr.Unauthorized("unauthorized")
}

func TestAuthRequired(t *testing.T) {
	_, rdb := newRedis(t)
	tokens, err := token.NewManager("0123456789abcdef0123", time.Hour)
	require.NoError(t, err)
	sessions := session.NewAppSessionStore(rdb, time.Hour)
	users := fakeUsers{
		1: {UserID: 1, Username: "alice", Role: models.RoleUser},
		2: {UserID: 2, Username: "root", Role: models.RoleAdmin},
	}

	r := gin.New()
	authed := r.Group("", AuthRequired(tokens, sessions, users))
	authed.GET("/me", func(c *Ctx) {
		id, _ := CurrentIdentity(c)
		c.JSON(http.StatusOK, H{"username": id.Username, "sid": SessionID(c)})
	})
	authed.GET("/admin", AdminOnly(), func(c *Ctx) { c.Status(http.StatusNoContent) })

	login := func(u *models.User) string {
		iss, err := tokens.Issue(u)
		require.NoError(t, err)
		require.NoError(t, sessions.Create(context.Background(), iss.JTI, u.ID, "", iss.ExpiresAt))
		return iss.Token
	}
	alice := login(&models.User{ID: 1, Username: "alice", Role: models.RoleUser})
	root := login(&models.User{ID: 2, Username: "root", Role: models.RoleAdmin})
	ghost := login(&models.User{ID: 3, Username: "ghost", Role: models.RoleUser})

	do := func(path string, mutate func(*http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if mutate != nil {
			mutate(req)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	bearer := func(tok string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
	}

	assert.Equal(t, http.StatusUnauthorized, do("/me", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do("/me", bearer("garbage")).Code)

	w := do("/me", bearer(alice))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"alice"`)

	w = do("/me", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: AuthCookie, Value: alice}) })
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusForbidden, do("/admin", bearer(alice)).Code)
	assert.Equal(t, http.StatusNoContent, do("/admin", bearer(root)).Code)

	// a deleted user is rejected and the session dropped
	assert.Equal(t, http.StatusUnauthorized, do("/me", bearer(ghost)).Code)

	// logout revokes a still-valid token
	claims, err := tokens.Parse(alice)
	require.NoError(t, err)
	require.NoError(t, sessions.Delete(context.Background(), claims.ID))
	w = do("/me", bearer(alice))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"session expired"}`, w.Body.String())
}

func TestTouchLastSeenThrottles(t *testing.T) {
	_, rdb := newRedis(t)
	st := store.NewMemoryStore()
	u := &models.User{Username: "alice", PasswordHash: "x"}
	require.NoError(t, st.CreateUser(context.Background(), u))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(identityKey, models.Identity{UserID: u.ID, Username: u.Username, Role: models.RoleUser})
	}, TouchLastSeen(st, rdb, time.Minute))
	r.GET("/", func(c *Ctx) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	first, err := st.FindUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.NotNil(t, first.LastSeenAt)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	second, err := st.FindUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.LastSeenAt, *second.LastSeenAt)
}

func TestFailHidesInternalErrors(t *testing.T) {
	r := gin.New()
	r.GET("/boom", func(c *Ctx) { Fail(c, apperr.Internal(assert.AnError)) })
	r.GET("/gone", func(c *Ctx) { Fail(c, apperr.NotFound("item not found")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gone", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"item not found"}`, w.Body.String())
}
