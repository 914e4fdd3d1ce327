package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nawapolsungjun/borrow-it/app"
	"github.com/nawapolsungjun/borrow-it/controllers"
	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/store"
)

func init() { gin.SetMode(gin.TestMode) }

type server struct {
	t     *testing.T
	a     *app.App
	srv   *controllers.Srv
	store *store.MemoryStore
}

func newServer(t *testing.T, loginLimit int) *server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := store.NewMemoryStore()
	a, err := app.New(app.Config{
		WebOrigin:       "http://localhost:3000",
		RPID:            "localhost",
		RPOrigins:       []string{"http://localhost:3000"},
		JWTSecret:       "0123456789abcdef0123",
		TokenTTL:        time.Hour,
		WebAuthnTTL:     time.Minute,
		LoginRateLimit:  loginLimit,
		LoginRateWindow: time.Minute,
	}, st, rdb)
	require.NoError(t, err)
	s := RegisterRoutes(a.Router, a)
	s.Auth.WithCost(4)
	return &server{t: t, a: a, srv: s, store: st}
}

func (s *server) do(method, path, tok string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.a.Router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

// user registers (or bootstraps an admin) and logs in, returning the token.
func (s *server) user(name string, role models.Role) string {
	s.t.Helper()
	ctx := context.Background()
	if role == models.RoleAdmin {
		_, _, err := s.srv.Auth.BootstrapAdmin(ctx, name, "secret1")
		require.NoError(s.t, err)
	} else {
		w := s.do(http.MethodPost, "/auth/register", "", map[string]string{"username": name, "password": "secret1"})
		require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": name, "password": "secret1"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	return decode[map[string]any](s.t, w)["token"].(string)
}

func (s *server) createItem(admin, serial string) models.Item {
	s.t.Helper()
	w := s.do(http.MethodPost, "/items", admin, map[string]string{"name": "Item " + serial, "serialNumber": serial})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Item](s.t, w)
}

func (s *server) itemStatus(admin string, id uint) models.ItemStatus {
	s.t.Helper()
	w := s.do(http.MethodGet, itemPath(id), admin, nil)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	return decode[models.Item](s.t, w).Status
}

func itemPath(id uint) string { return "/items/" + itoa(id) }

func itoa(id uint) string { return strconv.FormatUint(uint64(id), 10) }

type meResp struct {
	User     models.User `json:"user"`
	Passkeys int         `json:"passkeys"`
}

func TestHealthz(t *testing.T) {
	s := newServer(t, 100)
	w := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBorrowScenario(t *testing.T) {
	s := newServer(t, 100)
	admin := s.user("root", models.RoleAdmin)
	a := s.user("alice", models.RoleUser)
	b := s.user("bob", models.RoleUser)
	it := s.createItem(admin, "SN-1")
	assert.Equal(t, models.ItemAvailable, it.Status)

	w := s.do(http.MethodPost, "/borrow", a, map[string]uint{"itemId": it.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode[map[string]any](t, w)
	assert.EqualValues(t, it.ID, rec["itemId"])
	assert.Nil(t, rec["returnedAt"])
	assert.Equal(t, models.ItemBorrowed, s.itemStatus(admin, it.ID))

	w = s.do(http.MethodPost, "/borrow", b, map[string]uint{"itemId": it.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "item not available", errorOf(t, w))

	page := decode[store.RecordPage](t, s.do(http.MethodGet, "/borrow-records?status=open&itemId="+itoa(it.ID), admin, nil))
	assert.EqualValues(t, 1, page.Total)
}

func TestAdminDeleteItemWithOpenRecord(t *testing.T) {
	s := newServer(t, 100)
	admin := s.user("root", models.RoleAdmin)
	a := s.user("alice", models.RoleUser)
	it := s.createItem(admin, "SN-1")

	w := s.do(http.MethodPost, "/borrow", a, map[string]uint{"itemId": it.ID})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodDelete, itemPath(it.ID), admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.ItemBorrowed, s.itemStatus(admin, it.ID))

	spare := s.createItem(admin, "SN-2")
	w = s.do(http.MethodDelete, itemPath(spare.ID), admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodGet, itemPath(spare.ID), admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReturnFlow(t *testing.T) {
	s := newServer(t, 100)
	admin := s.user("root", models.RoleAdmin)
	a := s.user("alice", models.RoleUser)
	b := s.user("bob", models.RoleUser)
	it := s.createItem(admin, "SN-1")

	w := s.do(http.MethodPost, "/borrow", a, map[string]uint{"itemId": it.ID})
	require.Equal(t, http.StatusOK, w.Code)
	recID := uint(decode[map[string]any](t, w)["id"].(float64))

	w = s.do(http.MethodPost, "/return", b, map[string]uint{"borrowRecordId": recID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/return", a, map[string]uint{"borrowRecordId": recID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, decode[map[string]any](t, w)["returnedAt"])
	assert.Equal(t, models.ItemAvailable, s.itemStatus(admin, it.ID))

	w = s.do(http.MethodPost, "/return", a, map[string]uint{"borrowRecordId": recID})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/return", a, map[string]uint{"borrowRecordId": 999})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// by item id; an admin may close someone else's loan
	w = s.do(http.MethodPost, "/borrow", b, map[string]uint{"itemId": it.ID})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, "/return", admin, map[string]uint{"itemId": it.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.ItemAvailable, s.itemStatus(admin, it.ID))

	w = s.do(http.MethodGet, "/admin/audit-logs?itemId="+itoa(it.ID), admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[map[string][]models.AuditLog](t, w)["logs"]
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditAdminReturn, logs[0].Action)

	page := decode[store.RecordPage](t, s.do(http.MethodGet, "/borrow-records?itemId="+itoa(it.ID), admin, nil))
	assert.EqualValues(t, 2, page.Total)
}

func TestRequestValidation(t *testing.T) {
	s := newServer(t, 100)
	admin := s.user("root", models.RoleAdmin)
	a := s.user("alice", models.RoleUser)

	cases := []struct {
		name, method, path, tok string
		body                    any
		code                    int
	}{
		{"borrow without item", http.MethodPost, "/borrow", a, map[string]any{}, http.StatusBadRequest},
		{"borrow bad json", http.MethodPost, "/borrow", a, "{nope", http.StatusBadRequest},
		{"borrow unknown item", http.MethodPost, "/borrow", a, map[string]uint{"itemId": 42}, http.StatusNotFound},
		{"return without ids", http.MethodPost, "/return", a, map[string]any{}, http.StatusBadRequest},
		{"return both ids", http.MethodPost, "/return", a, map[string]uint{"itemId": 1, "borrowRecordId": 1}, http.StatusBadRequest},
		{"item bad id", http.MethodGet, "/items/abc", a, nil, http.StatusBadRequest},
		{"item missing", http.MethodGet, "/items/42", a, nil, http.StatusNotFound},
		{"create without serial", http.MethodPost, "/items", admin, map[string]string{"name": "Drill"}, http.StatusBadRequest},
		{"records bad status", http.MethodGet, "/borrow-records?status=lost", a, nil, http.StatusBadRequest},
		{"records bad user", http.MethodGet, "/borrow-records?userId=x", admin, nil, http.StatusBadRequest},
		{"list bad status", http.MethodGet, "/items?status=lost", a, nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(tc.method, tc.path, tc.tok, tc.body)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
			assert.NotEmpty(t, errorOf(t, w))
		})
	}
}

func TestAccessControl(t *testing.T) {
	s := newServer(t, 100)
	admin := s.user("root", models.RoleAdmin)
	a := s.user("alice", models.RoleUser)
	it := s.createItem(admin, "SN-1")

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/items", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/borrow", "bogus", map[string]uint{"itemId": it.ID}).Code)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/items", a, map[string]string{"name": "x", "serialNumber": "y"}).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodDelete, itemPath(it.ID), a, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/admin/stats", a, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/admin/lend", a, map[string]any{"itemId": it.ID, "username": "alice"}).Code)

	// admins lend, they do not borrow
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/borrow", admin, map[string]uint{"itemId": it.ID}).Code)
	w := s.do(http.MethodPost, "/admin/lend", admin, map[string]any{"itemId": it.ID, "username": "alice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// users only see their own records
	w = s.do(http.MethodGet, "/borrow-records", a, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[store.RecordPage](t, w).Total)

	st := decode[store.Stats](t, s.do(http.MethodGet, "/admin/stats", admin, nil))
	assert.EqualValues(t, 1, st.BorrowedItems)
	assert.EqualValues(t, 1, st.OpenRecords)
	assert.EqualValues(t, 2, st.TotalUsers)
}

func TestUpdateItem(t *testing.T) {
	s := newServer(t, 100)
	admin := s.user("root", models.RoleAdmin)
	it := s.createItem(admin, "SN-1")

	w := s.do(http.MethodPut, itemPath(it.ID), admin, map[string]string{"status": "MAINTENANCE", "name": "Drill"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[models.Item](t, w)
	assert.Equal(t, models.ItemMaintenance, got.Status)
	assert.Equal(t, "Drill", got.Name)
	assert.Equal(t, "SN-1", got.SerialNumber)

	w = s.do(http.MethodPut, itemPath(it.ID), admin, map[string]string{"status": "BORROWED"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSessionLifecycle(t *testing.T) {
	s := newServer(t, 100)
	admin := s.user("root", models.RoleAdmin)

	w := s.do(http.MethodPost, "/auth/register", "", map[string]string{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(http.MethodPost, "/auth/register", "", map[string]string{"username": "alice", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = s.do(http.MethodPost, "/auth/register", "", map[string]string{"username": "al", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wrong-one"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid username or password", errorOf(t, w))

	w = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	var cookie *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == app.AuthCookie {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	tok := decode[map[string]any](t, w)["token"].(string)
	assert.Equal(t, tok, cookie.Value)

	w = s.do(http.MethodGet, "/auth/me", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[meResp](t, w)
	assert.Equal(t, "alice", me.User.Username)
	assert.Equal(t, models.RoleUser, me.User.Role)
	assert.Zero(t, me.Passkeys)
	assert.NotContains(t, w.Body.String(), "passwordHash")

	w = s.do(http.MethodPost, "/auth/logout", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/auth/me", tok, nil).Code)

	// deleting a user revokes every token they hold
	tok = s.user2("alice")
	id := decode[meResp](t, s.do(http.MethodGet, "/auth/me", tok, nil)).User.ID
	w = s.do(http.MethodDelete, "/admin/users/"+itoa(id), admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/auth/me", tok, nil).Code)
}

// user2 logs an existing account in.
func (s *server) user2(name string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": name, "password": "secret1"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	return decode[map[string]any](s.t, w)["token"].(string)
}

func TestAdminUsers(t *testing.T) {
	s := newServer(t, 100)
	admin := s.user("root", models.RoleAdmin)
	s.user("alice", models.RoleUser)

	w := s.do(http.MethodGet, "/admin/users?q=ali", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[store.UserPage](t, w)
	require.EqualValues(t, 1, page.Total)

	self := decode[meResp](t, s.do(http.MethodGet, "/auth/me", admin, nil)).User
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodDelete, "/admin/users/"+itoa(self.ID), admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/admin/users/999", admin, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/admin/users/"+itoa(page.Users[0].ID), admin, nil).Code)
}

func TestLoginRateLimited(t *testing.T) {
	s := newServer(t, 2)
	body := map[string]string{"username": "nobody", "password": "secret1"}
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/auth/login", "", body).Code)
	}
	w := s.do(http.MethodPost, "/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestPasskeyLoginBegin(t *testing.T) {
	s := newServer(t, 100)
	s.user("alice", models.RoleUser)

	w := s.do(http.MethodPost, "/auth/passkeys/login/begin", "", map[string]string{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sid := decode[map[string]any](t, w)["sessionId"].(string)
	assert.NotEmpty(t, sid)

	// alice has no passkey yet
	w = s.do(http.MethodPost, "/auth/passkeys/login/begin", "", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(http.MethodPost, "/auth/passkeys/login/begin", "", map[string]string{"username": "ghost"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/auth/passkeys/login/finish", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPost, "/auth/passkeys/login/finish?sessionId=unknown", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPasskeyRegisterBegin(t *testing.T) {
	s := newServer(t, 100)
	a := s.user("alice", models.RoleUser)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/auth/passkeys/register/begin", "", nil).Code)

	w := s.do(http.MethodPost, "/auth/passkeys/register/begin", a, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"challenge"`)

	// finishing without a valid attestation is rejected and the state is consumed
	w = s.do(http.MethodPost, "/auth/passkeys/register/finish", a, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPost, "/auth/passkeys/register/finish", a, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "session expired or invalid", errorOf(t, w))
}
