// controllers/srv.go
package controllers

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/nawapolsungjun/borrow-it/app"
	"github.com/nawapolsungjun/borrow-it/apperr"
	"github.com/nawapolsungjun/borrow-it/logger"
	"github.com/nawapolsungjun/borrow-it/models"
	"github.com/nawapolsungjun/borrow-it/service"
	"github.com/nawapolsungjun/borrow-it/session"
	"github.com/nawapolsungjun/borrow-it/store"
	"github.com/nawapolsungjun/borrow-it/token"
)

// Srv holds what every handler needs.
type Srv struct {
	WA      *webauthn.WebAuthn
	Store   store.Store
	Sess    *session.Store
	AppSess *session.AppSessionStore
	Tokens  *token.Manager
	Cfg     app.Config

	Auth  *service.AuthService
	Items *service.ItemService
	Loans *service.LoanService
	Users *service.UserAdminService
}

func NewSrv(a *app.App) *Srv {
	return &Srv{
		WA:      a.WA,
		Store:   a.Store,
		Sess:    a.Ceremonies(),
		AppSess: a.AppSessions(),
		Tokens:  a.Tokens,
		Cfg:     a.Config,
		Auth:    service.NewAuthService(a.Store),
		Items:   service.NewItemService(a.Store),
		Loans:   service.NewLoanService(a.Store),
		Users:   service.NewUserAdminService(a.Store),
	}
}

// --- helpers ---

var errBadBody = apperr.Validation("invalid request body")

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		app.Fail(c, errBadBody)
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		app.Fail(c, apperr.Validation("invalid "+name))
		return 0, false
	}
	return uint(n), true
}

// queryUint reads an optional positive integer; absent is 0.
func queryUint(c *gin.Context, name string) (uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		app.Fail(c, apperr.Validation("invalid "+name))
		return 0, false
	}
	return uint(n), true
}

func queryPage(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))
	return page, size
}

func identity(c *gin.Context) (models.Identity, bool) {
	id, ok := app.CurrentIdentity(c)
	if !ok {
		app.Fail(c, apperr.Unauthorized("unauthorized"))
	}
	return id, ok
}

// 统一设置业务会话 Cookie
func (s *Srv) setAuthCookie(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     app.AuthCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.Cfg.SecureCookies(),
		MaxAge:   int(maxAge / time.Second),
	})
}

func (s *Srv) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     app.AuthCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.Cfg.SecureCookies(),
	})
}

type loginResp struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// 登录成功：签发 token + 注册会话 + 写 Cookie
func (s *Srv) issueSession(c *gin.Context, u *models.User) (*loginResp, error) {
	iss, err := s.Tokens.Issue(u)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.AppSess.Create(c.Request.Context(), iss.JTI, u.ID, c.ClientIP(), iss.ExpiresAt); err != nil {
		return nil, apperr.Internal(err)
	}
	s.setAuthCookie(c.Writer, iss.Token, time.Until(iss.ExpiresAt))
	logger.Log.Infow("session issued", "user_id", u.ID, "ip", c.ClientIP())
	return &loginResp{Token: iss.Token, ExpiresAt: iss.ExpiresAt, User: u}, nil
}

// WebAuthn: DB user -> waUser
type waUser struct {
	user  models.User
	creds []webauthn.Credential
}

// userHandle is the 8-byte big-endian user id.
func userHandle(id uint) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func userIDFromHandle(h []byte) (uint, error) {
	if len(h) != 8 {
		return 0, errors.New("bad user handle")
	}
	n := binary.BigEndian.Uint64(h)
	if n == 0 {
		return 0, errors.New("bad user handle")
	}
	return uint(n), nil
}

func (u *waUser) WebAuthnID() []byte                         { return userHandle(u.user.ID) }
func (u *waUser) WebAuthnName() string                       { return u.user.Username }
func (u *waUser) WebAuthnDisplayName() string                { return u.user.Username }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func toWaCred(c models.Credential) webauthn.Credential {
	return webauthn.Credential{
		ID:              c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.AAGUID,
			SignCount:    c.SignCount,
			CloneWarning: c.CloneWarning,
		},
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
	}
}

func (s *Srv) waUserFor(ctx context.Context, u *models.User) (*waUser, error) {
	cs, err := s.Store.LoadUserCredentials(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	ws := make([]webauthn.Credential, 0, len(cs))
	for _, c := range cs {
		ws = append(ws, toWaCred(c))
	}
	return &waUser{user: *u, creds: ws}, nil
}

func (s *Srv) loadWAUserByID(ctx context.Context, id uint) (*waUser, error) {
	u, err := s.Store.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.waUserFor(ctx, u)
}

func (s *Srv) loadWAUserByUsername(ctx context.Context, username string) (*waUser, error) {
	u, err := s.Store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.waUserFor(ctx, u)
}
