package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nawapolsungjun/borrow-it/app"
)

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// POST /auth/register
func (s *Srv) Register(c *gin.Context) {
	var in credentialsReq
	if !bindJSON(c, &in) {
		return
	}
	u, err := s.Auth.Register(c.Request.Context(), in.Username, in.Password)
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, app.H{"user": u})
}

// POST /auth/login
func (s *Srv) Login(c *gin.Context) {
	var in credentialsReq
	if !bindJSON(c, &in) {
		return
	}
	u, err := s.Auth.Login(c.Request.Context(), in.Username, in.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		app.Fail(c, err)
		return
	}
	resp, err := s.issueSession(c, u)
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// POST /auth/logout 删 Redis 会话，Cookie 置空
func (s *Srv) Logout(c *gin.Context) {
	if sid := app.SessionID(c); sid != "" {
		if err := s.AppSess.Delete(c.Request.Context(), sid); err != nil {
			app.Fail(c, err)
			return
		}
	}
	s.clearAuthCookie(c.Writer)
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// GET /auth/me
func (s *Srv) Me(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	u, err := s.Store.FindUserByID(c.Request.Context(), id.UserID)
	if err != nil {
		app.Fail(c, err)
		return
	}
	creds, err := s.Store.LoadUserCredentials(c.Request.Context(), id.UserID)
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"user": u, "passkeys": len(creds)})
}
