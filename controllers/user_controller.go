package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nawapolsungjun/borrow-it/app"
	"github.com/nawapolsungjun/borrow-it/logger"
	"github.com/nawapolsungjun/borrow-it/store"
)

type UserController struct{ *Srv }

func NewUserController(s *Srv) *UserController { return &UserController{Srv: s} }

// GET /admin/users?q=alice&page=1&size=20
func (uc *UserController) ListUsers(c *gin.Context) {
	page, size := queryPage(c)
	res, err := uc.Users.List(c.Request.Context(), store.UserQuery{Q: c.Query("q"), Page: page, Size: size})
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /admin/users/:id
func (uc *UserController) GetUser(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	user, err := uc.Users.Get(c.Request.Context(), id)
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"user": user})
}

// DELETE /admin/users/:id
func (uc *UserController) DeleteUser(c *gin.Context) {
	admin, ok := identity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := uc.Users.Delete(c.Request.Context(), admin, id); err != nil {
		app.Fail(c, err)
		return
	}
	// 撤销该用户的所有登录会话
	if err := uc.AppSess.RevokeAllForUser(c.Request.Context(), id); err != nil {
		logger.Log.Errorw("revoke sessions failed", "user_id", id, "err", err)
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// GET /admin/stats
func (uc *UserController) Stats(c *gin.Context) {
	st, err := uc.Items.Stats(c.Request.Context())
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GET /admin/audit-logs?itemId=&limit=
func (uc *UserController) AuditLogs(c *gin.Context) {
	itemID, ok := queryUint(c, "itemId")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := uc.Items.Audits(c.Request.Context(), itemID, limit)
	if err != nil {
		app.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"logs": logs})
}
