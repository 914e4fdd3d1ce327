package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nawapolsungjun/borrow-it/app"
	"github.com/nawapolsungjun/borrow-it/controllers"
)

const lastSeenThrottle = 5 * time.Minute

func RegisterRoutes(r *gin.Engine, a *app.App) *controllers.Srv {
	// 控制器与依赖
	s := controllers.NewSrv(a)
	itemCtl := controllers.NewItemController(s)
	userCtl := controllers.NewUserController(s)

	// 复用的中间件
	authMW := app.AuthRequired(s.Tokens, s.AppSess, s.Auth)
	adminMW := app.AdminOnly()
	seenMW := app.TouchLastSeen(a.Store, a.RDB, lastSeenThrottle)
	loginLimit := app.RateLimit(a.LoginLimiter())

	r.GET("/healthz", func(c *app.Ctx) { c.JSON(http.StatusOK, app.H{"ok": true}) })

	// ------------------------------
	// 账号（公开+受保护）
	// ------------------------------
	auth := r.Group("/auth")
	{
		auth.POST("/register", s.Register)
		auth.POST("/login", loginLimit, s.Login)

		auth.POST("/passkeys/login/begin", loginLimit, s.BeginLogin)
		auth.POST("/passkeys/login/finish", s.FinishLogin)
	}
	authed := auth.Group("", authMW, seenMW)
	{
		authed.POST("/logout", s.Logout)
		authed.GET("/me", s.Me)

		// 已登录用户添加新凭据（绑定手机等）
		authed.POST("/passkeys/register/begin", s.BeginAddCredential)
		authed.POST("/passkeys/register/finish", s.FinishAddCredential)
	}

	// ------------------------------
	// 物品：登录可看，管理员可改
	// ------------------------------
	items := r.Group("/items", authMW, seenMW)
	{
		items.GET("", itemCtl.ListItems) // ?status=&q=&page=&size=
		items.GET("/:id", itemCtl.GetItem)
		items.POST("", adminMW, itemCtl.CreateItem)
		items.PUT("/:id", adminMW, itemCtl.UpdateItem)
		items.DELETE("/:id", adminMW, itemCtl.DeleteItem)
	}

	// ------------------------------
	// 借还
	// ------------------------------
	loans := r.Group("", authMW, seenMW)
	{
		loans.POST("/borrow", itemCtl.Borrow)
		loans.POST("/return", itemCtl.Return)
		loans.GET("/borrow-records", itemCtl.ListRecords) // ?status=open|returned&userId=&itemId=
	}

	// ------------------------------
	// 管理（仅管理员）
	// ------------------------------
	admin := r.Group("/admin", authMW, adminMW, seenMW)
	{
		admin.POST("/lend", itemCtl.Lend)
		admin.GET("/stats", userCtl.Stats)
		admin.GET("/audit-logs", userCtl.AuditLogs)

		admin.GET("/users", userCtl.ListUsers) // ?q=&page=&size=
		admin.GET("/users/:id", userCtl.GetUser)
		admin.DELETE("/users/:id", userCtl.DeleteUser)
	}
	return s
}
