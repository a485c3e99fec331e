// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/rateguard/rateguard/internal/config"
	"github.com/rateguard/rateguard/internal/handler"
	"github.com/rateguard/rateguard/internal/middleware"
	"github.com/rateguard/rateguard/internal/token"
)

// Register mounts every route. The credential endpoints (login,
// forgot-password) sit behind the redis token bucket; everything under an
// authenticated group requires a valid access token.
func Register(e *echo.Echo, codec *token.Codec, rlCfg config.RateLimitConfig, rdb *redis.Client,
	health *handler.HealthHandler, auth *handler.AuthHandler, ws *handler.WorkspaceHandler) {

	e.GET("/healthz", health.Health)

	limited := middleware.NewTokenBucket(rlCfg, rdb)
	authed := middleware.JWTAuth(codec)

	a := e.Group("/auth")
	a.POST("/register", auth.Register)
	a.POST("/login", auth.Login, limited)
	a.POST("/refresh", auth.Refresh)
	a.GET("/verify-email", auth.VerifyEmail)
	a.POST("/forgot-password", auth.ForgotPassword, limited)
	a.POST("/reset-password", auth.ResetPassword)

	a.POST("/resend-verification", auth.ResendVerification, authed)
	a.POST("/logout", auth.Logout, authed)
	a.POST("/logout-all", auth.LogoutAll, authed)
	a.POST("/change-password", auth.ChangePassword, authed)
	a.GET("/me", auth.Me, authed)

	w := e.Group("/workspaces", authed)
	w.POST("", ws.Create)
	w.GET("", ws.List)
	w.GET("/slug/:slug", ws.GetBySlug)
	w.GET("/:id", ws.Get)
	w.PUT("/:id", ws.Update)
	w.DELETE("/:id", ws.Delete)

	w.GET("/:id/members", ws.ListMembers)
	w.PUT("/:id/members/:memberId", ws.UpdateMemberRole)
	w.DELETE("/:id/members/:memberId", ws.RemoveMember)
	w.POST("/:id/members/leave", ws.Leave)
	w.POST("/:id/transfer", ws.TransferOwnership)

	w.POST("/:id/invitations", ws.Invite)
	w.GET("/:id/invitations", ws.ListInvitations)
	w.DELETE("/:id/invitations/:invitationId", ws.CancelInvitation)

	inv := e.Group("/invitations", authed)
	inv.POST("/accept", ws.AcceptInvitation)
	inv.POST("/decline", ws.DeclineInvitation)
}
