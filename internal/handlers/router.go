package handlers

import "github.com/gin-gonic/gin"

// Register wires the API routes onto the engine.
func (h *Handlers) Register(r *gin.Engine) {
	root := r.Group("/api")
	root.Use(h.AuditTrail())

	root.POST("/login", h.Login)
	root.POST("/logout", h.Logout)

	authed := root.Group("")
	authed.Use(h.Authenticate())

	authed.GET("/session", h.Session)
	authed.GET("/me", h.Me)
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/full", h.ListRoomsFull)
	authed.GET("/rooms/:sede/:sala/*action", h.DeviceRoute)
	authed.POST("/rooms/:sede/:sala/*action", h.DeviceRoute)

	admin := authed.Group("/admin")
	admin.Use(h.RequireAdmin())
	admin.GET("/users", h.AdminListUsers)
	admin.POST("/users", h.AdminCreateUser)
	admin.PUT("/users/:username", h.AdminUpdateUser)
	admin.PATCH("/users/:username", h.AdminUpdateUser)
	admin.DELETE("/users/:username", h.AdminDeleteUser)
	admin.GET("/audit", h.AdminQueryAudit)
	admin.POST("/rooms/reload", h.AdminReloadRooms)
}
