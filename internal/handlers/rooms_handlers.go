package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FamiliaDusu/Ogaac-test/internal/apperr"
	"github.com/FamiliaDusu/Ogaac-test/internal/rooms"
	"github.com/FamiliaDusu/Ogaac-test/internal/scope"
)

// ListRooms returns the sanitized room list, filtered to the session's
// scope.
func (h *Handlers) ListRooms(c *gin.Context) {
	snap, err := h.rooms.Snapshot()
	if err != nil {
		h.fail(c, err)
		return
	}

	s := currentSession(c)
	visible := scope.Filter(snap.PublicList, s.Scope, func(e rooms.RoomEntry) (string, string) {
		return e.Sede, e.Sala
	})

	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"rooms":  visible,
		"counts": snap.Counts,
	})
}

// ListRoomsFull returns the unsanitized tree with warnings. Only admins
// or a loopback peer (local diagnostics) may read it.
func (h *Handlers) ListRoomsFull(c *gin.Context) {
	s := currentSession(c)
	if !s.isAdmin() && !isLoopbackPeer(c) {
		h.fail(c, apperr.New(apperr.AdminOnly, "admin role required"))
		return
	}

	snap, err := h.rooms.Snapshot()
	if err != nil {
		h.fail(c, err)
		return
	}

	setAudit(c, "rooms_full", nil)
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"rooms":    snap.FullList,
		"warnings": snap.Warnings,
		"counts":   snap.Counts,
	})
}
