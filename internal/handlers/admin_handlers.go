package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FamiliaDusu/Ogaac-test/internal/apperr"
	"github.com/FamiliaDusu/Ogaac-test/internal/audit"
	"github.com/FamiliaDusu/Ogaac-test/internal/scope"
	"github.com/FamiliaDusu/Ogaac-test/internal/users"
)

// AdminListUsers lists all accounts, password hashes stripped. The env
// bootstrap account shows up read-only when configured.
func (h *Handlers) AdminListUsers(c *gin.Context) {
	list, err := h.users.List()
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]users.User, 0, len(list)+1)
	for _, u := range list {
		out = append(out, u.Redacted())
	}
	if h.bootstrap.Username != "" && !containsUser(out, h.bootstrap.Username) {
		out = append(out, users.User{
			Username: h.bootstrap.Username,
			Role:     h.bootstrap.Role,
			Enabled:  true,
			Source:   users.SourceEnv,
		})
	}
	setAudit(c, "users_list", nil)
	c.JSON(http.StatusOK, gin.H{"ok": true, "users": out})
}

func containsUser(list []users.User, username string) bool {
	for _, u := range list {
		if u.Username == username {
			return true
		}
	}
	return false
}

type createUserRequest struct {
	Username string       `json:"username"`
	Password string       `json:"password"`
	Role     string       `json:"role"`
	Note     string       `json:"note"`
	Scope    *scope.Scope `json:"scope"`
}

// AdminCreateUser creates a local account.
func (h *Handlers) AdminCreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		setAudit(c, "user_create_failed", nil)
		h.fail(c, apperr.New(apperr.Validation, "invalid request body"))
		return
	}

	u, err := h.users.Create(users.CreateParams{
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
		Note:     req.Note,
		Scope:    req.Scope,
	})
	if err != nil {
		setAudit(c, "user_create_failed", map[string]interface{}{
			"target": req.Username, "reason": string(apperr.KindOf(err)),
		})
		h.fail(c, err)
		return
	}

	setAudit(c, "user_create", map[string]interface{}{"target": u.Username, "role": u.Role})
	c.JSON(http.StatusCreated, gin.H{"ok": true, "user": u})
}

type updateUserRequest struct {
	Password *string      `json:"password"`
	Role     *string      `json:"role"`
	Enabled  *bool        `json:"enabled"`
	Note     *string      `json:"note"`
	Scope    *scope.Scope `json:"scope"`
	// ClearScope removes any room restriction; a null scope field alone
	// means "leave unchanged".
	ClearScope bool `json:"clearScope"`
}

// AdminUpdateUser applies a partial update to a local account.
func (h *Handlers) AdminUpdateUser(c *gin.Context) {
	username := c.Param("username")
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		setAudit(c, "user_update_failed", map[string]interface{}{"target": username})
		h.fail(c, apperr.New(apperr.Validation, "invalid request body"))
		return
	}

	u, err := h.users.Update(username, users.UpdateParams{
		Password: req.Password,
		Role:     req.Role,
		Enabled:  req.Enabled,
		Note:     req.Note,
		Scope:    req.Scope,
		SetScope: req.Scope != nil || req.ClearScope,
	})
	if err != nil {
		setAudit(c, "user_update_failed", map[string]interface{}{
			"target": username, "reason": string(apperr.KindOf(err)),
		})
		h.fail(c, err)
		return
	}

	setAudit(c, "user_update", map[string]interface{}{"target": username})
	c.JSON(http.StatusOK, gin.H{"ok": true, "user": u})
}

// AdminDeleteUser removes a local account.
func (h *Handlers) AdminDeleteUser(c *gin.Context) {
	username := c.Param("username")
	if err := h.users.Delete(username); err != nil {
		setAudit(c, "user_delete_failed", map[string]interface{}{
			"target": username, "reason": string(apperr.KindOf(err)),
		})
		h.fail(c, err)
		return
	}
	setAudit(c, "user_delete", map[string]interface{}{"target": username})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// AdminQueryAudit reads a day's audit journal. Date defaults to today
// and must be strict YYYY-MM-DD; filters are length-capped.
func (h *Handlers) AdminQueryAudit(c *gin.Context) {
	date := c.DefaultQuery("date", time.Now().UTC().Format("2006-01-02"))
	if !audit.ValidDate(date) {
		h.fail(c, apperr.New(apperr.Validation, "date must be YYYY-MM-DD"))
		return
	}

	opts := audit.QueryOptions{
		User:     c.Query("user"),
		Action:   c.Query("action"),
		Contains: c.Query("contains"),
	}
	for _, filter := range []string{opts.User, opts.Action, opts.Contains} {
		if !audit.ValidFilter(filter) {
			h.fail(c, apperr.New(apperr.Validation, "filter too long"))
			return
		}
	}
	if limit := c.Query("limit"); limit != "" {
		n := 0
		for _, r := range limit {
			if r < '0' || r > '9' {
				h.fail(c, apperr.New(apperr.Validation, "limit must be a number"))
				return
			}
			n = n*10 + int(r-'0')
			if n > audit.MaxQueryResults {
				n = audit.MaxQueryResults
				break
			}
		}
		opts.Limit = n
	}

	events, err := h.audit.Query(date, opts)
	if err != nil {
		h.fail(c, apperr.Wrap(apperr.Validation, "invalid audit query", err))
		return
	}
	dates, err := h.audit.Dates()
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"date":           date,
		"events":         events,
		"count":          len(events),
		"availableDates": dates,
	})
}

// AdminReloadRooms drops the room config cache.
func (h *Handlers) AdminReloadRooms(c *gin.Context) {
	h.rooms.Invalidate()
	setAudit(c, "rooms_reload", nil)
	c.JSON(http.StatusOK, gin.H{"ok": true, "reloaded": true})
}
