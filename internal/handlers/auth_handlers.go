package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/FamiliaDusu/Ogaac-test/internal/apperr"
	"github.com/FamiliaDusu/Ogaac-test/pkg/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies credentials against the store, falling back to the
// env bootstrap account, and issues the session token plus cookie.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.New(apperr.Validation, "username and password are required"))
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		h.fail(c, apperr.New(apperr.Validation, "username and password are required"))
		return
	}

	role, ok := h.verifyCredentials(req.Username, req.Password)
	if !ok {
		h.fail(c, apperr.New(apperr.AuthDenied, "invalid credentials"))
		return
	}

	token, err := auth.GenerateToken(req.Username, role, h.secret)
	if err != nil {
		h.fail(c, apperr.Wrap(apperr.Internal, "failed to issue session", err))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, token, int(auth.SessionTTL.Seconds()), "/", "", false, true)

	c.Set(ctxUsername, req.Username)
	c.Set(ctxRole, role)
	setAudit(c, "login", nil)

	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"token":    token,
		"username": req.Username,
		"role":     role,
	})
}

func (h *Handlers) verifyCredentials(username, password string) (string, bool) {
	if h.users.Verify(username, password) {
		u, err := h.users.Get(username)
		if err != nil {
			return "", false
		}
		return u.Role, true
	}
	if h.bootstrap.Username != "" &&
		username == h.bootstrap.Username && password == h.bootstrap.Password {
		// Accounts in the store shadow the bootstrap user entirely.
		if _, err := h.users.Get(username); apperr.KindOf(err) == apperr.NotFound {
			return h.bootstrap.Role, true
		}
	}
	return "", false
}

// Logout clears the session cookie. The token itself stays valid until
// expiry; there is no server-side session state.
func (h *Handlers) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, "", -1, "/", "", false, true)
	setAudit(c, "logout", nil)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Session confirms the current token is valid.
func (h *Handlers) Session(c *gin.Context) {
	s := currentSession(c)
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"username": s.Username,
		"role":     s.Role,
	})
}

// Me returns the session identity including the room scope.
func (h *Handlers) Me(c *gin.Context) {
	s := currentSession(c)
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"username": s.Username,
		"role":     s.Role,
		"scope":    s.Scope,
	})
}
