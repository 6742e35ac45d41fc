// Package handlers implements the HTTP API: operator sessions, room
// listings, the per-room device namespace and the admin surface.
package handlers

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/FamiliaDusu/Ogaac-test/internal/apperr"
	"github.com/FamiliaDusu/Ogaac-test/internal/audit"
	"github.com/FamiliaDusu/Ogaac-test/internal/record"
	"github.com/FamiliaDusu/Ogaac-test/internal/rooms"
	"github.com/FamiliaDusu/Ogaac-test/internal/scope"
	"github.com/FamiliaDusu/Ogaac-test/internal/switcher"
	"github.com/FamiliaDusu/Ogaac-test/internal/users"
	"github.com/FamiliaDusu/Ogaac-test/pkg/api"
	"github.com/FamiliaDusu/Ogaac-test/pkg/logging"
	"github.com/FamiliaDusu/Ogaac-test/pkg/middleware"
)

// Context keys set by the auth middleware.
const (
	ctxUsername = "username"
	ctxRole     = "role"
	ctxScope    = "user_scope"
)

// Bootstrap is the env-seeded fallback account accepted at login when
// the store has no users yet.
type Bootstrap struct {
	Username string
	Password string
	Role     string
}

// Config wires the handler dependencies.
type Config struct {
	Users     *users.Store
	Rooms     *rooms.Resolver
	Pool      *switcher.Pool
	Tracker   *record.Tracker
	Audit     *audit.Sink
	JWTSecret []byte
	Bootstrap Bootstrap
	Logger    logging.Logger
}

// Handlers holds the API dependencies.
type Handlers struct {
	users     *users.Store
	rooms     *rooms.Resolver
	pool      *switcher.Pool
	tracker   *record.Tracker
	audit     *audit.Sink
	secret    []byte
	bootstrap Bootstrap
	logger    logging.Logger
}

// New creates the handler set.
func New(cfg Config) *Handlers {
	bootstrap := cfg.Bootstrap
	if bootstrap.Role == "" {
		bootstrap.Role = "admin"
	}
	return &Handlers{
		users:     cfg.Users,
		rooms:     cfg.Rooms,
		pool:      cfg.Pool,
		tracker:   cfg.Tracker,
		audit:     cfg.Audit,
		secret:    cfg.JWTSecret,
		bootstrap: bootstrap,
		logger:    cfg.Logger,
	}
}

type session struct {
	Username string
	Role     string
	Scope    *scope.Scope
}

func currentSession(c *gin.Context) session {
	s := session{
		Username: c.GetString(ctxUsername),
		Role:     c.GetString(ctxRole),
	}
	if v, ok := c.Get(ctxScope); ok {
		s.Scope, _ = v.(*scope.Scope)
	}
	return s
}

func (s session) isAdmin() bool { return s.Role == "admin" }

// fail writes the error envelope for err and logs it once.
func (h *Handlers) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	message := apperr.MessageOf(err)

	var devErr *switcher.DeviceError
	switch {
	case errors.As(err, &devErr):
		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			kind = apperr.DeviceError
			message = devErr.Comment
		}
	case errors.Is(err, context.DeadlineExceeded):
		kind = apperr.DeviceTimeout
		message = "device did not respond in time"
	}

	status := apperr.HTTPStatus(kind)
	if status >= 500 {
		h.logger.WithError(err).WithFields(logging.Fields{
			"path":     c.Request.URL.Path,
			"trace_id": middleware.TraceID(c),
		}).Error("Request failed")
	}
	c.JSON(status, api.Error(string(kind), message, middleware.TraceID(c)))
}

// roomAccess checks scope before anything touches the pool, then
// resolves the room's merged config and device target.
func (h *Handlers) roomAccess(c *gin.Context) (sede, sala string, cfg map[string]interface{}, target switcher.Target, ok bool) {
	sede = c.Param("sede")
	sala = c.Param("sala")

	s := currentSession(c)
	if !s.Scope.Allows(sede, sala) {
		h.fail(c, apperr.New(apperr.ScopeDenied, "room is outside your scope"))
		return
	}

	snap, err := h.rooms.Snapshot()
	if err != nil {
		h.fail(c, err)
		return
	}
	cfg, found := snap.Room(sede, sala)
	if !found {
		h.fail(c, apperr.New(apperr.RoomNotConfigured, "room is not configured"))
		return
	}
	if !rooms.Enabled(cfg) {
		h.fail(c, apperr.New(apperr.RoomNotConfigured, "room is disabled"))
		return
	}
	endpoint := rooms.ExtractEndpoint(cfg)
	if endpoint == "" {
		h.fail(c, apperr.New(apperr.RoomNotConfigured, "room has no device endpoint"))
		return
	}

	target = switcher.Target{Endpoint: endpoint, Password: rooms.ExtractPassword(cfg)}
	ok = true
	return
}

// withDevice runs fn against the room's pooled connection, normalizing
// connect failures into the device error taxonomy.
func (h *Handlers) withDevice(ctx context.Context, target switcher.Target, fn func(switcher.Conn) error) error {
	err := h.pool.With(ctx, target, fn)
	if err == nil || switcher.IsDeviceError(err) {
		return err
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.DeviceTimeout, "device did not respond in time", err)
	}
	return apperr.Wrap(apperr.DeviceError, "device unavailable", err)
}

// roomDevice adapts the pool to the recording tracker's device view.
type roomDevice struct {
	h      *Handlers
	target switcher.Target
}

func (d roomDevice) RecordStatus(ctx context.Context) (switcher.RecordStatus, error) {
	var status switcher.RecordStatus
	err := d.h.withDevice(ctx, d.target, func(conn switcher.Conn) error {
		var err error
		status, err = switcher.GetRecordStatus(ctx, conn)
		return err
	})
	return status, err
}

func (d roomDevice) StartRecord(ctx context.Context) error {
	return d.h.withDevice(ctx, d.target, func(conn switcher.Conn) error {
		return switcher.StartRecord(ctx, conn)
	})
}

func (d roomDevice) StopRecord(ctx context.Context) (string, error) {
	var path string
	err := d.h.withDevice(ctx, d.target, func(conn switcher.Conn) error {
		var err error
		path, err = switcher.StopRecord(ctx, conn)
		return err
	})
	return path, err
}

func (d roomDevice) PauseRecord(ctx context.Context) error {
	return d.h.withDevice(ctx, d.target, func(conn switcher.Conn) error {
		return switcher.PauseRecord(ctx, conn)
	})
}

func (d roomDevice) ResumeRecord(ctx context.Context) error {
	return d.h.withDevice(ctx, d.target, func(conn switcher.Conn) error {
		return switcher.ResumeRecord(ctx, conn)
	})
}

func isLoopbackPeer(c *gin.Context) bool {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		host = c.Request.RemoteAddr
	}
	ip := net.ParseIP(strings.TrimSpace(host))
	return ip != nil && ip.IsLoopback()
}
