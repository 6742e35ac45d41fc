package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/FamiliaDusu/Ogaac-test/internal/apperr"
	"github.com/FamiliaDusu/Ogaac-test/internal/record"
	"github.com/FamiliaDusu/Ogaac-test/internal/rooms"
	"github.com/FamiliaDusu/Ogaac-test/internal/switcher"
)

// DeviceRoute dispatches the per-room device namespace. The room is
// scope-checked and resolved before any device traffic happens.
func (h *Handlers) DeviceRoute(c *gin.Context) {
	action := strings.Trim(c.Param("action"), "/")

	sede, sala, cfg, target, ok := h.roomAccess(c)
	if !ok {
		return
	}
	room := roomContext{
		id:     sede + "/" + sala,
		cfg:    cfg,
		target: target,
		device: roomDevice{h: h, target: target},
	}

	key := c.Request.Method + " " + action
	handler := map[string]func(*gin.Context, roomContext){
		"GET status":              h.deviceStatus,
		"POST stream/start":       h.streamStart,
		"POST stream/stop":        h.streamStop,
		"GET inputs":              h.deviceInputs,
		"POST audio/mute/toggle":  h.audioMuteToggle,
		"POST audio/volume/set":   h.audioVolumeSet,
		"GET audio/volume/get":    h.audioVolumeGet,
		"GET audio/state":         h.audioState,
		"POST record/start":       h.recordStart,
		"POST record/stop":        h.recordStop,
		"POST record/pause":       h.recordPause,
		"POST record/resume":      h.recordResume,
		"GET record/status":       h.recordStatus,
		"GET scenes":              h.deviceScenes,
		"POST scene/set":          h.sceneSet,
		"GET scene/items":         h.sceneItems,
		"POST scene/item/enabled": h.sceneItemEnabled,
		"GET state":               h.deviceState,
		"GET summary":             h.deviceSummary,
		"GET stats":               h.deviceStats,
	}[key]
	if handler == nil {
		h.fail(c, apperr.New(apperr.RouteNotFound, "unknown device operation"))
		return
	}
	handler(c, room)
}

type roomContext struct {
	id     string
	cfg    map[string]interface{}
	target switcher.Target
	device roomDevice
}

func (h *Handlers) deviceStatus(c *gin.Context, room roomContext) {
	var stream switcher.StreamStatus
	var rec switcher.RecordStatus
	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		var err error
		if stream, err = switcher.GetStreamStatus(c.Request.Context(), conn); err != nil {
			return err
		}
		rec, err = switcher.GetRecordStatus(c.Request.Context(), conn)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "stream": stream, "record": rec})
}

func (h *Handlers) streamStart(c *gin.Context, room roomContext) {
	setAudit(c, "stream_start", map[string]interface{}{"room": room.id})
	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		return switcher.StartStream(c.Request.Context(), conn)
	})
	if err != nil {
		if switcher.IsAlreadyActive(err) {
			c.JSON(http.StatusOK, gin.H{"ok": true, "already": true})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "started": true})
}

func (h *Handlers) streamStop(c *gin.Context, room roomContext) {
	setAudit(c, "stream_stop", map[string]interface{}{"room": room.id})
	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		return switcher.StopStream(c.Request.Context(), conn)
	})
	if err != nil {
		if switcher.IsAlreadyInactive(err) {
			c.JSON(http.StatusOK, gin.H{"ok": true, "already": true})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "stopped": true})
}

func (h *Handlers) deviceInputs(c *gin.Context, room roomContext) {
	var inputs []switcher.Input
	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		var err error
		inputs, err = switcher.GetInputList(c.Request.Context(), conn, c.Query("kind"))
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "inputs": inputs})
}

type inputRequest struct {
	Input string  `json:"input"`
	Db    float64 `json:"db"`
}

func (h *Handlers) audioMuteToggle(c *gin.Context, room roomContext) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Input == "" {
		h.fail(c, apperr.New(apperr.Validation, "input is required"))
		return
	}
	setAudit(c, "audio_mute_toggle", map[string]interface{}{"room": room.id, "input": req.Input})

	var muted bool
	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		var err error
		muted, err = switcher.ToggleInputMute(c.Request.Context(), conn, req.Input)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "input": req.Input, "muted": muted})
}

func (h *Handlers) audioVolumeSet(c *gin.Context, room roomContext) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Input == "" {
		h.fail(c, apperr.New(apperr.Validation, "input is required"))
		return
	}
	setAudit(c, "audio_volume_set", map[string]interface{}{"room": room.id, "input": req.Input, "db": req.Db})

	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		return switcher.SetInputVolumeDb(c.Request.Context(), conn, req.Input, req.Db)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "input": req.Input, "db": req.Db})
}

func (h *Handlers) audioVolumeGet(c *gin.Context, room roomContext) {
	input := c.Query("input")
	if input == "" {
		h.fail(c, apperr.New(apperr.Validation, "input is required"))
		return
	}
	var vol switcher.VolumeStatus
	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		var err error
		vol, err = switcher.GetInputVolume(c.Request.Context(), conn, input)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "input": input, "volumeMul": vol.InputVolumeMul, "volumeDb": vol.InputVolumeDb})
}

// audioState lists every input with its mute state in one response.
func (h *Handlers) audioState(c *gin.Context, room roomContext) {
	type inputState struct {
		Input string `json:"input"`
		Kind  string `json:"kind"`
		Muted bool   `json:"muted"`
	}
	var states []inputState
	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		inputs, err := switcher.GetInputList(c.Request.Context(), conn, "")
		if err != nil {
			return err
		}
		states = make([]inputState, 0, len(inputs))
		for _, input := range inputs {
			muted, err := switcher.GetInputMute(c.Request.Context(), conn, input.InputName)
			if err != nil {
				if switcher.IsDeviceError(err) {
					// Inputs without audio reject GetInputMute.
					continue
				}
				return err
			}
			states = append(states, inputState{Input: input.InputName, Kind: input.InputKind, Muted: muted})
		}
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "inputs": states})
}

func (h *Handlers) recordStart(c *gin.Context, room roomContext) {
	setAudit(c, "record_start", map[string]interface{}{"room": room.id})
	res, err := h.tracker.Start(c.Request.Context(), room.id, room.device)
	if err != nil {
		h.fail(c, err)
		return
	}
	switch {
	case res.InProgress:
		c.JSON(http.StatusAccepted, gin.H{"ok": true, "inProgress": true})
	case res.Already:
		c.JSON(http.StatusOK, gin.H{"ok": true, "already": true, "status": res.Status})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true, "started": true, "status": res.Status})
	}
}

func (h *Handlers) recordStop(c *gin.Context, room roomContext) {
	setAudit(c, "record_stop", map[string]interface{}{"room": room.id})
	res, err := h.tracker.Stop(c.Request.Context(), room.id, room.device)
	if err != nil {
		h.fail(c, err)
		return
	}
	switch {
	case res.InProgress:
		c.JSON(http.StatusAccepted, gin.H{"ok": true, "inProgress": true})
	case res.Already:
		c.JSON(http.StatusOK, gin.H{"ok": true, "already": true})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true, "stopped": true, "outputPath": res.OutputPath})
	}
}

func (h *Handlers) recordPause(c *gin.Context, room roomContext) {
	setAudit(c, "record_pause", map[string]interface{}{"room": room.id})
	h.recordToggle(c, room, h.tracker.Pause)
}

func (h *Handlers) recordResume(c *gin.Context, room roomContext) {
	setAudit(c, "record_resume", map[string]interface{}{"room": room.id})
	h.recordToggle(c, room, h.tracker.Resume)
}

func (h *Handlers) recordToggle(c *gin.Context, room roomContext,
	op func(ctx context.Context, room string, dev record.Device) (record.ToggleResult, error)) {
	res, err := op(c.Request.Context(), room.id, room.device)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.Already {
		c.JSON(http.StatusOK, gin.H{"ok": true, "already": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "applied": true})
}

func (h *Handlers) recordStatus(c *gin.Context, room roomContext) {
	res, err := h.tracker.Status(c.Request.Context(), room.id, room.device)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": res.Status, "op": res.Op})
}

func (h *Handlers) deviceScenes(c *gin.Context, room roomContext) {
	var current string
	var scenes []switcher.Scene
	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		var err error
		current, scenes, err = switcher.GetSceneList(c.Request.Context(), conn)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "current": current, "scenes": scenes})
}

func (h *Handlers) sceneSet(c *gin.Context, room roomContext) {
	var req struct {
		Scene string `json:"scene"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Scene == "" {
		h.fail(c, apperr.New(apperr.Validation, "scene is required"))
		return
	}
	setAudit(c, "scene_set", map[string]interface{}{"room": room.id, "scene": req.Scene})

	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		return switcher.SetCurrentProgramScene(c.Request.Context(), conn, req.Scene)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "scene": req.Scene})
}

func (h *Handlers) sceneItems(c *gin.Context, room roomContext) {
	var items []switcher.SceneItem
	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		scene := c.Query("scene")
		if scene == "" {
			var err error
			if scene, err = switcher.GetCurrentProgramScene(c.Request.Context(), conn); err != nil {
				return err
			}
		}
		var err error
		items, err = switcher.GetSceneItemList(c.Request.Context(), conn, scene)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "items": items})
}

func (h *Handlers) sceneItemEnabled(c *gin.Context, room roomContext) {
	var req struct {
		Scene   string `json:"scene"`
		ItemID  *int   `json:"itemId"`
		Enabled *bool  `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Scene == "" || req.ItemID == nil || req.Enabled == nil {
		h.fail(c, apperr.New(apperr.Validation, "scene, itemId and enabled are required"))
		return
	}
	setAudit(c, "scene_item_enabled", map[string]interface{}{
		"room": room.id, "scene": req.Scene, "itemId": *req.ItemID, "enabled": *req.Enabled,
	})

	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		return switcher.SetSceneItemEnabled(c.Request.Context(), conn, req.Scene, *req.ItemID, *req.Enabled)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// deviceState is the room dashboard call: program scene, stream and
// record activity in one round trip set.
func (h *Handlers) deviceState(c *gin.Context, room roomContext) {
	var scene string
	var stream switcher.StreamStatus
	var rec switcher.RecordStatus
	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		var err error
		if scene, err = switcher.GetCurrentProgramScene(c.Request.Context(), conn); err != nil {
			return err
		}
		if stream, err = switcher.GetStreamStatus(c.Request.Context(), conn); err != nil {
			return err
		}
		rec, err = switcher.GetRecordStatus(c.Request.Context(), conn)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"scene":        scene,
		"streamActive": stream.OutputActive,
		"stream":       stream,
		"record":       rec,
	})
}

// deviceSummary never touches the device: sanitized config plus the
// tracked recording state.
func (h *Handlers) deviceSummary(c *gin.Context, room roomContext) {
	op := h.tracker.Ops()[room.id]
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"id":     room.id,
		"config": rooms.Sanitize(room.cfg),
		"record": op,
	})
}

func (h *Handlers) deviceStats(c *gin.Context, room roomContext) {
	var stats switcher.Stats
	err := h.withDevice(c.Request.Context(), room.target, func(conn switcher.Conn) error {
		var err error
		stats, err = switcher.GetStats(c.Request.Context(), conn)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "stats": stats})
}
