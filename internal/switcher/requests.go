package switcher

import "context"

// StreamStatus mirrors GetStreamStatus.
type StreamStatus struct {
	OutputActive      bool    `json:"outputActive"`
	OutputReconnect   bool    `json:"outputReconnecting"`
	OutputTimecode    string  `json:"outputTimecode"`
	OutputDuration    float64 `json:"outputDuration"`
	OutputCongestion  float64 `json:"outputCongestion"`
	OutputBytes       float64 `json:"outputBytes"`
	OutputSkipped     float64 `json:"outputSkippedFrames"`
	OutputTotalFrames float64 `json:"outputTotalFrames"`
}

// RecordStatus mirrors GetRecordStatus.
type RecordStatus struct {
	OutputActive   bool    `json:"outputActive"`
	OutputPaused   bool    `json:"outputPaused"`
	OutputTimecode string  `json:"outputTimecode"`
	OutputDuration float64 `json:"outputDuration"`
	OutputBytes    float64 `json:"outputBytes"`
}

// Progressing reports whether the recorder shows signs of producing
// output yet.
func (s RecordStatus) Progressing() bool {
	return s.OutputActive || s.OutputBytes > 0 || s.OutputDuration > 0
}

// Input is one entry from GetInputList.
type Input struct {
	InputName string `json:"inputName"`
	InputKind string `json:"inputKind"`
	InputUUID string `json:"inputUuid"`
}

// VolumeStatus mirrors GetInputVolume.
type VolumeStatus struct {
	InputVolumeMul float64 `json:"inputVolumeMul"`
	InputVolumeDb  float64 `json:"inputVolumeDb"`
}

// Scene is one entry from GetSceneList.
type Scene struct {
	SceneName  string `json:"sceneName"`
	SceneIndex int    `json:"sceneIndex"`
}

// SceneItem is one entry from GetSceneItemList.
type SceneItem struct {
	SceneItemID      int    `json:"sceneItemId"`
	SourceName       string `json:"sourceName"`
	SceneItemEnabled bool   `json:"sceneItemEnabled"`
}

// Stats mirrors the interesting slice of GetStats.
type Stats struct {
	CPUUsage            float64 `json:"cpuUsage"`
	MemoryUsage         float64 `json:"memoryUsage"`
	AvailableDiskSpace  float64 `json:"availableDiskSpace"`
	ActiveFPS           float64 `json:"activeFps"`
	AverageFrameTime    float64 `json:"averageFrameRenderTime"`
	RenderTotalFrames   float64 `json:"renderTotalFrames"`
	RenderSkippedFrames float64 `json:"renderSkippedFrames"`
	OutputTotalFrames   float64 `json:"outputTotalFrames"`
	OutputSkippedFrames float64 `json:"outputSkippedFrames"`
}

// GetStreamStatus queries the streaming output.
func GetStreamStatus(ctx context.Context, c Conn) (StreamStatus, error) {
	var status StreamStatus
	err := c.Call(ctx, "GetStreamStatus", nil, &status)
	return status, err
}

// StartStream starts the streaming output.
func StartStream(ctx context.Context, c Conn) error {
	return c.Call(ctx, "StartStream", nil, nil)
}

// StopStream stops the streaming output.
func StopStream(ctx context.Context, c Conn) error {
	return c.Call(ctx, "StopStream", nil, nil)
}

// GetRecordStatus queries the recording output.
func GetRecordStatus(ctx context.Context, c Conn) (RecordStatus, error) {
	var status RecordStatus
	err := c.Call(ctx, "GetRecordStatus", nil, &status)
	return status, err
}

// StartRecord starts the recording output.
func StartRecord(ctx context.Context, c Conn) error {
	return c.Call(ctx, "StartRecord", nil, nil)
}

// StopRecord stops the recording output and returns the file the device
// reports it wrote, when it reports one.
func StopRecord(ctx context.Context, c Conn) (string, error) {
	var out struct {
		OutputPath string `json:"outputPath"`
	}
	err := c.Call(ctx, "StopRecord", nil, &out)
	return out.OutputPath, err
}

// PauseRecord pauses the recording output.
func PauseRecord(ctx context.Context, c Conn) error {
	return c.Call(ctx, "PauseRecord", nil, nil)
}

// ResumeRecord resumes a paused recording output.
func ResumeRecord(ctx context.Context, c Conn) error {
	return c.Call(ctx, "ResumeRecord", nil, nil)
}

// GetInputList lists inputs, optionally filtered by kind.
func GetInputList(ctx context.Context, c Conn, kind string) ([]Input, error) {
	var req interface{}
	if kind != "" {
		req = map[string]string{"inputKind": kind}
	}
	var out struct {
		Inputs []Input `json:"inputs"`
	}
	err := c.Call(ctx, "GetInputList", req, &out)
	return out.Inputs, err
}

// GetInputMute reads an input's mute state.
func GetInputMute(ctx context.Context, c Conn, inputName string) (bool, error) {
	var out struct {
		InputMuted bool `json:"inputMuted"`
	}
	err := c.Call(ctx, "GetInputMute", map[string]string{"inputName": inputName}, &out)
	return out.InputMuted, err
}

// SetInputMute sets an input's mute state.
func SetInputMute(ctx context.Context, c Conn, inputName string, muted bool) error {
	return c.Call(ctx, "SetInputMute", map[string]interface{}{
		"inputName":  inputName,
		"inputMuted": muted,
	}, nil)
}

// ToggleInputMute flips an input's mute state and returns the new one.
func ToggleInputMute(ctx context.Context, c Conn, inputName string) (bool, error) {
	var out struct {
		InputMuted bool `json:"inputMuted"`
	}
	err := c.Call(ctx, "ToggleInputMute", map[string]string{"inputName": inputName}, &out)
	return out.InputMuted, err
}

// GetInputVolume reads an input's volume.
func GetInputVolume(ctx context.Context, c Conn, inputName string) (VolumeStatus, error) {
	var out VolumeStatus
	err := c.Call(ctx, "GetInputVolume", map[string]string{"inputName": inputName}, &out)
	return out, err
}

// SetInputVolumeDb sets an input's volume in decibels.
func SetInputVolumeDb(ctx context.Context, c Conn, inputName string, db float64) error {
	return c.Call(ctx, "SetInputVolume", map[string]interface{}{
		"inputName":     inputName,
		"inputVolumeDb": db,
	}, nil)
}

// GetSceneList lists scenes and the current program scene.
func GetSceneList(ctx context.Context, c Conn) (string, []Scene, error) {
	var out struct {
		CurrentProgramSceneName string  `json:"currentProgramSceneName"`
		Scenes                  []Scene `json:"scenes"`
	}
	err := c.Call(ctx, "GetSceneList", nil, &out)
	return out.CurrentProgramSceneName, out.Scenes, err
}

// GetCurrentProgramScene returns the current program scene name.
func GetCurrentProgramScene(ctx context.Context, c Conn) (string, error) {
	var out struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
	}
	err := c.Call(ctx, "GetCurrentProgramScene", nil, &out)
	return out.CurrentProgramSceneName, err
}

// SetCurrentProgramScene switches program to the named scene.
func SetCurrentProgramScene(ctx context.Context, c Conn, sceneName string) error {
	return c.Call(ctx, "SetCurrentProgramScene", map[string]string{"sceneName": sceneName}, nil)
}

// GetSceneItemList lists the items of a scene.
func GetSceneItemList(ctx context.Context, c Conn, sceneName string) ([]SceneItem, error) {
	var out struct {
		SceneItems []SceneItem `json:"sceneItems"`
	}
	err := c.Call(ctx, "GetSceneItemList", map[string]string{"sceneName": sceneName}, &out)
	return out.SceneItems, err
}

// SetSceneItemEnabled shows or hides one scene item.
func SetSceneItemEnabled(ctx context.Context, c Conn, sceneName string, itemID int, enabled bool) error {
	return c.Call(ctx, "SetSceneItemEnabled", map[string]interface{}{
		"sceneName":        sceneName,
		"sceneItemId":      itemID,
		"sceneItemEnabled": enabled,
	}, nil)
}

// GetStats reads device performance counters.
func GetStats(ctx context.Context, c Conn) (Stats, error) {
	var out Stats
	err := c.Call(ctx, "GetStats", nil, &out)
	return out, err
}
