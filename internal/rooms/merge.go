package rooms

import (
	"fmt"
	"strings"
)

// Key substrings that mark a config value as secret. Matching is
// case-insensitive and applies recursively to nested objects.
var secretKeywords = []string{
	"password", "pass", "pwd", "secret", "token", "auth", "rtsp", "cookie",
}

// DeepMerge merges extra into base, right-biased: values in extra win,
// except nested objects which merge recursively. Neither input is
// mutated; the result shares no containers with them.
func DeepMerge(base, extra map[string]interface{}) map[string]interface{} {
	result := cloneObject(base)
	for key, value := range extra {
		if extraObj, ok := asObject(value); ok {
			if baseObj, ok := asObject(result[key]); ok {
				result[key] = DeepMerge(baseObj, extraObj)
				continue
			}
		}
		result[key] = cloneValue(value)
	}
	return result
}

// Sanitize returns a copy of cfg with every secret-named key removed,
// recursively through objects and arrays.
func Sanitize(cfg map[string]interface{}) map[string]interface{} {
	out, _ := sanitizeValue(cfg).(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}
	return out
}

func sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			if isSecretKey(key) {
				continue
			}
			out[key] = sanitizeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range secretKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExtractEndpoint pulls the device websocket endpoint out of a room
// config: a top-level "ws" string, or an "obs.ws" string or object with
// either a "url" or a "host"/"ip" plus "port".
func ExtractEndpoint(cfg map[string]interface{}) string {
	if ws := stringField(cfg, "ws"); ws != "" {
		return ws
	}
	obs, ok := asObject(cfg["obs"])
	if !ok {
		return ""
	}
	if ws := stringField(obs, "ws"); ws != "" {
		return ws
	}
	wsObj, ok := asObject(obs["ws"])
	if !ok {
		return ""
	}
	if url := stringField(wsObj, "url"); url != "" {
		return url
	}
	host := stringField(wsObj, "host")
	if host == "" {
		host = stringField(wsObj, "ip")
	}
	port := wsObj["port"]
	if host != "" && port != nil {
		return fmt.Sprintf("ws://%s:%v", host, port)
	}
	return ""
}

// ExtractStreamSource pulls an upstream source URL out of a room config
// ("rtsp" string or object, "rtspUrl", or "stream.rtsp").
func ExtractStreamSource(cfg map[string]interface{}) string {
	if v := stringField(cfg, "rtsp"); v != "" {
		return v
	}
	if rtsp, ok := asObject(cfg["rtsp"]); ok {
		if v := stringField(rtsp, "url"); v != "" {
			return v
		}
	}
	if v := stringField(cfg, "rtspUrl"); v != "" {
		return v
	}
	if stream, ok := asObject(cfg["stream"]); ok {
		if v := stringField(stream, "rtsp"); v != "" {
			return v
		}
	}
	return ""
}

// ExtractPassword returns the device password from a merged room config.
func ExtractPassword(cfg map[string]interface{}) string {
	return stringField(cfg, "password")
}

// Enabled reports whether a room is enabled; rooms default to enabled
// when the flag is absent.
func Enabled(cfg map[string]interface{}) bool {
	return boolField(cfg, "enabled", true)
}

// boolField resolves an optional boolean with a default, matching the
// permissive reading the config files always had.
func boolField(cfg map[string]interface{}, key string, def bool) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return def
}

func stringField(cfg map[string]interface{}, key string) string {
	if v, ok := cfg[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func asObject(value interface{}) (map[string]interface{}, bool) {
	obj, ok := value.(map[string]interface{})
	return obj, ok
}

func cloneObject(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for key, value := range obj {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return cloneObject(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
