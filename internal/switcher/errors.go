package switcher

import (
	"errors"
	"fmt"
	"strings"
)

// DeviceError is a request the device received and rejected. The socket
// stays usable after one of these; only transport failures poison a
// connection.
type DeviceError struct {
	Code    int
	Comment string
}

func (e *DeviceError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("device rejected request (code %d)", e.Code)
	}
	return fmt.Sprintf("device rejected request (code %d): %s", e.Code, e.Comment)
}

// IsDeviceError reports whether err is a rejection from the device
// rather than a transport failure.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

var alreadyActiveMarkers = []string{"already", "in progress", "active"}

var alreadyInactiveMarkers = []string{"not recording", "already", "inactive", "unsupported", "does not support"}

// IsAlreadyActive reports whether err is a rejection meaning the output
// was already running or a transition was in flight. Devices phrase
// these rejections inconsistently, so matching is on comment text.
// Negated phrasings are checked first because "inactive" contains
// "active".
func IsAlreadyActive(err error) bool {
	if matchesComment(err, []string{"inactive", "not recording", "not active"}) {
		return false
	}
	return matchesComment(err, alreadyActiveMarkers)
}

// IsAlreadyInactive reports whether err is a rejection meaning the
// output was already stopped, paused state did not apply, or the device
// does not support the operation.
func IsAlreadyInactive(err error) bool {
	return matchesComment(err, alreadyInactiveMarkers)
}

func matchesComment(err error, markers []string) bool {
	var de *DeviceError
	if !errors.As(err, &de) {
		return false
	}
	comment := strings.ToLower(de.Comment)
	for _, marker := range markers {
		if strings.Contains(comment, marker) {
			return true
		}
	}
	return false
}
