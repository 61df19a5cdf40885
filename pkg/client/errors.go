package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dispcal/dispcal/pkg/calibration"
)

var (
	// ErrDaemonNotRunning is returned when the daemon is not running
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrPermissionDenied is returned when the user does not have permission to perform the requested action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the daemon
	ErrNotFound = errors.New("404 not found")

	// ErrBadRequest is returned when the daemon rejects the request input.
	ErrBadRequest = errors.New("bad request")
)

// statusErrors maps daemon status codes back to the errors they stand for.
var statusErrors = map[int]error{
	http.StatusNotFound:            ErrNotFound,
	http.StatusBadRequest:          ErrBadRequest,
	http.StatusServiceUnavailable:  calibration.ErrDeviceNotReady,
	http.StatusGatewayTimeout:      calibration.ErrTimeout,
	http.StatusUnprocessableEntity: calibration.ErrFileFormat,
}

// responseError turns a failed response into an error. The daemon replies
// with the error text as a JSON string.
func responseError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		msg = s
	}

	if sentinel, ok := statusErrors[status]; ok {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return fmt.Errorf("got %d: %s", status, msg)
}
