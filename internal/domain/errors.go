package domain

import "errors"

// Session error taxonomy. Only the first four surface to the user before a
// session starts; everything else is handled with background retry and the
// durability store.
var (
	// ErrPermissionDenied indicates the user refused microphone/camera access.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrDeviceUnavailable indicates no usable capture device was found.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrPlatformUnsupported indicates the platform has no capture backend.
	ErrPlatformUnsupported = errors.New("capture platform unsupported")

	// ErrQuotaExceeded indicates the caller has no sessions remaining.
	ErrQuotaExceeded = errors.New("session quota exceeded")

	// ErrAlreadyActive indicates a session is already active or starting.
	ErrAlreadyActive = errors.New("session already active")

	// ErrTransportTimeout indicates the stream did not reach ready in time.
	ErrTransportTimeout = errors.New("transport connect timeout")

	// ErrTransportClosed indicates the stream closed unexpectedly.
	ErrTransportClosed = errors.New("transport closed")

	// ErrSyncFailed indicates remote sync of a session record failed; the
	// record stays in the durability store for later retry.
	ErrSyncFailed = errors.New("session sync failed")
)
