package media

import "errors"

// Device errors surface immediately to the caller of start/connect.
// They require user action and are never retried automatically, which
// keeps them distinguishable from transient transport failures.
var (
	// ErrPermissionDenied indicates the user refused the capture prompt
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrDeviceBusy indicates the device is held by another consumer
	ErrDeviceBusy = errors.New("capture device is busy")

	// ErrCaptureEnded indicates the capture source was revoked
	// out-of-band (e.g. OS-level stop sharing UI)
	ErrCaptureEnded = errors.New("capture source ended")

	// ErrCaptureClosed indicates the capture handle was stopped
	ErrCaptureClosed = errors.New("capture is closed")

	// ErrNoProvider indicates no capture provider was configured
	ErrNoProvider = errors.New("no capture provider configured")
)
