package domain

import "errors"

// Failure categories surfaced by the scanner. Lower layers wrap these so
// callers can classify with errors.Is.
var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNoCamera         = errors.New("no camera available")
	ErrDecode           = errors.New("qr code could not be decoded")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrNetwork          = errors.New("network error")
	ErrNotFound         = errors.New("booking not found")
	ErrAlreadyVerified  = errors.New("ticket already verified")
	ErrInvalidBooking   = errors.New("invalid booking")
	ErrServer           = errors.New("server error")
)

// Session state errors.
var (
	ErrBusy              = errors.New("scan session busy")
	ErrInvalidTransition = errors.New("operation not valid in current state")
	ErrDecodeSourceBusy  = errors.New("another decode source is active")
	ErrSessionClosed     = errors.New("scan session closed")
	ErrSessionNotFound   = errors.New("scan session not found")
)

// User facing messages.
const (
	MsgCameraDenied    = "Unable to access the camera. Please check camera permissions and try again."
	MsgNoCamera        = "No camera was found on this device."
	MsgCameraFailed    = "Unable to start the camera."
	MsgInvalidQR       = "Invalid QR code. Please scan a valid ticket."
	MsgImageUnreadable = "No QR code found in the selected image."
	MsgUnauthenticated = "Your session has expired. Please log in again."
	MsgMovieLoadFailed = "Failed to load movie data."
	MsgEventLoadFailed = "Failed to load event data."
	MsgVerifyFailed    = "Failed to verify ticket."
	MsgVerifySucceeded = "Ticket verified successfully."
)
