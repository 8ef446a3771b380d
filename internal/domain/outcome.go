package domain

// Outcome names the transitions worth recording outside the session.
type Outcome string

const (
	OutcomeDecoded      Outcome = "decoded"
	OutcomeRejected     Outcome = "rejected"
	OutcomeLoaded       Outcome = "loaded"
	OutcomeLoadFailed   Outcome = "load_failed"
	OutcomeVerified     Outcome = "verified"
	OutcomeVerifyFailed Outcome = "verify_failed"
	OutcomeCameraFailed Outcome = "camera_failed"
)

// Classify maps a transition to its outcome. Transitions that are not
// outcomes (camera start, reset, entering a busy mode) report false.
func Classify(prev Mode, snap Snapshot) (Outcome, bool) {
	switch snap.Mode {
	case ModeDecoded:
		return OutcomeDecoded, true
	case ModeReady:
		switch prev {
		case ModeFetchingDetails:
			return OutcomeLoaded, true
		case ModeVerifying, ModeReady:
			if snap.ErrorMessage != "" {
				return OutcomeVerifyFailed, true
			}
		}
	case ModeVerified:
		if prev == ModeVerifying {
			return OutcomeVerified, true
		}
	case ModeFailed:
		switch prev {
		case ModeDecoded, ModeFetchingDetails:
			return OutcomeLoadFailed, true
		case ModeIdle, ModeCameraActive:
			return OutcomeCameraFailed, true
		}
	case ModeIdle, ModeCameraActive:
		if prev == snap.Mode && (snap.ErrorMessage == MsgInvalidQR || snap.ErrorMessage == MsgImageUnreadable) {
			return OutcomeRejected, true
		}
	}
	return "", false
}
