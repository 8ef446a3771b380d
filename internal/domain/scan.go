package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode is the state of a scan session.
type Mode string

const (
	ModeIdle            Mode = "idle"
	ModeCameraActive    Mode = "cameraActive"
	ModeDecoded         Mode = "decoded"
	ModeFetchingDetails Mode = "fetchingDetails"
	ModeReady           Mode = "ready"
	ModeVerifying       Mode = "verifying"
	ModeVerified        Mode = "verified"
	ModeFailed          Mode = "failed"
)

// Busy reports whether a backend call is in flight for the session.
func (m Mode) Busy() bool {
	return m == ModeDecoded || m == ModeFetchingDetails || m == ModeVerifying
}

// Terminal reports whether only a reset can leave the mode.
func (m Mode) Terminal() bool {
	return m == ModeVerified || m == ModeFailed
}

type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

func ParseFacing(s string) (Facing, bool) {
	switch Facing(s) {
	case FacingEnvironment, FacingUser:
		return Facing(s), true
	default:
		return "", false
	}
}

// Opposite returns the other camera.
func (f Facing) Opposite() Facing {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// TicketKind selects which family of backend endpoints serves a booking.
type TicketKind string

const (
	KindMovie TicketKind = "movie"
	KindEvent TicketKind = "event"
)

func ParseTicketKind(s string) (TicketKind, bool) {
	switch TicketKind(s) {
	case KindMovie, KindEvent:
		return TicketKind(s), true
	case "":
		return KindMovie, true
	default:
		return "", false
	}
}

// Payload is the content of a ticket QR code. Only BookingID is required,
// the rest is carried along for logging and history.
type Payload struct {
	BookingID  string `json:"bookingId"`
	UserID     string `json:"userId,omitempty"`
	AppUserID  string `json:"appUserId,omitempty"`
	Email      string `json:"email,omitempty"`
	ShowtimeID string `json:"showtimeId,omitempty"`
	EventID    string `json:"eventId,omitempty"`
}

type TicketDetail struct {
	MovieName     string          `json:"movieName"`
	TheaterName   string          `json:"theaterName"`
	Showtime      string          `json:"showtime"`
	Date          string          `json:"date"`
	SeatNumbers   []string        `json:"seatNumbers"`
	TicketPrice   decimal.Decimal `json:"ticketPrice"`
	BookingStatus string          `json:"bookingStatus"`
}

type FoodItem struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	ImagePath   string          `json:"image"`
}

// LineTotal is price times quantity.
func (f FoodItem) LineTotal() decimal.Decimal {
	return f.Price.Mul(decimal.NewFromInt(int64(f.Quantity)))
}

// Snapshot is a point-in-time copy of a scan session. It shares no memory
// with the session that produced it.
type Snapshot struct {
	ID             string        `json:"id"`
	Kind           TicketKind    `json:"kind"`
	Mode           Mode          `json:"mode"`
	Facing         Facing        `json:"cameraFacing"`
	Payload        *Payload      `json:"payload,omitempty"`
	Ticket         *TicketDetail `json:"ticket,omitempty"`
	FoodItems      []FoodItem    `json:"foodItems"`
	ErrorMessage   string        `json:"errorMessage,omitempty"`
	SuccessMessage string        `json:"successMessage,omitempty"`
	Operator       string        `json:"-"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	// Closed is set on the final snapshot of a disposed session.
	Closed         bool          `json:"-"`
}

// BookingID returns the decoded booking id or "".
func (s Snapshot) BookingID() string {
	if s.Payload == nil {
		return ""
	}
	return s.Payload.BookingID
}
