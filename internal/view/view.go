package view

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/diagnosis/venue-scanner/internal/domain"
)

// Overlay is the scanning animation shown over the live camera.
type Overlay struct {
	Active bool `json:"active"`
}

type TicketPanel struct {
	BookingID     string              `json:"bookingId"`
	Ticket        domain.TicketDetail `json:"ticket"`
	SeatCount     int                 `json:"seatCount"`
	Price         string              `json:"price"`
	Message       string              `json:"message,omitempty"`
	VerifyVisible bool                `json:"verifyVisible"`
	VerifyEnabled bool                `json:"verifyEnabled"`
}

type FoodLine struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"price"`
	LineTotal   string `json:"lineTotal"`
	ImagePath   string `json:"image,omitempty"`
}

type FoodPanel struct {
	Items []FoodLine `json:"items"`
	Total string     `json:"total"`
}

// Screen is everything the scanner UI draws for one snapshot.
type Screen struct {
	SessionID      string        `json:"sessionId"`
	Kind           string        `json:"kind"`
	Mode           domain.Mode   `json:"mode"`
	CameraFacing   domain.Facing `json:"cameraFacing"`
	Overlay        Overlay       `json:"overlay"`
	Ticket         *TicketPanel  `json:"ticket,omitempty"`
	Food           *FoodPanel    `json:"food,omitempty"`
	ErrorMessage   string        `json:"errorMessage,omitempty"`
	SuccessMessage string        `json:"successMessage,omitempty"`
}

// Money formats an amount the way the ticket panel shows it.
func Money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func NewTicketPanel(snap domain.Snapshot) *TicketPanel {
	if snap.Ticket == nil {
		return nil
	}
	msg := snap.ErrorMessage
	if snap.SuccessMessage != "" {
		msg = snap.SuccessMessage
	}
	return &TicketPanel{
		BookingID:     snap.BookingID(),
		Ticket:        *snap.Ticket,
		SeatCount:     len(snap.Ticket.SeatNumbers),
		Price:         Money(snap.Ticket.TicketPrice),
		Message:       msg,
		VerifyVisible: snap.Mode != domain.ModeVerified,
		VerifyEnabled: snap.Mode == domain.ModeReady,
	}
}

// NewFoodPanel returns nil for an empty order; no total is computed then.
func NewFoodPanel(items []domain.FoodItem) *FoodPanel {
	if len(items) == 0 {
		return nil
	}
	panel := &FoodPanel{Items: make([]FoodLine, 0, len(items))}
	total := decimal.Zero
	for _, item := range items {
		line := item.LineTotal()
		total = total.Add(line)
		panel.Items = append(panel.Items, FoodLine{
			Name:        item.Name,
			Description: item.Description,
			Quantity:    item.Quantity,
			Price:       Money(item.Price),
			LineTotal:   Money(line),
			ImagePath:   item.ImagePath,
		})
	}
	panel.Total = Money(total)
	return panel
}

func Render(snap domain.Snapshot) Screen {
	return Screen{
		SessionID:      snap.ID,
		Kind:           string(snap.Kind),
		Mode:           snap.Mode,
		CameraFacing:   snap.Facing,
		Overlay:        Overlay{Active: snap.Mode == domain.ModeCameraActive},
		Ticket:         NewTicketPanel(snap),
		Food:           NewFoodPanel(snap.FoodItems),
		ErrorMessage:   snap.ErrorMessage,
		SuccessMessage: snap.SuccessMessage,
	}
}

// WriteText prints the screen for a terminal.
func WriteText(w io.Writer, s Screen) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", s.Mode)
	if s.Overlay.Active {
		fmt.Fprintf(&b, "Scanning with %s camera...\n", s.CameraFacing)
	}
	if t := s.Ticket; t != nil {
		title := t.Ticket.MovieName
		if title == "" {
			title = "Ticket"
		}
		fmt.Fprintf(&b, "\n%s\n", title)
		fmt.Fprintf(&b, "  Booking:  %s\n", t.BookingID)
		if t.Ticket.TheaterName != "" {
			fmt.Fprintf(&b, "  Venue:    %s\n", t.Ticket.TheaterName)
		}
		fmt.Fprintf(&b, "  When:     %s %s\n", t.Ticket.Date, t.Ticket.Showtime)
		fmt.Fprintf(&b, "  Seats:    %d (%s)\n", t.SeatCount, strings.Join(t.Ticket.SeatNumbers, ", "))
		fmt.Fprintf(&b, "  Price:    %s\n", t.Price)
		if t.Ticket.BookingStatus != "" {
			fmt.Fprintf(&b, "  Status:   %s\n", t.Ticket.BookingStatus)
		}
	}
	if f := s.Food; f != nil {
		b.WriteString("\nFood order\n")
		for _, item := range f.Items {
			fmt.Fprintf(&b, "  %dx %s  %s\n", item.Quantity, item.Name, item.LineTotal)
		}
		fmt.Fprintf(&b, "  Total: %s\n", f.Total)
	}
	if s.ErrorMessage != "" {
		fmt.Fprintf(&b, "\nError: %s\n", s.ErrorMessage)
	}
	if s.SuccessMessage != "" {
		fmt.Fprintf(&b, "\n%s\n", s.SuccessMessage)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
