package qr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/diagnosis/venue-scanner/internal/domain"
)

// ParsePayload validates the raw text of a ticket QR code. The text must be
// a JSON object with a non-empty string bookingId. Optional fields are kept
// when they are strings or numbers and silently dropped otherwise.
func ParsePayload(raw string) (domain.Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &fields); err != nil {
		return domain.Payload{}, fmt.Errorf("%w: payload is not a JSON object", domain.ErrDecode)
	}

	var bookingID string
	if rawID, ok := fields["bookingId"]; !ok || json.Unmarshal(rawID, &bookingID) != nil {
		return domain.Payload{}, fmt.Errorf("%w: bookingId missing", domain.ErrDecode)
	}
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return domain.Payload{}, fmt.Errorf("%w: bookingId empty", domain.ErrDecode)
	}

	return domain.Payload{
		BookingID:  bookingID,
		UserID:     optional(fields["userId"]),
		AppUserID:  optional(fields["appUserId"]),
		Email:      optional(fields["email"]),
		ShowtimeID: optional(fields["showtimeId"]),
		EventID:    optional(fields["eventId"]),
	}, nil
}

func optional(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String()
	}
	return ""
}
