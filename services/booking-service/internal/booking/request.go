package booking

import (
	"html"
	"net/mail"
	"net/netip"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
)

const maxFieldLength = 200

var strictPolicy = bluemonday.StrictPolicy()

// Request is a customer's booking submission in wire form.
type Request struct {
	Date            string         `json:"date"`
	Start           string         `json:"start"`
	DurationMinutes int            `json:"duration_minutes"`
	Identity        model.Identity `json:"identity"`
	AppointmentType string         `json:"appointment_type,omitempty"`
	IdempotencyKey  string         `json:"-"`
}

type parsedRequest struct {
	date     time.Time
	start    model.Clock
	end      model.Clock
	duration int
	identity model.Identity
	apptType string
	idemKey  string
}

// parse checks everything that does not depend on stored state.
func (r Request) parse(cfg model.AvailabilityConfig) (parsedRequest, error) {
	date, err := model.ParseDate(strings.TrimSpace(r.Date))
	if err != nil {
		return parsedRequest{}, reject(KindValidation, "%v", err)
	}
	start, err := model.ParseClock(strings.TrimSpace(r.Start))
	if err != nil {
		return parsedRequest{}, reject(KindValidation, "%v", err)
	}
	if start.Hour() >= 24 {
		return parsedRequest{}, reject(KindValidation, "start %s is not a time of day", start)
	}
	if !cfg.AllowsDuration(r.DurationMinutes) {
		return parsedRequest{}, reject(KindValidation, "duration %d minutes is not offered", r.DurationMinutes)
	}
	if step := cfg.Granularity(); int(start)%step != 0 {
		return parsedRequest{}, reject(KindValidation, "start %s is not aligned to %d-minute slots", start, step)
	}
	id, err := sanitizeIdentity(r.Identity)
	if err != nil {
		return parsedRequest{}, err
	}
	apptType := sanitize(r.AppointmentType)
	if len(apptType) > maxFieldLength {
		return parsedRequest{}, reject(KindValidation, "appointment type too long")
	}
	return parsedRequest{
		date:     date,
		start:    start,
		end:      start.Add(r.DurationMinutes),
		duration: r.DurationMinutes,
		identity: id,
		apptType: apptType,
		idemKey:  strings.TrimSpace(r.IdempotencyKey),
	}, nil
}

func sanitizeIdentity(in model.Identity) (model.Identity, error) {
	out := model.Identity{
		UserID:    strings.TrimSpace(in.UserID),
		Name:      sanitize(in.Name),
		Surname:   sanitize(in.Surname),
		Email:     strings.TrimSpace(in.Email),
		Phone:     sanitize(in.Phone),
		IPAddress: strings.TrimSpace(in.IPAddress),
	}
	switch {
	case out.Name == "":
		return out, reject(KindValidation, "name is required")
	case out.Surname == "":
		return out, reject(KindValidation, "surname is required")
	case out.Email == "":
		return out, reject(KindValidation, "email is required")
	case out.IPAddress == "":
		return out, reject(KindValidation, "ip address is required")
	}
	for _, v := range []string{out.UserID, out.Name, out.Surname, out.Email, out.Phone} {
		if len(v) > maxFieldLength {
			return out, reject(KindValidation, "identity field too long")
		}
	}
	if addr, err := mail.ParseAddress(out.Email); err != nil || addr.Address != out.Email {
		return out, reject(KindValidation, "invalid email %q", out.Email)
	}
	if _, err := netip.ParseAddr(out.IPAddress); err != nil {
		return out, reject(KindValidation, "invalid ip address %q", out.IPAddress)
	}
	return out, nil
}

// sanitize strips markup from free-text fields shown later in the admin dashboard.
// Entities are decoded again so names like O'Brien are stored as typed.
func sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(strings.TrimSpace(s))))
}
