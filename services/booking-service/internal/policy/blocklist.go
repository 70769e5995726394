package policy

import (
	"strings"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
)

// MatchesEntry reports whether any non-empty key of the entry equals the identity's.
func MatchesEntry(id model.Identity, e model.BlockEntry) bool {
	if v := strings.TrimSpace(e.UserID); v != "" && v == strings.TrimSpace(id.UserID) {
		return true
	}
	if v := strings.ToLower(strings.TrimSpace(e.Email)); v != "" && v == id.NormalizedEmail() {
		return true
	}
	if v := strings.TrimSpace(e.IPAddress); v != "" && v == strings.TrimSpace(id.IPAddress) {
		return true
	}
	return false
}

// IsBlocked returns the first entry matching id.
func IsBlocked(id model.Identity, entries []model.BlockEntry) (model.BlockEntry, bool) {
	for _, e := range entries {
		if MatchesEntry(id, e) {
			return e, true
		}
	}
	return model.BlockEntry{}, false
}

// SameIdentity is the OR-match used for limits and bulk blocking: two identities
// are the same customer when they share a user id, an e-mail or an ip address.
func SameIdentity(a, b model.Identity) bool {
	if v := strings.TrimSpace(a.UserID); v != "" && v == strings.TrimSpace(b.UserID) {
		return true
	}
	if v := a.NormalizedEmail(); v != "" && v == b.NormalizedEmail() {
		return true
	}
	if v := strings.TrimSpace(a.IPAddress); v != "" && v == strings.TrimSpace(b.IPAddress) {
		return true
	}
	return false
}
