package session

import "github.com/mcdev12/focusroom/go/internal/room"

// CanControl is the authorization predicate gating session clock mutations:
// the host may always mutate; everyone else only when the room allows
// partner control. Evaluated per call against the current room record; it
// has no state of its own.
func CanControl(r *room.Room, callerID string) bool {
	return callerID == r.HostID || r.Settings.AllowPartnerControl
}
