package discord

import (
	"errors"

	"github.com/MarcoPoloResearchLab/regiment/internal/attendance"
	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/promotion"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"github.com/MarcoPoloResearchLab/regiment/internal/roblox"
	"github.com/MarcoPoloResearchLab/regiment/internal/tracker"
	"github.com/MarcoPoloResearchLab/regiment/internal/verification"
)

var errUnauthorized = errors.New("discord: missing required role")

const genericFailure = "There was an error processing your request. Please try again later."

var userMessages = []struct {
	err     error
	message string
}{
	{errUnauthorized, "You do not have permission to use this command."},
	{roblox.ErrUserNotFound, "Roblox user not found. Please check the username."},
	{records.ErrNotFound, "User not found."},
	{tracker.ErrNotVerified, "This account has not completed verification. Use /verify first."},
	{promotion.ErrNotVerified, "This account has not completed verification. Use /verify first."},
	{promotion.ErrNotGroupMember, "User is not a member of the group."},
	{promotion.ErrUnrecognizedRank, "The group rank is not recognized."},
	{promotion.ErrAlreadyAtRank, "User already holds that rank."},
	{verification.ErrNoActiveVerification, "No active verification found. Use /verify first."},
	{verification.ErrCodeNotFound, "Verification code not found in your Roblox profile. Please add it to your About section and try again."},
	{tracker.ErrHeliosLeadershipField, "Helios Pathway members track this through /edit-helios-progress."},
	{tracker.ErrNotHeliosPathway, "This user is not on the Senior Trooper Helios Pathway."},
	{tracker.ErrFieldOutOfScope, "That field cannot be edited with this command."},
	{progression.ErrInvalidAction, "That action is not valid for this field."},
	{progression.ErrNotEditable, "That field cannot be edited."},
	{attendance.ErrNotHost, "Only the event host can use these buttons."},
	{attendance.ErrNoMatchingMembers, "No matching members found."},
	{attendance.ErrSelectionExpired, "This selection has expired. Please try again."},
	{attendance.ErrInvalidChoice, "That option is no longer available."},
	{attendance.ErrPhaseClosed, "This event is not accepting that action anymore."},
	{attendance.ErrSessionNotFound, "This event session is no longer active."},
	{attendance.ErrEngineStopped, "Event logging is unavailable right now."},
}

// userMessage maps an error to the reply shown to the member.
func userMessage(err error) string {
	for _, entry := range userMessages {
		if errors.Is(err, entry.err) {
			return entry.message
		}
	}
	return genericFailure
}

// expected reports whether the error is a user-facing outcome rather than a fault.
func expected(err error) bool {
	return userMessage(err) != genericFailure
}
