// Package attendance runs event attendance sessions: a timed self-registration
// window followed by a host review that credits attendees on submission.
package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"github.com/MarcoPoloResearchLab/regiment/internal/tracker"
)

// Phase is the lifecycle state of a session.
type Phase string

const (
	PhaseCollecting Phase = "collecting"
	PhaseReviewing  Phase = "reviewing"
	PhaseFinalized  Phase = "finalized"
	PhaseAbandoned  Phase = "abandoned"
)

// PromptKind selects a host review control.
type PromptKind string

const (
	PromptAddMember    PromptKind = "add"
	PromptRemoveMember PromptKind = "remove"
	PromptEventType    PromptKind = "type"
)

// MaxCandidates bounds the choices offered in one selection.
const MaxCandidates = 25

var (
	// ErrSessionNotFound indicates an unknown or already closed session.
	ErrSessionNotFound = errors.New("attendance: session not found")
	// ErrNotHost indicates a review control used by someone other than the host.
	ErrNotHost = errors.New("attendance: only the event host can use these controls")
	// ErrPhaseClosed indicates an action that does not apply to the current phase.
	ErrPhaseClosed = errors.New("attendance: action not available in this phase")
	// ErrNoMatchingMembers indicates a search with no candidates.
	ErrNoMatchingMembers = errors.New("attendance: no matching members found")
	// ErrSelectionExpired indicates an expired, reused or unknown prompt token.
	ErrSelectionExpired = errors.New("attendance: selection expired")
	// ErrInvalidChoice indicates a picked value that was not offered.
	ErrInvalidChoice = errors.New("attendance: choice was not offered")
	// ErrEngineStopped indicates the engine no longer accepts sessions.
	ErrEngineStopped = errors.New("attendance: engine stopped")
)

// Event is the information supplied when an event is logged.
type Event struct {
	HostID    string
	HostName  string
	EventType progression.EventType
	MapName   string
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID        string                `json:"id"`
	HostID    string                `json:"host_id"`
	HostName  string                `json:"host_name"`
	EventType progression.EventType `json:"event_type"`
	MapName   string                `json:"map_name"`
	Phase     Phase                 `json:"phase"`
	Attendees []string              `json:"attendees"`
	StartedAt time.Time             `json:"started_at"`
}

// Candidate is one selectable option in a prompt.
type Candidate struct {
	Value string
	Label string
}

// Prompt is a single-use host form or selection.
type Prompt struct {
	SessionID string
	Kind      PromptKind
	Token     string
	// Options is empty for search forms.
	Options   []Candidate
	ExpiresAt time.Time
}

// AttendeeCredit is the submission outcome for one attendee.
type AttendeeCredit struct {
	DiscordID string
	Credit    tracker.Credit
	Err       error
}

// Summary is the result of a submitted session.
type Summary struct {
	Session Snapshot
	Credits []AttendeeCredit
}

// Credited counts attendees that received credit for the event type.
func (s Summary) Credited() int {
	count := 0
	for _, credit := range s.Credits {
		if credit.Err == nil && credit.Credit.Credited {
			count++
		}
	}
	return count
}

// Member is a guild member as seen by searches.
type Member struct {
	ID       string
	Username string
	Nickname string
}

// DisplayName prefers the nickname.
func (m Member) DisplayName() string {
	if m.Nickname != "" {
		return m.Nickname
	}
	return m.Username
}

// Presenter renders session state on the chat platform.
type Presenter interface {
	ShowCollecting(ctx context.Context, session Snapshot) error
	ShowReview(ctx context.Context, session Snapshot) error
	ShowFinalized(ctx context.Context, summary Summary) error
	ShowAbandoned(ctx context.Context, session Snapshot) error
}

// Directory lists guild members for searches.
type Directory interface {
	Members(ctx context.Context) ([]Member, error)
}

// Crediter applies one attendance credit.
type Crediter interface {
	CreditAttendance(ctx context.Context, discordID records.DiscordID, event progression.EventType) (tracker.Credit, error)
}

// Observer is told about submitted sessions.
type Observer interface {
	SessionFinalized(ctx context.Context, summary Summary)
}

// Recorder counts session lifecycle events; metrics.Collectors satisfies it.
type Recorder interface {
	SessionStarted(eventType string)
	SessionFinalized(eventType string, credited int)
	SessionAbandoned(eventType string)
}
