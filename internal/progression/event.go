package progression

import (
	"errors"
	"fmt"
	"strings"
)

// EventType is one of the loggable training or event kinds.
type EventType string

const (
	EventDefenseTraining    EventType = "Defense Training"
	EventRaidTraining       EventType = "Raid Training"
	EventWarfareEvent       EventType = "Warfare Event"
	EventTrainingGameSense  EventType = "Trooper Training Game Sense"
	EventTrainingGroupProto EventType = "Trooper Training Group Protocol"
	EventTrainingTerrain    EventType = "Trooper Training Terrain"
)

// ErrUnknownEventType indicates an event type outside the six loggable kinds.
var ErrUnknownEventType = errors.New("progression: unknown event type")

var eventTypes = []EventType{
	EventDefenseTraining,
	EventRaidTraining,
	EventWarfareEvent,
	EventTrainingGameSense,
	EventTrainingGroupProto,
	EventTrainingTerrain,
}

var eventFields = map[EventType]Field{
	EventDefenseTraining:    FieldDefenseTrainings,
	EventRaidTraining:       FieldRaidTrainings,
	EventWarfareEvent:       FieldWarfareEvents,
	EventTrainingGameSense:  FieldTrainingGameSense,
	EventTrainingGroupProto: FieldTrainingGroupProto,
	EventTrainingTerrain:    FieldTrainingTerrain,
}

// EventTypes lists the loggable event kinds in display order.
func EventTypes() []EventType {
	return append([]EventType(nil), eventTypes...)
}

// ParseEventType matches an event type display name, ignoring case.
func ParseEventType(raw string) (EventType, error) {
	trimmed := strings.TrimSpace(raw)
	for _, eventType := range eventTypes {
		if strings.EqualFold(string(eventType), trimmed) {
			return eventType, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, raw)
}

// Field returns the progress field credited by the event.
func (e EventType) Field() Field {
	return eventFields[e]
}

// Credit applies one attendance credit for the event to progress held at the
// given rank. Helios Pathway members only receive trooper-training credit.
// The boolean result is false when the rank receives no credit for the event.
func Credit(rank Rank, progress *Progress, event EventType) (Change, bool, error) {
	field, ok := eventFields[event]
	if !ok {
		return Change{}, false, fmt.Errorf("%w: %q", ErrUnknownEventType, event)
	}
	if rank == RankHeliosPathway && !field.IsTrooperTraining() {
		return Change{}, false, nil
	}
	caps, err := SubmissionCaps(rank)
	if err != nil {
		return Change{}, false, err
	}
	change, err := Mutate(progress, field, ActionAdd, caps)
	if err != nil {
		return Change{}, false, err
	}
	return change, true, nil
}
