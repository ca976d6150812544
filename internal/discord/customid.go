package discord

import (
	"errors"
	"strings"
)

const customIDPrefix = "att"

// Attendance control actions carried in component custom IDs.
const (
	actionRegister = "register"
	actionSubmit   = "submit"
	actionAdd      = "add"
	actionRemove   = "remove"
	actionType     = "type"
	actionSearch   = "search"
	actionPick     = "pick"
)

const searchInputID = "term"

var errMalformedCustomID = errors.New("discord: malformed custom id")

// controlID identifies an attendance control: att:<session>:<action>[:<token>].
type controlID struct {
	SessionID string
	Action    string
	Token     string
}

func (c controlID) String() string {
	parts := []string{customIDPrefix, c.SessionID, c.Action}
	if c.Token != "" {
		parts = append(parts, c.Token)
	}
	return strings.Join(parts, ":")
}

func parseControlID(raw string) (controlID, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 3 || len(parts) > 4 || parts[0] != customIDPrefix || parts[1] == "" || parts[2] == "" {
		return controlID{}, errMalformedCustomID
	}
	id := controlID{SessionID: parts[1], Action: parts[2]}
	if len(parts) == 4 {
		id.Token = parts[3]
	}
	switch id.Action {
	case actionSearch, actionPick:
		if id.Token == "" {
			return controlID{}, errMalformedCustomID
		}
	case actionRegister, actionSubmit, actionAdd, actionRemove, actionType:
	default:
		return controlID{}, errMalformedCustomID
	}
	return id, nil
}
