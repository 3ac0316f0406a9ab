package mindmap

import (
	"maps"
	"slices"
)

// Cursor is a pointer position on the canvas.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant is a remote user present in the joined document.
type Participant struct {
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Avatar   string  `json:"avatar,omitempty"`
	Cursor   *Cursor `json:"cursor,omitempty"`
}

// RemoteCursor is the last cursor position seen from a user.
type RemoteCursor struct {
	Cursor
	Username string
}

// RemoteSelection is the last node selection seen from a user.
type RemoteSelection struct {
	NodeIDs  []string
	Username string
}

// Presence is the remote presence cache of the joined document, keyed by user.
type Presence struct {
	Participants []Participant
	Cursors      map[string]RemoteCursor
	Selections   map[string]RemoteSelection
}

// SetRoster replaces the participant list with an authoritative roster.
// Cursors carried by the roster seed the cursor cache; cached cursors and
// selections of users no longer present are dropped.
func SetRoster(p Presence, roster []Participant) Presence {
	next := Presence{
		Participants: make([]Participant, 0, len(roster)),
		Cursors:      make(map[string]RemoteCursor),
		Selections:   make(map[string]RemoteSelection),
	}
	seen := make(map[string]struct{}, len(roster))
	for _, part := range roster {
		if _, dup := seen[part.UserID]; dup {
			continue
		}
		seen[part.UserID] = struct{}{}
		next.Participants = append(next.Participants, part)
		if c, ok := p.Cursors[part.UserID]; ok {
			next.Cursors[part.UserID] = c
		} else if part.Cursor != nil {
			next.Cursors[part.UserID] = RemoteCursor{Cursor: *part.Cursor, Username: part.Username}
		}
		if sel, ok := p.Selections[part.UserID]; ok {
			next.Selections[part.UserID] = sel
		}
	}
	return next
}

// AddParticipant appends part unless the user is already present.
func AddParticipant(p Presence, part Participant) Presence {
	if slices.ContainsFunc(p.Participants, func(x Participant) bool { return x.UserID == part.UserID }) {
		return p
	}
	p.Participants = append(slices.Clone(p.Participants), part)
	return p
}

// RemoveParticipant drops the user together with its cursor and selection.
func RemoveParticipant(p Presence, userID string) Presence {
	p.Participants = slices.DeleteFunc(slices.Clone(p.Participants), func(x Participant) bool {
		return x.UserID == userID
	})
	p.Cursors = maps.Clone(p.Cursors)
	delete(p.Cursors, userID)
	p.Selections = maps.Clone(p.Selections)
	delete(p.Selections, userID)
	return p
}

// UpdateCursor records the latest cursor position of a user.
func UpdateCursor(p Presence, userID, username string, c Cursor) Presence {
	cursors := maps.Clone(p.Cursors)
	if cursors == nil {
		cursors = make(map[string]RemoteCursor, 1)
	}
	cursors[userID] = RemoteCursor{Cursor: c, Username: username}
	p.Cursors = cursors
	return p
}

// UpdateSelection records the latest node selection of a user.
func UpdateSelection(p Presence, userID, username string, nodeIDs []string) Presence {
	selections := maps.Clone(p.Selections)
	if selections == nil {
		selections = make(map[string]RemoteSelection, 1)
	}
	selections[userID] = RemoteSelection{NodeIDs: slices.Clone(nodeIDs), Username: username}
	p.Selections = selections
	return p
}
