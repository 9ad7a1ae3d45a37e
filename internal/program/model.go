// Package program defines the persisted conference program records shared by
// the ingestion engine, the stores, and the HTTP layer.
//
// Every record belongs to exactly one conference. Cross references are held as
// record IDs; uuid.Nil means "no reference".
package program

import (
	"time"

	"github.com/google/uuid"
)

// Kind names a persisted record type. Used in logs, metrics, and errors.
type Kind string

const (
	KindRoom    Kind = "room"
	KindTrack   Kind = "track"
	KindPerson  Kind = "person"
	KindItem    Kind = "item"
	KindSession Kind = "session"
	KindEvent   Kind = "event"
)

// Kinds lists every kind in reconciliation order.
var Kinds = []Kind{KindRoom, KindTrack, KindPerson, KindItem, KindSession, KindEvent}

// Track is a thematic programming strand.
type Track struct {
	ID                  uuid.UUID    `json:"id"`
	ConferenceID        string       `json:"conferenceId"`
	Name                string       `json:"name"`
	DisplayName         string       `json:"displayName"`
	ShowAsEvents        bool         `json:"showAsEvents"`
	PerProgramItemVideo bool         `json:"perProgramItemVideo"`
	PerProgramItemChat  bool         `json:"perProgramItemChat"`
	ACL                 AccessPolicy `json:"acl"`
}

// RoomStream holds the live-stream settings of a room (primary and mirror source).
type RoomStream struct {
	Src1 string `json:"src1,omitempty"`
	ID1  string `json:"id1,omitempty"`
	Pwd1 string `json:"pwd1,omitempty"`
	Src2 string `json:"src2,omitempty"`
	ID2  string `json:"id2,omitempty"`
	Pwd2 string `json:"pwd2,omitempty"`
	QA   string `json:"qa,omitempty"`
}

// Room is a physical or virtual presentation space.
type Room struct {
	ID                 uuid.UUID    `json:"id"`
	ConferenceID       string       `json:"conferenceId"`
	Name               string       `json:"name"`
	Location           string       `json:"location,omitempty"`
	IsEventFocusedRoom bool         `json:"isEventFocusedRoom"`
	Stream             RoomStream   `json:"stream"`
	ACL                AccessPolicy `json:"acl"`
}

// Person is an author or presenter. Not a platform account.
type Person struct {
	ID           uuid.UUID    `json:"id"`
	ConferenceID string       `json:"conferenceId"`
	Name         string       `json:"name"`
	Affiliation  string       `json:"affiliation,omitempty"`
	Bio          string       `json:"bio,omitempty"`
	ConfKey      string       `json:"confKey,omitempty"`
	URL          string       `json:"url,omitempty"`
	PhotoURL     string       `json:"photoUrl,omitempty"`
	ProgramItems []uuid.UUID  `json:"programItems"`
	ACL          AccessPolicy `json:"acl"`
}

// Item is a paper, talk or poster, independent of scheduling.
type Item struct {
	ID           uuid.UUID    `json:"id"`
	ConferenceID string       `json:"conferenceId"`
	Title        string       `json:"title"`
	Abstract     string       `json:"abstract,omitempty"`
	Type         string       `json:"type,omitempty"`
	URL          string       `json:"url,omitempty"`
	ConfKey      string       `json:"confKey,omitempty"`
	Affiliations []string     `json:"affiliations,omitempty"`
	Authors      []uuid.UUID  `json:"authors"`
	TrackID      uuid.UUID    `json:"trackId"`
	SessionID    uuid.UUID    `json:"sessionId"`
	Events       []uuid.UUID  `json:"events"`
	ACL          AccessPolicy `json:"acl"`
}

// Session is a named, time-bounded block of scheduled events.
type Session struct {
	ID           uuid.UUID    `json:"id"`
	ConferenceID string       `json:"conferenceId"`
	Title        string       `json:"title"`
	Abstract     string       `json:"abstract,omitempty"`
	Type         string       `json:"type,omitempty"`
	Location     string       `json:"location,omitempty"`
	ConfKey      string       `json:"confKey,omitempty"`
	StartTime    time.Time    `json:"startTime"`
	EndTime      time.Time    `json:"endTime"`
	RoomID       uuid.UUID    `json:"roomId"`
	TrackID      uuid.UUID    `json:"trackId"`
	Items        []uuid.UUID  `json:"items"`
	Events       []uuid.UUID  `json:"events"`
	ACL          AccessPolicy `json:"acl"`
}

// Event is one scheduled (or unscheduled) listing of an item.
// StartTime and EndTime are both nil for an unscheduled listing.
type Event struct {
	ID           uuid.UUID    `json:"id"`
	ConferenceID string       `json:"conferenceId"`
	ItemID       uuid.UUID    `json:"itemId"`
	SessionID    uuid.UUID    `json:"sessionId"`
	TrackID      uuid.UUID    `json:"trackId"`
	StartTime    *time.Time   `json:"startTime,omitempty"`
	EndTime      *time.Time   `json:"endTime,omitempty"`
	ACL          AccessPolicy `json:"acl"`
}

// Scheduled reports whether the event carries a time range.
func (e Event) Scheduled() bool {
	return e.StartTime != nil
}

// ContainsID reports whether id is present in ids.
func ContainsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// RemoveID returns ids without any occurrence of id.
func RemoveID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
