package ingest

import (
	"fmt"
	"strings"
	"time"
)

// KeyScheme selects the natural key used to match persons, items and
// sessions against persisted records.
type KeyScheme int

const (
	// KeyByName matches on trimmed display name / title.
	KeyByName KeyScheme = iota
	// KeyByConfKey matches on the source-supplied confKey.
	KeyByConfKey
)

func (s KeyScheme) String() string {
	if s == KeyByConfKey {
		return "confKey"
	}
	return "name"
}

// Arena indexes into the Graph slices. noRef marks an absent reference.
type (
	TrackRef   int
	RoomRef    int
	PersonRef  int
	ItemRef    int
	SessionRef int
)

const noRef = -1

// PendingTrack is a track seen in the input but not yet resolved.
type PendingTrack struct {
	Name string
}

// PendingRoom is a room seen in the input. Name is already normalised.
type PendingRoom struct {
	Name     string
	Location string
}

// PendingPerson is an author seen in the input.
type PendingPerson struct {
	Name        string
	Affiliation string
	Bio         string
	ConfKey     string
	URL         string
	PhotoURL    string
}

// PendingItem is a program item seen in the input. Track and Session may be noRef.
type PendingItem struct {
	Title        string
	Abstract     string
	Type         string
	URL          string
	ConfKey      string
	Affiliations []string
	Authors      []PersonRef
	Track        TrackRef
	Session      SessionRef
}

// PendingSession is a session seen in the input. Bounded is false until a
// time range has been supplied, either explicitly or by a scheduled event.
type PendingSession struct {
	Title    string
	Abstract string
	Type     string
	Location string
	ConfKey  string
	Room     RoomRef
	Track    TrackRef
	Start    time.Time
	End      time.Time
	Bounded  bool
	Items    []ItemRef
}

// PendingEvent is one listing of an item. Start and End are nil for an
// unscheduled listing; a scheduled listing always has a Session.
type PendingEvent struct {
	Item    ItemRef
	Session SessionRef
	Track   TrackRef
	Start   *time.Time
	End     *time.Time
}

// Graph is the format-independent output of every parser: arenas of pending
// records cross-referenced by index, plus lookup maps keyed by natural key.
type Graph struct {
	Format Format
	Scheme KeyScheme

	Tracks   []PendingTrack
	Rooms    []PendingRoom
	Persons  []PendingPerson
	Items    []PendingItem
	Sessions []PendingSession
	Events   []PendingEvent

	// Warnings collects non-fatal problems (dangling keys) for logging.
	Warnings []string

	trackIdx   map[string]TrackRef
	roomIdx    map[string]RoomRef
	personIdx  map[string]PersonRef
	itemIdx    map[string]ItemRef
	sessionIdx map[string]SessionRef
}

// NewGraph returns an empty graph for the given source format.
func NewGraph(format Format, scheme KeyScheme) *Graph {
	return &Graph{
		Format:     format,
		Scheme:     scheme,
		trackIdx:   make(map[string]TrackRef),
		roomIdx:    make(map[string]RoomRef),
		personIdx:  make(map[string]PersonRef),
		itemIdx:    make(map[string]ItemRef),
		sessionIdx: make(map[string]SessionRef),
	}
}

// NormalizeRoomName strips the "Online |" marker and surrounding whitespace.
func NormalizeRoomName(name string) string {
	return strings.TrimSpace(strings.Replace(name, "Online |", "", 1))
}

// AddTrack returns the track named name, creating it on first sight.
// An empty name yields noRef.
func (g *Graph) AddTrack(name string) TrackRef {
	name = strings.TrimSpace(name)
	if name == "" {
		return noRef
	}
	if ref, ok := g.trackIdx[name]; ok {
		return ref
	}
	ref := TrackRef(len(g.Tracks))
	g.Tracks = append(g.Tracks, PendingTrack{Name: name})
	g.trackIdx[name] = ref
	return ref
}

// AddRoom returns the room named name (after normalisation), creating it on
// first sight. An empty name yields noRef.
func (g *Graph) AddRoom(name, location string) RoomRef {
	name = NormalizeRoomName(name)
	if name == "" {
		return noRef
	}
	if ref, ok := g.roomIdx[name]; ok {
		return ref
	}
	ref := RoomRef(len(g.Rooms))
	g.Rooms = append(g.Rooms, PendingRoom{Name: name, Location: location})
	g.roomIdx[name] = ref
	return ref
}

// LookupPerson finds a person by graph key.
func (g *Graph) LookupPerson(key string) (PersonRef, bool) {
	ref, ok := g.personIdx[strings.TrimSpace(key)]
	return ref, ok
}

// AddPerson registers p under key. The first registration wins; later calls
// with the same key return the existing reference untouched.
func (g *Graph) AddPerson(key string, p PendingPerson) PersonRef {
	key = strings.TrimSpace(key)
	if ref, ok := g.personIdx[key]; ok {
		return ref
	}
	ref := PersonRef(len(g.Persons))
	g.Persons = append(g.Persons, p)
	g.personIdx[key] = ref
	return ref
}

// LookupItem finds an item by graph key.
func (g *Graph) LookupItem(key string) (ItemRef, bool) {
	ref, ok := g.itemIdx[strings.TrimSpace(key)]
	return ref, ok
}

// AddItem registers it under key. The first registration wins; created
// reports whether it was stored.
func (g *Graph) AddItem(key string, it PendingItem) (ref ItemRef, created bool) {
	key = strings.TrimSpace(key)
	if ref, ok := g.itemIdx[key]; ok {
		return ref, false
	}
	ref = ItemRef(len(g.Items))
	g.Items = append(g.Items, it)
	g.itemIdx[key] = ref
	return ref, true
}

// AddSession registers s under key. The first registration wins.
func (g *Graph) AddSession(key string, s PendingSession) (ref SessionRef, created bool) {
	key = strings.TrimSpace(key)
	if ref, ok := g.sessionIdx[key]; ok {
		return ref, false
	}
	ref = SessionRef(len(g.Sessions))
	g.Sessions = append(g.Sessions, s)
	g.sessionIdx[key] = ref
	return ref, true
}

// AddEvent appends an event and links its item into the session's item list.
func (g *Graph) AddEvent(e PendingEvent) {
	g.Events = append(g.Events, e)
	if e.Session != noRef {
		g.attachItem(e.Session, e.Item)
		if e.Start != nil {
			g.widenSession(e.Session, *e.Start, *e.End)
		}
	}
}

func (g *Graph) attachItem(s SessionRef, it ItemRef) {
	for _, existing := range g.Sessions[s].Items {
		if existing == it {
			return
		}
	}
	g.Sessions[s].Items = append(g.Sessions[s].Items, it)
}

// setSessionBounds replaces the session's time range.
func (g *Graph) setSessionBounds(s SessionRef, start, end time.Time) {
	ses := &g.Sessions[s]
	ses.Start, ses.End, ses.Bounded = start, end, true
}

// widenSession extends the session's range to cover [start, end].
func (g *Graph) widenSession(s SessionRef, start, end time.Time) {
	ses := &g.Sessions[s]
	if !ses.Bounded {
		g.setSessionBounds(s, start, end)
		return
	}
	if start.Before(ses.Start) {
		ses.Start = start
	}
	if end.After(ses.End) {
		ses.End = end
	}
}

func (g *Graph) warnf(format string, args ...any) {
	g.Warnings = append(g.Warnings, fmt.Sprintf(format, args...))
}

// Stats returns the number of pending records per kind.
func (g *Graph) Stats() map[string]int {
	return map[string]int{
		"tracks":   len(g.Tracks),
		"rooms":    len(g.Rooms),
		"persons":  len(g.Persons),
		"items":    len(g.Items),
		"sessions": len(g.Sessions),
		"events":   len(g.Events),
	}
}
