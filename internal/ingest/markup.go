package ingest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// sessionSlotPrefix marks a timeslot that carries its session's time range
// instead of an item.
const sessionSlotPrefix = "Session: "

type markupDocument struct {
	XMLName   xml.Name         `xml:"event"`
	Subevents []markupSubevent `xml:"subevent"`
}

type markupTracks struct {
	Track []string `xml:"track"`
}

type markupSubevent struct {
	ID          string         `xml:"subevent_id"`
	Title       string         `xml:"title"`
	Description string         `xml:"description"`
	Room        string         `xml:"room"`
	Date        string         `xml:"date"`
	StartTime   string         `xml:"start_time"`
	EndTime     string         `xml:"end_time"`
	Tracks      []markupTracks `xml:"tracks"`
	Timeslots   []markupSlot   `xml:"timeslot"`
}

type markupPerson struct {
	FirstName   string `xml:"first_name"`
	LastName    string `xml:"last_name"`
	Affiliation string `xml:"affiliation"`
}

type markupSlot struct {
	Title       string         `xml:"title"`
	Description string         `xml:"description"`
	Room        string         `xml:"room"`
	Date        string         `xml:"date"`
	StartTime   string         `xml:"start_time"`
	EndTime     string         `xml:"end_time"`
	Tracks      []markupTracks `xml:"tracks"`
	Persons     []markupPerson `xml:"persons>person"`
}

func firstTrack(tracks []markupTracks) string {
	for _, t := range tracks {
		for _, name := range t.Track {
			if name = strings.TrimSpace(name); name != "" {
				return name
			}
		}
	}
	return ""
}

// unescapeAmp undoes (possibly double) escaping of ampersands in descriptions.
func unescapeAmp(s string) string {
	s = strings.ReplaceAll(s, "&amp;", "&")
	return strings.ReplaceAll(s, "&amp;", "&")
}

// MarkupParser reads the structured-markup export: sessions ("subevents")
// containing timeslots, one per scheduled item.
type MarkupParser struct{}

// Parse implements Parser.
func (MarkupParser) Parse(raw []byte, loc *time.Location) (*Graph, error) {
	data, err := decodeInput(raw)
	if err != nil {
		return nil, &ParseError{Format: FormatMarkup, Reason: "decode input", Err: err}
	}
	var doc markupDocument
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Format: FormatMarkup, Reason: "malformed document", Err: err}
	}

	g := NewGraph(FormatMarkup, KeyByName)
	for _, sub := range doc.Subevents {
		if len(sub.Timeslots) == 0 {
			continue
		}
		if err := addMarkupSession(g, sub, loc); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func addMarkupSession(g *Graph, sub markupSubevent, loc *time.Location) error {
	title := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(sub.Title), sessionSlotPrefix))
	if title == "" {
		return &ParseError{Format: FormatMarkup, Record: "subevent " + sub.ID, Reason: "session without title"}
	}
	context := fmt.Sprintf("session %q", title)

	room := g.AddRoom(sub.Room, "")
	track := g.AddTrack(firstTrack(sub.Tracks))

	ref, created := g.AddSession(title, PendingSession{
		Title:    title,
		Abstract: strings.TrimSpace(sub.Description),
		Room:     room,
		Track:    track,
	})
	if !created && g.Sessions[ref].Room != room {
		return consistencyf([]string{title, roomLabel(g, g.Sessions[ref].Room), roomLabel(g, room)},
			"session %q found in multiple rooms: %s and %s", title, roomLabel(g, room), roomLabel(g, g.Sessions[ref].Room))
	}

	if sub.Date != "" && sub.StartTime != "" && sub.EndTime != "" {
		start, end, err := markupRange(sub.Date, sub.StartTime, sub.EndTime, loc, context)
		if err != nil {
			return err
		}
		if err := checkOrder(start, end, title); err != nil {
			return err
		}
		if created {
			g.setSessionBounds(ref, start, end)
		} else {
			g.widenSession(ref, start, end)
		}
	}

	// Pseudo-slots override the session range before any item widens it.
	for _, slot := range sub.Timeslots {
		if !strings.HasPrefix(slot.Title, sessionSlotPrefix) {
			continue
		}
		start, end, err := markupRange(slot.Date, slot.StartTime, slot.EndTime, loc, context)
		if err != nil {
			return err
		}
		if err := checkOrder(start, end, title); err != nil {
			return err
		}
		g.setSessionBounds(ref, start, end)
	}

	for _, slot := range sub.Timeslots {
		if strings.HasPrefix(slot.Title, sessionSlotPrefix) {
			continue
		}
		if err := addMarkupSlot(g, ref, track, slot, loc); err != nil {
			return err
		}
	}
	return nil
}

func addMarkupSlot(g *Graph, session SessionRef, sessionTrack TrackRef, slot markupSlot, loc *time.Location) error {
	title := strings.TrimSpace(slot.Title)
	if title == "" {
		return &ParseError{Format: FormatMarkup, Record: fmt.Sprintf("session %q", g.Sessions[session].Title), Reason: "timeslot without title"}
	}
	g.AddRoom(slot.Room, "")

	track := g.AddTrack(firstTrack(slot.Tracks))
	if track == noRef {
		track = sessionTrack
	}

	var authors []PersonRef
	for _, p := range slot.Persons {
		name := strings.TrimSpace(p.FirstName + " " + p.LastName)
		if name == "" {
			continue
		}
		ref := g.AddPerson(name, PendingPerson{Name: name, Affiliation: strings.TrimSpace(p.Affiliation)})
		if !containsRef(authors, ref) {
			authors = append(authors, ref)
		}
	}

	// First occurrence of a title wins unconditionally.
	item, _ := g.AddItem(title, PendingItem{
		Title:    title,
		Abstract: strings.TrimSpace(unescapeAmp(slot.Description)),
		Authors:  authors,
		Track:    track,
		Session:  noRef,
	})

	start, end, err := markupRange(slot.Date, slot.StartTime, slot.EndTime, loc, fmt.Sprintf("timeslot %q", title))
	if err != nil {
		return err
	}
	if err := checkOrder(start, end, title); err != nil {
		return err
	}
	g.AddEvent(PendingEvent{Item: item, Session: session, Track: track, Start: &start, End: &end})
	return nil
}

func markupRange(date, startClock, endClock string, loc *time.Location, context string) (time.Time, time.Time, error) {
	start, err := Resolve(date, startClock, loc, context)
	if err != nil {
		return time.Time{}, time.Time{}, &ParseError{Format: FormatMarkup, Record: context, Reason: "invalid start time", Err: withLayout(err, LayoutMarkup)}
	}
	end, err := Resolve(date, endClock, loc, context)
	if err != nil {
		return time.Time{}, time.Time{}, &ParseError{Format: FormatMarkup, Record: context, Reason: "invalid end time", Err: withLayout(err, LayoutMarkup)}
	}
	return start, end, nil
}
