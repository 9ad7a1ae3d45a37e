package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// legacyTestTrack is a track left behind by a rehearsal export.
const legacyTestTrack = "icse-2020-test"

type legacyDocument struct {
	People   []legacyPerson  `json:"People"`
	Items    []legacyItem    `json:"Items"`
	Sessions []legacySession `json:"Sessions"`
}

type legacyPerson struct {
	Key         string `json:"Key"`
	Name        string `json:"Name"`
	Bio         string `json:"Bio"`
	Affiliation string `json:"Affiliation"`
	URL         string `json:"URL"`
	URLPhoto    string `json:"URLPhoto"`
}

type legacyItem struct {
	Key          string   `json:"Key"`
	Title        string   `json:"Title"`
	Type         string   `json:"Type"`
	URL          string   `json:"URL"`
	Abstract     string   `json:"Abstract"`
	Affiliations []string `json:"Affiliations"`
	Authors      []string `json:"Authors"`
}

type legacySession struct {
	Key      string   `json:"Key"`
	Title    string   `json:"Title"`
	Abstract string   `json:"Abstract"`
	Type     string   `json:"Type"`
	Day      string   `json:"Day"`
	Time     string   `json:"Time"`
	Location string   `json:"Location"`
	Items    []string `json:"Items"`
}

// legacyTrackName returns the track segment of an item key ("track/slug").
func legacyTrackName(key string) string {
	track, _, _ := strings.Cut(key, "/")
	return strings.TrimSpace(track)
}

// excludedTrack reports whether items under track are dropped on import.
func excludedTrack(track string) bool {
	return strings.Contains(track, "catering") || track == legacyTestTrack
}

// LegacyParser reads the hierarchical legacy export: parallel People, Items
// and Sessions collections cross-referenced by slash-delimited keys.
type LegacyParser struct{}

// Parse implements Parser.
func (LegacyParser) Parse(raw []byte, loc *time.Location) (*Graph, error) {
	data, err := decodeInput(raw)
	if err != nil {
		return nil, &ParseError{Format: FormatLegacy, Reason: "decode input", Err: err}
	}
	var doc legacyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Format: FormatLegacy, Reason: "malformed document", Err: err}
	}

	g := NewGraph(FormatLegacy, KeyByConfKey)

	for _, p := range doc.People {
		key := strings.TrimSpace(p.Key)
		if key == "" {
			return nil, &ParseError{Format: FormatLegacy, Record: fmt.Sprintf("person %q", p.Name), Reason: "missing Key"}
		}
		g.AddPerson(key, PendingPerson{
			Name:        strings.TrimSpace(p.Name),
			Affiliation: strings.TrimSpace(p.Affiliation),
			Bio:         strings.TrimSpace(p.Bio),
			ConfKey:     key,
			URL:         strings.TrimSpace(p.URL),
			PhotoURL:    strings.TrimSpace(p.URLPhoto),
		})
	}

	excluded := make(map[string]bool)
	for _, it := range doc.Items {
		key := strings.TrimSpace(it.Key)
		if key == "" {
			return nil, &ParseError{Format: FormatLegacy, Record: fmt.Sprintf("item %q", it.Title), Reason: "missing Key"}
		}
		trackName := legacyTrackName(key)
		if excludedTrack(trackName) {
			excluded[key] = true
			continue
		}
		var authors []PersonRef
		for _, ak := range it.Authors {
			ref, ok := g.LookupPerson(ak)
			if !ok {
				g.warnf("author %s not found for item %s", ak, key)
				continue
			}
			if !containsRef(authors, ref) {
				authors = append(authors, ref)
			}
		}
		g.AddItem(key, PendingItem{
			Title:        strings.TrimSpace(it.Title),
			Abstract:     strings.TrimSpace(it.Abstract),
			Type:         strings.TrimSpace(it.Type),
			URL:          strings.TrimSpace(it.URL),
			ConfKey:      key,
			Affiliations: it.Affiliations,
			Authors:      authors,
			Track:        g.AddTrack(trackName),
			Session:      noRef,
		})
	}

	for _, ses := range doc.Sessions {
		if err := addLegacySession(g, ses, excluded, loc); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func addLegacySession(g *Graph, ses legacySession, excluded map[string]bool, loc *time.Location) error {
	key := strings.TrimSpace(ses.Key)
	title := strings.TrimSpace(ses.Title)
	if key == "" {
		return &ParseError{Format: FormatLegacy, Record: fmt.Sprintf("session %q", title), Reason: "missing Key"}
	}
	context := fmt.Sprintf("session %s", key)
	start, end, err := ResolveRange(ses.Day, ses.Time, loc, context)
	if err != nil {
		return &ParseError{Format: FormatLegacy, Record: context, Reason: "invalid Day/Time", Err: err}
	}
	if err := checkOrder(start, end, key); err != nil {
		return err
	}

	location := strings.TrimSpace(ses.Location)
	ref, created := g.AddSession(key, PendingSession{
		Title:    title,
		Abstract: strings.TrimSpace(ses.Abstract),
		Type:     strings.TrimSpace(ses.Type),
		Location: location,
		ConfKey:  key,
		Room:     g.AddRoom(location, "TBD"),
		Track:    noRef,
	})
	if created {
		g.setSessionBounds(ref, start, end)
	} else {
		g.warnf("duplicate session key %s; keeping the first definition", key)
	}

	for _, ik := range ses.Items {
		item, ok := g.LookupItem(ik)
		if !ok {
			if !excluded[strings.TrimSpace(ik)] {
				g.warnf("item %s not found for session %s", ik, key)
			}
			continue
		}
		it := &g.Items[item]
		if it.Session == noRef {
			it.Session = ref
		}
		if g.Sessions[ref].Track == noRef {
			g.Sessions[ref].Track = it.Track
		}
		s, e := start, end
		g.AddEvent(PendingEvent{Item: item, Session: ref, Track: it.Track, Start: &s, End: &e})
	}
	return nil
}
