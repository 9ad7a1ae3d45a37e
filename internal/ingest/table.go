package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Column headers of the delimited-table format.
const (
	colTrack    = "Track Name"
	colRoom     = "Room Name"
	colSession  = "Session Name"
	colTitle    = "Event Title"
	colAuthors  = "Event Authors"
	colAbstract = "Event Abstract"
	colStart    = "Event Start Time"
	colEnd      = "Event End Time"
)

var requiredTableColumns = []string{colTrack, colTitle}

// headerIndex maps lower-cased column names to their position in a row.
type headerIndex map[string]int

func makeHeaderIndex(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// get returns the trimmed cell for column, or "" if absent.
func (h headerIndex) get(row []string, column string) string {
	pos, ok := h[strings.ToLower(column)]
	if !ok || pos >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[pos])
}

// TableParser reads the delimited-table format: a header row followed by
// one row per item listing.
type TableParser struct{}

// Parse implements Parser.
func (TableParser) Parse(raw []byte, loc *time.Location) (*Graph, error) {
	data, err := decodeInput(raw)
	if err != nil {
		return nil, &ParseError{Format: FormatTable, Reason: "decode input", Err: err}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Format: FormatTable, Reason: "empty file"}
	}
	if err != nil {
		return nil, &ParseError{Format: FormatTable, Reason: "read header", Err: err}
	}
	hdr := makeHeaderIndex(header)
	for _, col := range requiredTableColumns {
		if _, ok := hdr[strings.ToLower(col)]; !ok {
			return nil, &ParseError{Format: FormatTable, Record: "header", Reason: fmt.Sprintf("missing required column %q", col)}
		}
	}

	g := NewGraph(FormatTable, KeyByName)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Format: FormatTable, Reason: "read row", Err: err}
		}
		if isEmptyRow(row) {
			continue
		}
		line, _ := r.FieldPos(0)
		if err := addTableRow(g, hdr, row, line, loc); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func addTableRow(g *Graph, hdr headerIndex, row []string, line int, loc *time.Location) error {
	record := fmt.Sprintf("line %d: %s", line, strings.Join(row, ","))

	trackName := hdr.get(row, colTrack)
	title := hdr.get(row, colTitle)
	if trackName == "" {
		return &ParseError{Format: FormatTable, Record: record, Reason: fmt.Sprintf("empty required field %q", colTrack)}
	}
	if title == "" {
		return &ParseError{Format: FormatTable, Record: record, Reason: fmt.Sprintf("empty required field %q", colTitle)}
	}
	track := g.AddTrack(trackName)

	roomName := hdr.get(row, colRoom)
	room := g.AddRoom(roomName, "")

	session := SessionRef(noRef)
	if sName := hdr.get(row, colSession); sName != "" {
		ref, created := g.AddSession(sName, PendingSession{Title: sName, Room: room, Track: track})
		if !created && g.Sessions[ref].Room != room {
			return consistencyf([]string{sName, roomLabel(g, g.Sessions[ref].Room), roomLabel(g, room)},
				"session %q found in multiple rooms: %s and %s; each session must be assigned to exactly one room",
				sName, roomLabel(g, room), roomLabel(g, g.Sessions[ref].Room))
		}
		session = ref
	}

	item, created := g.AddItem(title, PendingItem{
		Title:    title,
		Abstract: hdr.get(row, colAbstract),
		Track:    track,
		Session:  noRef,
	})
	if created {
		g.Items[item].Authors = tableAuthors(g, hdr.get(row, colAuthors))
	}

	startRaw, endRaw := hdr.get(row, colStart), hdr.get(row, colEnd)
	if startRaw == "" && endRaw == "" {
		g.AddEvent(PendingEvent{Item: item, Session: noRef, Track: track})
		return nil
	}
	if session == noRef {
		return consistencyf([]string{title},
			"scheduled item %q is not in a session; put it in a session or remove its start/end times", title)
	}
	if startRaw == "" || endRaw == "" {
		return &ParseError{Format: FormatTable, Record: record,
			Reason: fmt.Sprintf("item %q needs both %q and %q", title, colStart, colEnd)}
	}
	start, err := ResolveDateTime(startRaw, loc, record)
	if err != nil {
		return &ParseError{Format: FormatTable, Record: record, Reason: "invalid start time", Err: err}
	}
	end, err := ResolveDateTime(endRaw, loc, record)
	if err != nil {
		return &ParseError{Format: FormatTable, Record: record, Reason: "invalid end time", Err: err}
	}
	if err := checkOrder(start, end, title); err != nil {
		return err
	}
	g.AddEvent(PendingEvent{Item: item, Session: session, Track: track, Start: &start, End: &end})
	return nil
}

// tableAuthors splits a comma-separated author list into person refs,
// de-duplicating by trimmed name.
func tableAuthors(g *Graph, raw string) []PersonRef {
	var refs []PersonRef
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		ref := g.AddPerson(name, PendingPerson{Name: name})
		if !containsRef(refs, ref) {
			refs = append(refs, ref)
		}
	}
	return refs
}

func roomLabel(g *Graph, r RoomRef) string {
	if r == noRef {
		return "(no room)"
	}
	return g.Rooms[r].Name
}

func containsRef[T ~int](refs []T, ref T) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
