package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/JonMunkholm/ProgramUpload/internal/program"
)

// Columns of the room stream table.
const (
	colRoomName = "Name"
	colYouTube  = "YouTube"
	colIQIYI    = "iQIYI"
	colZoom     = "Zoom"
	colQA       = "QA"
)

// Stream source labels written to rooms.
const (
	SourceYouTube = "YouTube"
	SourceIQIYI   = "iQIYI"
	SourceZoomUS  = "ZoomUS"
	SourceZoomCN  = "ZoomCN"
)

// RoomStreamResult reports how many rooms a stream upload changed.
type RoomStreamResult struct {
	Status  string `json:"status"`
	Updated int    `json:"updated"`
}

// UploadRoomStreams applies a stream settings table (Name, YouTube, iQIYI,
// Zoom, QA) to the conference's existing rooms. Every row is checked before
// anything is saved; an unknown room fails the whole upload.
func (e *Engine) UploadRoomStreams(ctx context.Context, conferenceID string, content []byte) (*RoomStreamResult, error) {
	rows, err := readStreamRows(content)
	if err != nil {
		return nil, err
	}

	existing, err := findAll(ctx, e.store.Rooms(), program.KindRoom, conferenceID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*program.Room, len(existing))
	for i := range existing {
		name := NormalizeRoomName(existing[i].Name)
		if _, dup := byName[name]; !dup {
			byName[name] = &existing[i]
		}
	}

	var toSave []*program.Room
	seen := make(map[*program.Room]bool)
	for _, row := range rows {
		room, ok := byName[NormalizeRoomName(row.name)]
		if !ok {
			return nil, &UnknownRoomError{Name: row.name}
		}
		if err := applyStreamRow(&room.Stream, row); err != nil {
			return nil, err
		}
		if !seen[room] {
			seen[room] = true
			toSave = append(toSave, room)
		}
	}

	if err := saveAll(ctx, e.store.Rooms(), program.KindRoom, toSave); err != nil {
		e.logger.Error("persistence failure", "kind", program.KindRoom, "records", len(toSave), "error", err)
		return nil, err
	}
	e.logger.Info("room streams uploaded", "conference_id", conferenceID, "rooms", len(toSave))
	return &RoomStreamResult{Status: StatusOK, Updated: len(toSave)}, nil
}

type streamRow struct {
	line    int
	name    string
	youtube string
	iqiyi   string
	zoom    string
	qa      string
}

func readStreamRows(content []byte) ([]streamRow, error) {
	data, err := decodeInput(content)
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
	if _, ok := hdr[strings.ToLower(colRoomName)]; !ok {
		return nil, &ParseError{Format: FormatTable, Record: "header", Reason: fmt.Sprintf("missing required column %q", colRoomName)}
	}

	var rows []streamRow
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Format: FormatTable, Reason: "read row", Err: err}
		}
		line, _ := r.FieldPos(0)
		row := streamRow{
			line:    line,
			name:    hdr.get(rec, colRoomName),
			youtube: hdr.get(rec, colYouTube),
			iqiyi:   hdr.get(rec, colIQIYI),
			zoom:    hdr.get(rec, colZoom),
			qa:      hdr.get(rec, colQA),
		}
		if row.name == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// applyStreamRow updates s from one row. A YouTube value wins over Zoom;
// rows with neither leave the stream untouched.
func applyStreamRow(s *program.RoomStream, row streamRow) error {
	switch {
	case row.youtube != "":
		s.Src1, s.ID1 = SourceYouTube, row.youtube
		s.Pwd1, s.Pwd2 = "", ""
		if row.iqiyi != "" {
			id, _, err := streamIDAndPassword(row.iqiyi)
			if err != nil {
				return &ParseError{Format: FormatTable, Record: fmt.Sprintf("line %d", row.line), Reason: "invalid iQIYI url", Err: err}
			}
			s.Src2, s.ID2 = SourceIQIYI, id
		} else {
			s.Src2, s.ID2 = "", ""
		}
		s.QA = row.qa
	case row.zoom != "":
		id, pwd, err := streamIDAndPassword(row.zoom)
		if err != nil {
			return &ParseError{Format: FormatTable, Record: fmt.Sprintf("line %d", row.line), Reason: "invalid Zoom url", Err: err}
		}
		s.Src1, s.ID1, s.Pwd1 = SourceZoomUS, id, pwd
		s.Src2, s.ID2, s.Pwd2 = SourceZoomCN, id, pwd
	}
	return nil
}

// streamIDAndPassword returns the last path segment of a meeting URL and its
// pwd query parameter.
func streamIDAndPassword(raw string) (id, pwd string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("%q is not an absolute url", raw)
	}
	if p := strings.TrimSuffix(u.Path, "/"); p != "" {
		id = path.Base(p)
	}
	return id, u.Query().Get("pwd"), nil
}
