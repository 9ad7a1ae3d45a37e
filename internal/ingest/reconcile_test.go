package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/ProgramUpload/internal/program"
	"github.com/JonMunkholm/ProgramUpload/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConf = "conf-1"

func newTestEngine() (*Engine, *store.Memory) {
	mem := store.NewMemory()
	return NewEngine(mem, slog.New(slog.NewTextHandler(io.Discard, nil))), mem
}

func tableRequest(rows ...string) Request {
	return Request{
		Content:      []byte(tableHeader + strings.Join(rows, "\n")),
		ConferenceID: testConf,
		Timezone:     "UTC",
		Format:       "table",
	}
}

func mustUpload(t *testing.T, e *Engine, req Request) *Result {
	t.Helper()
	res, err := e.UploadProgram(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, StatusOK, res.Status)
	return res
}

func all[T any](t *testing.T, c store.Collection[T]) []T {
	t.Helper()
	recs, err := c.FindAll(context.Background(), testConf)
	require.NoError(t, err)
	return recs
}

func counts(t *testing.T, s store.Store) map[program.Kind]int {
	t.Helper()
	return map[program.Kind]int{
		program.KindRoom:    len(all(t, s.Rooms())),
		program.KindTrack:   len(all(t, s.Tracks())),
		program.KindPerson:  len(all(t, s.Persons())),
		program.KindItem:    len(all(t, s.Items())),
		program.KindSession: len(all(t, s.Sessions())),
		program.KindEvent:   len(all(t, s.Events())),
	}
}

func TestUploadProgram_Scenario(t *testing.T) {
	e, mem := newTestEngine()
	res := mustUpload(t, e, tableRequest(
		`AI,Hall A,Keynotes,Intro,Alice Smith,,2024-06-01 09:00,2024-06-01 10:00`,
	))
	assert.Equal(t, "table", res.Format)
	for _, k := range program.Kinds {
		assert.Equal(t, 1, res.Summary.Created[k], "created %s", k)
	}

	tracks := all(t, mem.Tracks())
	rooms := all(t, mem.Rooms())
	persons := all(t, mem.Persons())
	items := all(t, mem.Items())
	sessions := all(t, mem.Sessions())
	events := all(t, mem.Events())
	require.Len(t, tracks, 1)
	require.Len(t, rooms, 1)
	require.Len(t, persons, 1)
	require.Len(t, items, 1)
	require.Len(t, sessions, 1)
	require.Len(t, events, 1)

	track, room, alice, item, ses, ev := tracks[0], rooms[0], persons[0], items[0], sessions[0], events[0]
	assert.Equal(t, "AI", track.Name)
	assert.Equal(t, "AI", track.DisplayName)
	assert.True(t, track.ShowAsEvents)
	assert.Equal(t, "Hall A", room.Name)
	assert.True(t, room.IsEventFocusedRoom)
	assert.Equal(t, "Alice Smith", alice.Name)

	assert.Equal(t, "Keynotes", ses.Title)
	assert.Equal(t, room.ID, ses.RoomID)
	assert.Equal(t, track.ID, ses.TrackID)
	assert.True(t, ses.StartTime.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)))
	assert.True(t, ses.EndTime.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, []uuid.UUID{item.ID}, ses.Items)
	assert.Equal(t, []uuid.UUID{ev.ID}, ses.Events)

	assert.Equal(t, "Intro", item.Title)
	assert.Equal(t, []uuid.UUID{alice.ID}, item.Authors)
	assert.Equal(t, track.ID, item.TrackID)
	assert.Equal(t, []uuid.UUID{ev.ID}, item.Events)
	assert.Equal(t, track.ID.String()+"/"+item.ID.String(), item.ConfKey)
	assert.Equal(t, []uuid.UUID{item.ID}, alice.ProgramItems)

	assert.Equal(t, item.ID, ev.ItemID)
	assert.Equal(t, ses.ID, ev.SessionID)
	assert.Equal(t, track.ID, ev.TrackID)
	require.True(t, ev.Scheduled())
	assert.True(t, ev.StartTime.Equal(ses.StartTime))
	assert.True(t, ev.EndTime.Equal(ses.EndTime))

	assert.True(t, item.ACL.PublicRead)
	assert.False(t, item.ACL.PublicWrite)
	assert.ElementsMatch(t, []string{testConf + "-admin", testConf + "-manager"}, item.ACL.WriteRoles)
}

func TestUploadProgram_Idempotent(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"table", tableRequest(
			`AI,Hall A,Keynotes,Intro,"Alice Smith, Bob Jones",Hello,2024-06-01 09:00,2024-06-01 10:00`,
			`AI,Hall A,Keynotes,Second,Bob Jones,,2024-06-01 10:00,2024-06-01 11:00`,
			`ML,,,Poster,Carol,,,`,
		)},
		{"markup", Request{Content: []byte(markupDoc), ConferenceID: testConf, Timezone: "UTC", Format: "markup"}},
		{"legacy", Request{Content: []byte(legacyDoc), ConferenceID: testConf, Timezone: "UTC", Format: "legacy-hierarchical"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mem := newTestEngine()
			mustUpload(t, e, tt.req)
			once := counts(t, mem)
			itemsOnce := all(t, mem.Items())

			res := mustUpload(t, e, tt.req)
			assert.Equal(t, once, counts(t, mem))
			for _, k := range program.Kinds {
				assert.Zero(t, res.Summary.Created[k], "second upload created %s", k)
			}

			itemsTwice := all(t, mem.Items())
			require.Len(t, itemsTwice, len(itemsOnce))
			for i := range itemsOnce {
				assert.Equal(t, itemsOnce[i].ID, itemsTwice[i].ID)
				assert.Equal(t, itemsOnce[i].Events, itemsTwice[i].Events)
				assert.Equal(t, itemsOnce[i].Authors, itemsTwice[i].Authors)
				assert.Equal(t, itemsOnce[i].ConfKey, itemsTwice[i].ConfKey)
			}
			for _, p := range all(t, mem.Persons()) {
				seen := make(map[uuid.UUID]bool)
				for _, id := range p.ProgramItems {
					assert.False(t, seen[id], "duplicate back-link on %s", p.Name)
					seen[id] = true
				}
			}
		})
	}
}

func TestUploadProgram_TrackDedup(t *testing.T) {
	e, mem := newTestEngine()
	mustUpload(t, e, tableRequest(`AI,,,One,,,,`, `AI,,,Two,,,,`))
	assert.Len(t, all(t, mem.Tracks()), 1)
	assert.Len(t, all(t, mem.Items()), 2)
}

func TestUploadProgram_ReusesExistingRecords(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	track := &program.Track{ConferenceID: testConf, Name: "AI"}
	room := &program.Room{ConferenceID: testConf, Name: "Hall A"}
	require.NoError(t, mem.Tracks().SaveAll(ctx, []*program.Track{track}))
	require.NoError(t, mem.Rooms().SaveAll(ctx, []*program.Room{room}))

	res := mustUpload(t, e, tableRequest(`AI,Online | Hall A,S,Intro,,,2024-06-01 09:00,2024-06-01 10:00`))
	assert.Equal(t, 1, res.Summary.Reused[program.KindTrack])
	assert.Equal(t, 1, res.Summary.Reused[program.KindRoom])

	sessions := all(t, mem.Sessions())
	require.Len(t, sessions, 1)
	assert.Equal(t, room.ID, sessions[0].RoomID)
	assert.Equal(t, track.ID, sessions[0].TrackID)

	tracks := all(t, mem.Tracks())
	require.Len(t, tracks, 1)
	assert.Equal(t, "AI", tracks[0].DisplayName, "missing display name is filled in")
}

func TestUploadProgram_ConferencesAreIsolated(t *testing.T) {
	e, mem := newTestEngine()
	mustUpload(t, e, tableRequest(`AI,,,Intro,,,,`))

	other := tableRequest(`AI,,,Intro,,,,`)
	other.ConferenceID = "conf-2"
	mustUpload(t, e, other)

	assert.Len(t, all(t, mem.Tracks()), 1)
	tracks, err := mem.Tracks().FindAll(context.Background(), "conf-2")
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Contains(t, tracks[0].ACL.WriteRoles, "conf-2-admin")
}

func TestUploadProgram_UnscheduledItem(t *testing.T) {
	e, mem := newTestEngine()
	mustUpload(t, e, tableRequest(`AI,,,Poster,Bob,,,`))

	assert.Empty(t, all(t, mem.Sessions()))
	events := all(t, mem.Events())
	require.Len(t, events, 1)
	assert.False(t, events[0].Scheduled())
	assert.Nil(t, events[0].EndTime)
	assert.Equal(t, uuid.Nil, events[0].SessionID)

	items := all(t, mem.Items())
	require.Len(t, items, 1)
	assert.Equal(t, []uuid.UUID{events[0].ID}, items[0].Events)
}

func TestUploadProgram_EventDedupWithinUpload(t *testing.T) {
	e, mem := newTestEngine()
	res := mustUpload(t, e, tableRequest(
		`AI,,,Poster,,,,`,
		`AI,,,Poster,,,,`,
		`AI,Hall A,S,Poster,,,2024-06-01 09:00,2024-06-01 10:00`,
		`AI,Hall A,S,Poster,,,2024-06-01 09:00,2024-06-01 10:00`,
	))
	events := all(t, mem.Events())
	assert.Len(t, events, 2, "one unscheduled and one scheduled listing")
	assert.Equal(t, 2, res.Summary.Created[program.KindEvent])

	items := all(t, mem.Items())
	require.Len(t, items, 1)
	assert.Len(t, items[0].Events, 2)
}

func TestUploadProgram_AuthorBackLinks(t *testing.T) {
	e, mem := newTestEngine()
	mustUpload(t, e, tableRequest(
		`AI,,,Intro,"P1, P2",,,`,
		`AI,,,Outro,P2,,,`,
	))
	items := all(t, mem.Items())
	require.Len(t, items, 2)
	byName := make(map[string]program.Person)
	for _, p := range all(t, mem.Persons()) {
		byName[p.Name] = p
	}
	require.Len(t, byName, 2)

	assert.Equal(t, []uuid.UUID{byName["P1"].ID, byName["P2"].ID}, items[0].Authors)
	assert.Equal(t, []uuid.UUID{items[0].ID}, byName["P1"].ProgramItems)
	assert.ElementsMatch(t, []uuid.UUID{items[0].ID, items[1].ID}, byName["P2"].ProgramItems)
}

func TestUploadProgram_AuthorsOnlyAdded(t *testing.T) {
	e, mem := newTestEngine()
	mustUpload(t, e, tableRequest(`AI,,,Intro,P1,,,`))
	mustUpload(t, e, tableRequest(`AI,,,Intro,P2,,,`))

	items := all(t, mem.Items())
	require.Len(t, items, 1)
	assert.Len(t, items[0].Authors, 2)
	for _, p := range all(t, mem.Persons()) {
		assert.Equal(t, []uuid.UUID{items[0].ID}, p.ProgramItems)
	}
}

func TestUploadProgram_ConsistencyErrorsWriteNothing(t *testing.T) {
	tests := []struct {
		name string
		rows []string
	}{
		{"session room conflict", []string{
			`AI,Hall A,Keynotes,Intro,,,2024-06-01 09:00,2024-06-01 10:00`,
			`AI,Hall B,Keynotes,Outro,,,2024-06-01 10:00,2024-06-01 11:00`,
		}},
		{"timed event without session", []string{
			`AI,Hall A,,Intro,,,2024-06-01 09:00,2024-06-01 10:00`,
		}},
		{"end before start", []string{
			`AI,Hall A,S,Intro,,,2024-06-01 10:00,2024-06-01 09:00`,
		}},
		{"session without scheduled events", []string{
			`AI,Hall A,Empty,Intro,,,,`,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, mem := newTestEngine()
			_, err := e.UploadProgram(context.Background(), tableRequest(tt.rows...))
			var ce *ConsistencyError
			require.ErrorAs(t, err, &ce)
			for _, k := range program.Kinds {
				assert.Zero(t, mem.SaveCalls(k), "%s saved", k)
			}
		})
	}
}

func TestUploadProgram_SessionWithoutEventsNamed(t *testing.T) {
	e, _ := newTestEngine()
	_, err := e.UploadProgram(context.Background(), tableRequest(`AI,Hall A,Lonely,Intro,,,,`))
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"Lonely"}, ce.Subjects)
}

func TestUploadProgram_MarkupSessionBoundedBySessionSlotOnly(t *testing.T) {
	doc := `<event><subevent><title>Session: Break</title><room>Hall A</room>
  <timeslot><title>Session: Break</title><date>2024-06-01</date><start_time>12:00</start_time><end_time>13:00</end_time></timeslot>
</subevent></event>`
	e, mem := newTestEngine()
	mustUpload(t, e, Request{Content: []byte(doc), ConferenceID: testConf, Timezone: "UTC", Format: "markup"})

	sessions := all(t, mem.Sessions())
	require.Len(t, sessions, 1)
	assert.Equal(t, "Break", sessions[0].Title)
	assert.True(t, sessions[0].StartTime.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))
	assert.Empty(t, sessions[0].Events)
	assert.Empty(t, all(t, mem.Events()))
}

func TestUploadProgram_PersistenceFailureKeepsEarlierStages(t *testing.T) {
	e, mem := newTestEngine()
	boom := errors.New("connection reset")
	mem.FailSaves(program.KindSession, boom)

	req := tableRequest(`AI,Hall A,Keynotes,Intro,Alice,,2024-06-01 09:00,2024-06-01 10:00`)
	_, err := e.UploadProgram(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, program.KindSession, pe.Kind)
	assert.Equal(t, "save", pe.Op)
	assert.Equal(t, 1, pe.Records)

	got := counts(t, mem)
	assert.Equal(t, 1, got[program.KindRoom])
	assert.Equal(t, 1, got[program.KindTrack])
	assert.Equal(t, 1, got[program.KindPerson])
	assert.Equal(t, 1, got[program.KindItem])
	assert.Zero(t, got[program.KindSession])
	assert.Zero(t, got[program.KindEvent])

	// Re-running completes the upload without duplicating what was saved.
	mem.FailSaves(program.KindSession, nil)
	res := mustUpload(t, e, req)
	assert.Equal(t, 1, res.Summary.Reused[program.KindItem])
	assert.Equal(t, 1, res.Summary.Created[program.KindSession])
	for k, n := range counts(t, mem) {
		assert.Equal(t, 1, n, "%s", k)
	}
}

func TestUploadProgram_ConfKeyBackfillCoversWholeConference(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	stray := &program.Item{ConferenceID: testConf, Title: "Stray"}
	keyed := &program.Item{ConferenceID: testConf, Title: "Keyed", ConfKey: "track/keyed"}
	require.NoError(t, mem.Items().SaveAll(ctx, []*program.Item{stray, keyed}))

	res := mustUpload(t, e, tableRequest(`AI,,,Intro,,,,`))
	assert.Equal(t, 2, res.Summary.ConfKeysBackfilled)

	for _, it := range all(t, mem.Items()) {
		assert.NotEmpty(t, it.ConfKey, it.Title)
		switch it.Title {
		case "Stray":
			assert.Equal(t, it.ID.String(), it.ConfKey)
		case "Keyed":
			assert.Equal(t, "track/keyed", it.ConfKey)
		}
	}
}

func TestUploadProgram_ResyncsSessionEvents(t *testing.T) {
	e, mem := newTestEngine()
	ctx := context.Background()
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	stale := &program.Session{
		ConferenceID: testConf,
		Title:        "Keynotes",
		StartTime:    start,
		EndTime:      start.Add(time.Hour),
		Events:       []uuid.UUID{uuid.New()},
	}
	require.NoError(t, mem.Sessions().SaveAll(ctx, []*program.Session{stale}))

	res := mustUpload(t, e, tableRequest(`AI,Hall A,Keynotes,Intro,,,2024-06-01 09:00,2024-06-01 10:00`))
	assert.Equal(t, 1, res.Summary.SessionsResynced)

	events := all(t, mem.Events())
	require.Len(t, events, 1)
	sessions := all(t, mem.Sessions())
	require.Len(t, sessions, 1)
	assert.Equal(t, stale.ID, sessions[0].ID)
	assert.Equal(t, []uuid.UUID{events[0].ID}, sessions[0].Events)
}

func TestUploadProgram_EventFollowsSessionMove(t *testing.T) {
	e, mem := newTestEngine()
	mustUpload(t, e, tableRequest(`AI,Hall A,Keynotes,Intro,,,2024-06-01 09:00,2024-06-01 10:00`))
	before := all(t, mem.Events())
	require.Len(t, before, 1)

	res := mustUpload(t, e, tableRequest(`ML,Hall A,Morning,Intro,,,2024-06-01 09:00,2024-06-01 10:00`))
	assert.Equal(t, 1, res.Summary.Reused[program.KindEvent])

	events := all(t, mem.Events())
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, before[0].ID, ev.ID)

	byTitle := make(map[string]program.Session)
	for _, s := range all(t, mem.Sessions()) {
		byTitle[s.Title] = s
	}
	require.Contains(t, byTitle, "Morning")
	morning := byTitle["Morning"]
	assert.Equal(t, morning.ID, ev.SessionID)
	assert.Equal(t, []uuid.UUID{ev.ID}, morning.Events)
	assert.Empty(t, byTitle["Keynotes"].Events)

	var ml program.Track
	for _, tr := range all(t, mem.Tracks()) {
		if tr.Name == "ML" {
			ml = tr
		}
	}
	assert.Equal(t, ml.ID, ev.TrackID)
}

func TestUploadProgram_UnknownFormat(t *testing.T) {
	e, mem := newTestEngine()
	req := tableRequest(`AI,,,Intro,,,,`)
	req.Format = "spreadsheet"

	_, err := e.UploadProgram(context.Background(), req)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "spreadsheet", fe.Format)
	for _, k := range program.Kinds {
		assert.Zero(t, mem.SaveCalls(k))
	}
}

func TestUploadProgram_InvalidRequest(t *testing.T) {
	e, _ := newTestEngine()

	req := tableRequest(`AI,,,Intro,,,,`)
	req.Timezone = "Nowhere/Special"
	_, err := e.UploadProgram(context.Background(), req)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)

	req = tableRequest(`AI,,,Intro,,,,`)
	req.ConferenceID = " "
	_, err = e.UploadProgram(context.Background(), req)
	assert.Error(t, err)
}

func TestPreviewProgram(t *testing.T) {
	e, mem := newTestEngine()
	mustUpload(t, e, tableRequest(`AI,,,Intro,,,,`))
	before := counts(t, mem)

	res, err := e.PreviewProgram(context.Background(), tableRequest(
		`AI,,,Intro,,,,`,
		`ML,Hall A,S,Talk,Ada,,2024-06-01 09:00,2024-06-01 10:00`,
	))
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 1, res.Summary.Reused[program.KindTrack])
	assert.Equal(t, 1, res.Summary.Created[program.KindTrack])
	assert.Equal(t, 1, res.Summary.Created[program.KindSession])

	assert.Equal(t, before, counts(t, mem), "preview must not persist")
}

func TestSummaryCounts(t *testing.T) {
	s := newSummary()
	s.count(program.KindItem, true)
	s.count(program.KindItem, false)
	s.ConfKeysBackfilled = 3

	c := s.Counts()
	assert.Equal(t, 1, c["item_created"])
	assert.Equal(t, 1, c["item_reused"])
	assert.Equal(t, 0, c["room_created"])
	assert.Equal(t, 3, c["confkeys_backfilled"])
	assert.Contains(t, s.String(), "item 1 new/1 reused")
}
