package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const markupDoc = `<?xml version="1.0" encoding="UTF-8"?>
<event>
  <subevent>
    <subevent_id>s1</subevent_id>
    <title>Session: Opening</title>
    <description>Welcome</description>
    <room>Online | Hall A</room>
    <tracks><track>Main</track></tracks>
    <timeslot>
      <title>Session: Opening</title>
      <date>2024-06-01</date>
      <start_time>09:00</start_time>
      <end_time>10:30</end_time>
    </timeslot>
    <timeslot>
      <title>Keynote</title>
      <description>Fish &amp;amp; Chips</description>
      <date>2024-06-01</date>
      <start_time>09:15</start_time>
      <end_time>10:00</end_time>
      <tracks><track>Keynotes</track></tracks>
      <persons>
        <person><first_name>Ada</first_name><last_name>Lovelace</last_name><affiliation>Analytical</affiliation></person>
        <person><first_name>Alan</first_name><last_name>Turing</last_name></person>
      </persons>
    </timeslot>
    <timeslot>
      <title>Panel</title>
      <date>2024-06-01</date>
      <start_time>10:00</start_time>
      <end_time>10:30</end_time>
      <persons>
        <person><first_name>Ada</first_name><last_name>Lovelace</last_name></person>
      </persons>
    </timeslot>
  </subevent>
  <subevent>
    <subevent_id>s2</subevent_id>
    <title>Empty</title>
  </subevent>
</event>`

func TestMarkupParser(t *testing.T) {
	g, err := MarkupParser{}.Parse([]byte(markupDoc), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, FormatMarkup, g.Format)
	assert.Equal(t, KeyByName, g.Scheme)

	require.Len(t, g.Sessions, 1, "subevents without timeslots are skipped")
	ses := g.Sessions[0]
	assert.Equal(t, "Opening", ses.Title)
	assert.Equal(t, "Welcome", ses.Abstract)
	assert.Equal(t, "Hall A", g.Rooms[ses.Room].Name)
	assert.Equal(t, "Main", g.Tracks[ses.Track].Name)
	assert.True(t, ses.Start.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)))
	assert.True(t, ses.End.Equal(time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)))

	require.Len(t, g.Items, 2, "session pseudo-slots are not items")
	keynote := g.Items[0]
	assert.Equal(t, "Keynote", keynote.Title)
	assert.Equal(t, "Fish & Chips", keynote.Abstract)
	assert.Equal(t, "Keynotes", g.Tracks[keynote.Track].Name)
	require.Len(t, keynote.Authors, 2)
	assert.Equal(t, "Ada Lovelace", g.Persons[keynote.Authors[0]].Name)
	assert.Equal(t, "Analytical", g.Persons[keynote.Authors[0]].Affiliation)
	assert.Equal(t, "Alan Turing", g.Persons[keynote.Authors[1]].Name)

	panel := g.Items[1]
	assert.Equal(t, "Main", g.Tracks[panel.Track].Name, "slot without tracks falls back to the session track")
	assert.Equal(t, keynote.Authors[0], panel.Authors[0])
	assert.Len(t, g.Persons, 2)

	require.Len(t, g.Events, 2)
	for _, ev := range g.Events {
		assert.Equal(t, SessionRef(0), ev.Session)
		require.NotNil(t, ev.Start)
	}
	assert.Equal(t, []ItemRef{0, 1}, ses.Items)
}

func TestMarkupParser_SessionRangeFromEvents(t *testing.T) {
	doc := `<event><subevent>
  <title>Afternoon</title><room>Hall B</room>
  <timeslot><title>Talk 1</title><date>2024-06-01</date><start_time>13:00</start_time><end_time>13:30</end_time></timeslot>
  <timeslot><title>Talk 2</title><date>2024-06-01</date><start_time>13:30</start_time><end_time>14:15</end_time></timeslot>
</subevent></event>`
	g, err := MarkupParser{}.Parse([]byte(doc), time.UTC)
	require.NoError(t, err)
	require.Len(t, g.Sessions, 1)
	assert.True(t, g.Sessions[0].Bounded)
	assert.True(t, g.Sessions[0].Start.Equal(time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)))
	assert.True(t, g.Sessions[0].End.Equal(time.Date(2024, 6, 1, 14, 15, 0, 0, time.UTC)))
}

func TestMarkupParser_DuplicateTitleFirstWins(t *testing.T) {
	doc := `<event><subevent>
  <title>S</title><room>Hall B</room>
  <timeslot><title>Talk</title><date>2024-06-01</date><start_time>13:00</start_time><end_time>13:30</end_time></timeslot>
  <timeslot><title>Talk</title><description>Later abstract</description><date>2024-06-01</date><start_time>14:00</start_time><end_time>14:30</end_time>
    <persons><person><first_name>Ada</first_name><last_name>Lovelace</last_name></person></persons></timeslot>
</subevent></event>`
	g, err := MarkupParser{}.Parse([]byte(doc), time.UTC)
	require.NoError(t, err)
	require.Len(t, g.Items, 1)
	assert.Empty(t, g.Items[0].Abstract)
	assert.Empty(t, g.Items[0].Authors)
	assert.Len(t, g.Events, 2, "each slot is still listed")
}

func TestMarkupParser_SessionInTwoRooms(t *testing.T) {
	doc := `<event>
<subevent><title>S</title><room>Hall A</room>
  <timeslot><title>T1</title><date>2024-06-01</date><start_time>09:00</start_time><end_time>10:00</end_time></timeslot></subevent>
<subevent><title>S</title><room>Hall B</room>
  <timeslot><title>T2</title><date>2024-06-01</date><start_time>10:00</start_time><end_time>11:00</end_time></timeslot></subevent>
</event>`
	_, err := MarkupParser{}.Parse([]byte(doc), time.UTC)
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Subjects, "Hall A")
	assert.Contains(t, ce.Subjects, "Hall B")
}

func TestMarkupParser_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not xml", `not xml at all`},
		{"bad slot time", `<event><subevent><title>S</title>
  <timeslot><title>T</title><date>2024-06-01</date><start_time>noon</start_time><end_time>13:00</end_time></timeslot></subevent></event>`},
		{"missing slot title", `<event><subevent><title>S</title>
  <timeslot><date>2024-06-01</date><start_time>12:00</start_time><end_time>13:00</end_time></timeslot></subevent></event>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarkupParser{}.Parse([]byte(tt.doc), time.UTC)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, FormatMarkup, pe.Format)
		})
	}
}

func TestMarkupParser_SlotEndsBeforeStart(t *testing.T) {
	doc := `<event><subevent><title>S</title>
  <timeslot><title>T</title><date>2024-06-01</date><start_time>13:00</start_time><end_time>12:00</end_time></timeslot></subevent></event>`
	_, err := MarkupParser{}.Parse([]byte(doc), time.UTC)
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
}

func TestUnescapeAmp(t *testing.T) {
	assert.Equal(t, "R&D", unescapeAmp("R&amp;D"))
	assert.Equal(t, "R&D", unescapeAmp("R&amp;amp;D"))
	assert.Equal(t, "plain", unescapeAmp("plain"))
}
