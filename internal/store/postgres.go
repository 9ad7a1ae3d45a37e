package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonMunkholm/ProgramUpload/internal/program"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgTable describes how one record kind maps onto its table.
type pgTable[T any] struct {
	kind    program.Kind
	table   string
	columns string
	upsert  string
	scan    func(row pgx.Row) (T, error)
	args    func(rec *T) ([]any, error)
}

type pgCollection[T any, P Record[T]] struct {
	pool *pgxpool.Pool
	def  pgTable[T]
}

func (c *pgCollection[T, P]) FindAll(ctx context.Context, conferenceID string) ([]T, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE conference_id = $1 ORDER BY created_at, id LIMIT %d",
		c.def.columns, c.def.table, FindLimit,
	)
	rows, err := c.pool.Query(ctx, query, conferenceID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.def.table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		rec, err := c.def.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.def.kind, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", c.def.table, err)
	}
	return out, nil
}

// SaveAll upserts every record in one transaction using a single batch.
func (c *pgCollection[T, P]) SaveAll(ctx context.Context, records []*T) error {
	if len(records) == 0 {
		return nil
	}
	created := assignIDs[T, P](records)

	batch := &pgx.Batch{}
	for _, r := range records {
		args, err := c.def.args(r)
		if err != nil {
			unassignIDs[T, P](created)
			return fmt.Errorf("encode %s %s: %w", c.def.kind, P(r).GetID(), err)
		}
		batch.Queue(c.def.upsert, args...)
	}

	err := pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("upsert %s %s: %w", c.def.kind, P(records[i]).GetID(), err)
			}
		}
		return br.Close()
	})
	if err != nil {
		unassignIDs[T, P](created)
		return err
	}
	return nil
}

func (c *pgCollection[T, P]) DeleteAll(ctx context.Context, conferenceID string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE conference_id = $1 AND id = ANY($2::uuid[])", c.def.table)
	if _, err := c.pool.Exec(ctx, query, conferenceID, uuidStrings(ids)); err != nil {
		return fmt.Errorf("delete %s: %w", c.def.table, err)
	}
	return nil
}

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool     *pgxpool.Pool
	rooms    *pgCollection[program.Room, *program.Room]
	tracks   *pgCollection[program.Track, *program.Track]
	persons  *pgCollection[program.Person, *program.Person]
	items    *pgCollection[program.Item, *program.Item]
	sessions *pgCollection[program.Session, *program.Session]
	events   *pgCollection[program.Event, *program.Event]
	uploads  *pgUploadLog
}

// NewPostgres returns a Store using pool. The schema must already exist; see
// Migrate.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool:     pool,
		rooms:    &pgCollection[program.Room, *program.Room]{pool: pool, def: roomTable},
		tracks:   &pgCollection[program.Track, *program.Track]{pool: pool, def: trackTable},
		persons:  &pgCollection[program.Person, *program.Person]{pool: pool, def: personTable},
		items:    &pgCollection[program.Item, *program.Item]{pool: pool, def: itemTable},
		sessions: &pgCollection[program.Session, *program.Session]{pool: pool, def: sessionTable},
		events:   &pgCollection[program.Event, *program.Event]{pool: pool, def: eventTable},
		uploads:  &pgUploadLog{pool: pool},
	}
}

func (s *Postgres) Rooms() Collection[program.Room]       { return s.rooms }
func (s *Postgres) Tracks() Collection[program.Track]     { return s.tracks }
func (s *Postgres) Persons() Collection[program.Person]   { return s.persons }
func (s *Postgres) Items() Collection[program.Item]       { return s.items }
func (s *Postgres) Sessions() Collection[program.Session] { return s.sessions }
func (s *Postgres) Events() Collection[program.Event]     { return s.events }
func (s *Postgres) Uploads() UploadLog                    { return s.uploads }

// Ping checks database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var roomTable = pgTable[program.Room]{
	kind:    program.KindRoom,
	table:   "program_rooms",
	columns: "id, conference_id, name, location, is_event_focused_room, stream, acl",
	upsert: `INSERT INTO program_rooms (id, conference_id, name, location, is_event_focused_room, stream, acl)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	location = EXCLUDED.location,
	is_event_focused_room = EXCLUDED.is_event_focused_room,
	stream = EXCLUDED.stream,
	acl = EXCLUDED.acl,
	updated_at = now()`,
	scan: func(row pgx.Row) (program.Room, error) {
		var (
			r           program.Room
			id          pgtype.UUID
			stream, acl []byte
		)
		if err := row.Scan(&id, &r.ConferenceID, &r.Name, &r.Location, &r.IsEventFocusedRoom, &stream, &acl); err != nil {
			return r, err
		}
		r.ID = fromPgUUID(id)
		if err := decodeJSON(stream, &r.Stream); err != nil {
			return r, err
		}
		return r, decodeJSON(acl, &r.ACL)
	},
	args: func(r *program.Room) ([]any, error) {
		stream, err := json.Marshal(r.Stream)
		if err != nil {
			return nil, err
		}
		acl, err := json.Marshal(r.ACL)
		if err != nil {
			return nil, err
		}
		return []any{toPgUUID(r.ID), r.ConferenceID, r.Name, r.Location, r.IsEventFocusedRoom, stream, acl}, nil
	},
}

var trackTable = pgTable[program.Track]{
	kind:    program.KindTrack,
	table:   "program_tracks",
	columns: "id, conference_id, name, display_name, show_as_events, per_program_item_video, per_program_item_chat, acl",
	upsert: `INSERT INTO program_tracks (id, conference_id, name, display_name, show_as_events, per_program_item_video, per_program_item_chat, acl)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	display_name = EXCLUDED.display_name,
	show_as_events = EXCLUDED.show_as_events,
	per_program_item_video = EXCLUDED.per_program_item_video,
	per_program_item_chat = EXCLUDED.per_program_item_chat,
	acl = EXCLUDED.acl,
	updated_at = now()`,
	scan: func(row pgx.Row) (program.Track, error) {
		var (
			t   program.Track
			id  pgtype.UUID
			acl []byte
		)
		if err := row.Scan(&id, &t.ConferenceID, &t.Name, &t.DisplayName, &t.ShowAsEvents,
			&t.PerProgramItemVideo, &t.PerProgramItemChat, &acl); err != nil {
			return t, err
		}
		t.ID = fromPgUUID(id)
		return t, decodeJSON(acl, &t.ACL)
	},
	args: func(t *program.Track) ([]any, error) {
		acl, err := json.Marshal(t.ACL)
		if err != nil {
			return nil, err
		}
		return []any{toPgUUID(t.ID), t.ConferenceID, t.Name, t.DisplayName, t.ShowAsEvents,
			t.PerProgramItemVideo, t.PerProgramItemChat, acl}, nil
	},
}

var personTable = pgTable[program.Person]{
	kind:    program.KindPerson,
	table:   "program_persons",
	columns: "id, conference_id, name, affiliation, bio, conf_key, url, photo_url, program_items::text[], acl",
	upsert: `INSERT INTO program_persons (id, conference_id, name, affiliation, bio, conf_key, url, photo_url, program_items, acl)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::uuid[], $10)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	affiliation = EXCLUDED.affiliation,
	bio = EXCLUDED.bio,
	conf_key = EXCLUDED.conf_key,
	url = EXCLUDED.url,
	photo_url = EXCLUDED.photo_url,
	program_items = EXCLUDED.program_items,
	acl = EXCLUDED.acl,
	updated_at = now()`,
	scan: func(row pgx.Row) (program.Person, error) {
		var (
			p     program.Person
			id    pgtype.UUID
			items []string
			acl   []byte
		)
		if err := row.Scan(&id, &p.ConferenceID, &p.Name, &p.Affiliation, &p.Bio, &p.ConfKey,
			&p.URL, &p.PhotoURL, &items, &acl); err != nil {
			return p, err
		}
		p.ID = fromPgUUID(id)
		var err error
		if p.ProgramItems, err = parseUUIDs(items); err != nil {
			return p, err
		}
		return p, decodeJSON(acl, &p.ACL)
	},
	args: func(p *program.Person) ([]any, error) {
		acl, err := json.Marshal(p.ACL)
		if err != nil {
			return nil, err
		}
		return []any{toPgUUID(p.ID), p.ConferenceID, p.Name, p.Affiliation, p.Bio, p.ConfKey,
			p.URL, p.PhotoURL, uuidStrings(p.ProgramItems), acl}, nil
	},
}

var itemTable = pgTable[program.Item]{
	kind:  program.KindItem,
	table: "program_items",
	columns: "id, conference_id, title, abstract, type, url, conf_key, affiliations, authors::text[], " +
		"track_id, session_id, events::text[], acl",
	upsert: `INSERT INTO program_items (id, conference_id, title, abstract, type, url, conf_key, affiliations, authors, track_id, session_id, events, acl)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::uuid[], $10, $11, $12::uuid[], $13)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	abstract = EXCLUDED.abstract,
	type = EXCLUDED.type,
	url = EXCLUDED.url,
	conf_key = EXCLUDED.conf_key,
	affiliations = EXCLUDED.affiliations,
	authors = EXCLUDED.authors,
	track_id = EXCLUDED.track_id,
	session_id = EXCLUDED.session_id,
	events = EXCLUDED.events,
	acl = EXCLUDED.acl,
	updated_at = now()`,
	scan: func(row pgx.Row) (program.Item, error) {
		var (
			it                     program.Item
			id, trackID, sessionID pgtype.UUID
			authors, events        []string
			acl                    []byte
		)
		if err := row.Scan(&id, &it.ConferenceID, &it.Title, &it.Abstract, &it.Type, &it.URL, &it.ConfKey,
			&it.Affiliations, &authors, &trackID, &sessionID, &events, &acl); err != nil {
			return it, err
		}
		it.ID = fromPgUUID(id)
		it.TrackID = fromPgUUID(trackID)
		it.SessionID = fromPgUUID(sessionID)
		var err error
		if it.Authors, err = parseUUIDs(authors); err != nil {
			return it, err
		}
		if it.Events, err = parseUUIDs(events); err != nil {
			return it, err
		}
		return it, decodeJSON(acl, &it.ACL)
	},
	args: func(it *program.Item) ([]any, error) {
		acl, err := json.Marshal(it.ACL)
		if err != nil {
			return nil, err
		}
		affiliations := it.Affiliations
		if affiliations == nil {
			affiliations = []string{}
		}
		return []any{toPgUUID(it.ID), it.ConferenceID, it.Title, it.Abstract, it.Type, it.URL, it.ConfKey,
			affiliations, uuidStrings(it.Authors), toPgUUID(it.TrackID), toPgUUID(it.SessionID),
			uuidStrings(it.Events), acl}, nil
	},
}

var sessionTable = pgTable[program.Session]{
	kind:  program.KindSession,
	table: "program_sessions",
	columns: "id, conference_id, title, abstract, type, location, conf_key, start_time, end_time, " +
		"room_id, track_id, items::text[], events::text[], acl",
	upsert: `INSERT INTO program_sessions (id, conference_id, title, abstract, type, location, conf_key, start_time, end_time, room_id, track_id, items, events, acl)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::uuid[], $13::uuid[], $14)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	abstract = EXCLUDED.abstract,
	type = EXCLUDED.type,
	location = EXCLUDED.location,
	conf_key = EXCLUDED.conf_key,
	start_time = EXCLUDED.start_time,
	end_time = EXCLUDED.end_time,
	room_id = EXCLUDED.room_id,
	track_id = EXCLUDED.track_id,
	items = EXCLUDED.items,
	events = EXCLUDED.events,
	acl = EXCLUDED.acl,
	updated_at = now()`,
	scan: func(row pgx.Row) (program.Session, error) {
		var (
			s                   program.Session
			id, roomID, trackID pgtype.UUID
			items, events       []string
			acl                 []byte
		)
		if err := row.Scan(&id, &s.ConferenceID, &s.Title, &s.Abstract, &s.Type, &s.Location, &s.ConfKey,
			&s.StartTime, &s.EndTime, &roomID, &trackID, &items, &events, &acl); err != nil {
			return s, err
		}
		s.ID = fromPgUUID(id)
		s.RoomID = fromPgUUID(roomID)
		s.TrackID = fromPgUUID(trackID)
		var err error
		if s.Items, err = parseUUIDs(items); err != nil {
			return s, err
		}
		if s.Events, err = parseUUIDs(events); err != nil {
			return s, err
		}
		return s, decodeJSON(acl, &s.ACL)
	},
	args: func(s *program.Session) ([]any, error) {
		acl, err := json.Marshal(s.ACL)
		if err != nil {
			return nil, err
		}
		return []any{toPgUUID(s.ID), s.ConferenceID, s.Title, s.Abstract, s.Type, s.Location, s.ConfKey,
			s.StartTime, s.EndTime, toPgUUID(s.RoomID), toPgUUID(s.TrackID),
			uuidStrings(s.Items), uuidStrings(s.Events), acl}, nil
	},
}

var eventTable = pgTable[program.Event]{
	kind:    program.KindEvent,
	table:   "program_events",
	columns: "id, conference_id, item_id, session_id, track_id, start_time, end_time, acl",
	upsert: `INSERT INTO program_events (id, conference_id, item_id, session_id, track_id, start_time, end_time, acl)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	item_id = EXCLUDED.item_id,
	session_id = EXCLUDED.session_id,
	track_id = EXCLUDED.track_id,
	start_time = EXCLUDED.start_time,
	end_time = EXCLUDED.end_time,
	acl = EXCLUDED.acl,
	updated_at = now()`,
	scan: func(row pgx.Row) (program.Event, error) {
		var (
			e                              program.Event
			id, itemID, sessionID, trackID pgtype.UUID
			start, end                     pgtype.Timestamptz
			acl                            []byte
		)
		if err := row.Scan(&id, &e.ConferenceID, &itemID, &sessionID, &trackID, &start, &end, &acl); err != nil {
			return e, err
		}
		e.ID = fromPgUUID(id)
		e.ItemID = fromPgUUID(itemID)
		e.SessionID = fromPgUUID(sessionID)
		e.TrackID = fromPgUUID(trackID)
		e.StartTime = fromPgTime(start)
		e.EndTime = fromPgTime(end)
		return e, decodeJSON(acl, &e.ACL)
	},
	args: func(e *program.Event) ([]any, error) {
		acl, err := json.Marshal(e.ACL)
		if err != nil {
			return nil, err
		}
		return []any{toPgUUID(e.ID), e.ConferenceID, toPgUUID(e.ItemID), toPgUUID(e.SessionID),
			toPgUUID(e.TrackID), toPgTime(e.StartTime), toPgTime(e.EndTime), acl}, nil
	},
}

type pgUploadLog struct {
	pool *pgxpool.Pool
}

func (l *pgUploadLog) Record(ctx context.Context, rec UploadRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("encode upload summary: %w", err)
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO program_uploads
	(id, conference_id, format, status, dry_run, error, summary, started_at, duration_ms, client_ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		toPgUUID(rec.ID), rec.ConferenceID, rec.Format, rec.Status, rec.DryRun, rec.Error,
		summary, rec.StartedAt, rec.Duration.Milliseconds(), rec.ClientIP, rec.UserAgent)
	if err != nil {
		return fmt.Errorf("insert upload record: %w", err)
	}
	return nil
}

func (l *pgUploadLog) List(ctx context.Context, conferenceID string, limit int) ([]UploadRecord, error) {
	if limit <= 0 || limit > FindLimit {
		limit = FindLimit
	}
	rows, err := l.pool.Query(ctx, `SELECT id, conference_id, format, status, dry_run, error, summary, started_at, duration_ms,
	client_ip, user_agent
FROM program_uploads WHERE conference_id = $1 ORDER BY started_at DESC LIMIT $2`, conferenceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	var out []UploadRecord
	for rows.Next() {
		var (
			rec     UploadRecord
			id      pgtype.UUID
			summary []byte
			ms      int64
		)
		if err := rows.Scan(&id, &rec.ConferenceID, &rec.Format, &rec.Status, &rec.DryRun, &rec.Error,
			&summary, &rec.StartedAt, &ms, &rec.ClientIP, &rec.UserAgent); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		rec.ID = fromPgUUID(id)
		rec.Duration = time.Duration(ms) * time.Millisecond
		if err := decodeJSON(summary, &rec.Summary); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func toPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

func fromPgUUID(v pgtype.UUID) uuid.UUID {
	if !v.Valid {
		return uuid.Nil
	}
	return uuid.UUID(v.Bytes)
}

func toPgTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func fromPgTime(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, len(values))
	for i, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("parse uuid %q: %w", v, err)
		}
		out[i] = id
	}
	return out, nil
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
