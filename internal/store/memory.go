package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/JonMunkholm/ProgramUpload/internal/program"
	"github.com/google/uuid"
)

// memCollection keeps records in insertion order.
type memCollection[T any, P Record[T]] struct {
	mu      sync.RWMutex
	kind    program.Kind
	records map[uuid.UUID]T
	order   []uuid.UUID

	saveErr error
	saves   int
}

func newMemCollection[T any, P Record[T]](kind program.Kind) *memCollection[T, P] {
	return &memCollection[T, P]{kind: kind, records: make(map[uuid.UUID]T)}
}

func (c *memCollection[T, P]) FindAll(ctx context.Context, conferenceID string) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []T
	for _, id := range c.order {
		rec := c.records[id]
		p := P(&rec)
		if p.Conference() != conferenceID {
			continue
		}
		out = append(out, p.Clone())
		if len(out) == FindLimit {
			break
		}
	}
	return out, nil
}

func (c *memCollection[T, P]) SaveAll(ctx context.Context, records []*T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.saves++
	if c.saveErr != nil {
		return c.saveErr
	}
	created := assignIDs[T, P](records)
	for _, r := range records {
		p := P(r)
		if p.Conference() == "" {
			unassignIDs[T, P](created)
			return fmt.Errorf("save %s %s: conference is required", c.kind, p.GetID())
		}
	}
	for _, r := range records {
		p := P(r)
		id := p.GetID()
		if _, exists := c.records[id]; !exists {
			c.order = append(c.order, id)
		}
		c.records[id] = p.Clone()
	}
	return nil
}

func (c *memCollection[T, P]) DeleteAll(ctx context.Context, conferenceID string, ids []uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		rec, ok := c.records[id]
		if !ok || P(&rec).Conference() != conferenceID {
			continue
		}
		delete(c.records, id)
		c.order = slices.DeleteFunc(c.order, func(v uuid.UUID) bool { return v == id })
	}
	return nil
}

func (c *memCollection[T, P]) failSaves(err error) {
	c.mu.Lock()
	c.saveErr = err
	c.mu.Unlock()
}

func (c *memCollection[T, P]) saveCalls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saves
}

type memUploadLog struct {
	mu      sync.RWMutex
	records []UploadRecord
}

func (l *memUploadLog) Record(_ context.Context, rec UploadRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	l.records = append(l.records, rec)
	return nil
}

func (l *memUploadLog) List(_ context.Context, conferenceID string, limit int) ([]UploadRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []UploadRecord
	for _, rec := range l.records {
		if rec.ConferenceID == conferenceID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Memory is an in-process Store.
type Memory struct {
	rooms    *memCollection[program.Room, *program.Room]
	tracks   *memCollection[program.Track, *program.Track]
	persons  *memCollection[program.Person, *program.Person]
	items    *memCollection[program.Item, *program.Item]
	sessions *memCollection[program.Session, *program.Session]
	events   *memCollection[program.Event, *program.Event]
	uploads  *memUploadLog
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rooms:    newMemCollection[program.Room, *program.Room](program.KindRoom),
		tracks:   newMemCollection[program.Track, *program.Track](program.KindTrack),
		persons:  newMemCollection[program.Person, *program.Person](program.KindPerson),
		items:    newMemCollection[program.Item, *program.Item](program.KindItem),
		sessions: newMemCollection[program.Session, *program.Session](program.KindSession),
		events:   newMemCollection[program.Event, *program.Event](program.KindEvent),
		uploads:  &memUploadLog{},
	}
}

func (m *Memory) Rooms() Collection[program.Room]       { return m.rooms }
func (m *Memory) Tracks() Collection[program.Track]     { return m.tracks }
func (m *Memory) Persons() Collection[program.Person]   { return m.persons }
func (m *Memory) Items() Collection[program.Item]       { return m.items }
func (m *Memory) Sessions() Collection[program.Session] { return m.sessions }
func (m *Memory) Events() Collection[program.Event]     { return m.events }
func (m *Memory) Uploads() UploadLog                    { return m.uploads }

// FailSaves makes every SaveAll on kind return err. Pass nil to clear.
func (m *Memory) FailSaves(kind program.Kind, err error) {
	switch kind {
	case program.KindRoom:
		m.rooms.failSaves(err)
	case program.KindTrack:
		m.tracks.failSaves(err)
	case program.KindPerson:
		m.persons.failSaves(err)
	case program.KindItem:
		m.items.failSaves(err)
	case program.KindSession:
		m.sessions.failSaves(err)
	case program.KindEvent:
		m.events.failSaves(err)
	}
}

// SaveCalls returns how many SaveAll calls kind has received.
func (m *Memory) SaveCalls(kind program.Kind) int {
	switch kind {
	case program.KindRoom:
		return m.rooms.saveCalls()
	case program.KindTrack:
		return m.tracks.saveCalls()
	case program.KindPerson:
		return m.persons.saveCalls()
	case program.KindItem:
		return m.items.saveCalls()
	case program.KindSession:
		return m.sessions.saveCalls()
	case program.KindEvent:
		return m.events.saveCalls()
	}
	return 0
}
