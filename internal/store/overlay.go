package store

import (
	"context"
	"sync"

	"github.com/JonMunkholm/ProgramUpload/internal/program"
	"github.com/google/uuid"
)

// overlayCollection serves reads from base merged with local writes. Writes
// never reach base.
type overlayCollection[T any, P Record[T]] struct {
	base  Collection[T]
	local *memCollection[T, P]

	mu      sync.Mutex
	deleted map[uuid.UUID]bool
}

func newOverlayCollection[T any, P Record[T]](kind program.Kind, base Collection[T]) *overlayCollection[T, P] {
	return &overlayCollection[T, P]{
		base:    base,
		local:   newMemCollection[T, P](kind),
		deleted: make(map[uuid.UUID]bool),
	}
}

func (c *overlayCollection[T, P]) FindAll(ctx context.Context, conferenceID string) ([]T, error) {
	baseRecs, err := c.base.FindAll(ctx, conferenceID)
	if err != nil {
		return nil, err
	}
	localRecs, err := c.local.FindAll(ctx, conferenceID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	shadow := make(map[uuid.UUID]int, len(localRecs))
	for i := range localRecs {
		shadow[P(&localRecs[i]).GetID()] = i
	}

	out := make([]T, 0, len(baseRecs)+len(localRecs))
	for i := range baseRecs {
		id := P(&baseRecs[i]).GetID()
		if c.deleted[id] {
			continue
		}
		if j, ok := shadow[id]; ok {
			out = append(out, localRecs[j])
			delete(shadow, id)
			continue
		}
		out = append(out, baseRecs[i])
	}
	for i := range localRecs {
		if _, pending := shadow[P(&localRecs[i]).GetID()]; pending {
			out = append(out, localRecs[i])
		}
	}
	if len(out) > FindLimit {
		out = out[:FindLimit]
	}
	return out, nil
}

func (c *overlayCollection[T, P]) SaveAll(ctx context.Context, records []*T) error {
	if err := c.local.SaveAll(ctx, records); err != nil {
		return err
	}
	c.mu.Lock()
	for _, r := range records {
		delete(c.deleted, P(r).GetID())
	}
	c.mu.Unlock()
	return nil
}

func (c *overlayCollection[T, P]) DeleteAll(ctx context.Context, conferenceID string, ids []uuid.UUID) error {
	if err := c.local.DeleteAll(ctx, conferenceID, ids); err != nil {
		return err
	}
	c.mu.Lock()
	for _, id := range ids {
		c.deleted[id] = true
	}
	c.mu.Unlock()
	return nil
}

// discardLog drops upload records written through an overlay.
type discardLog struct{ base UploadLog }

func (l discardLog) Record(context.Context, UploadRecord) error { return nil }

func (l discardLog) List(ctx context.Context, conferenceID string, limit int) ([]UploadRecord, error) {
	return l.base.List(ctx, conferenceID, limit)
}

// Overlay is a Store whose writes stay in memory on top of a read-only base.
// Dropping the Overlay discards every write.
type Overlay struct {
	rooms    *overlayCollection[program.Room, *program.Room]
	tracks   *overlayCollection[program.Track, *program.Track]
	persons  *overlayCollection[program.Person, *program.Person]
	items    *overlayCollection[program.Item, *program.Item]
	sessions *overlayCollection[program.Session, *program.Session]
	events   *overlayCollection[program.Event, *program.Event]
	uploads  discardLog
}

// NewOverlay wraps base.
func NewOverlay(base Store) *Overlay {
	return &Overlay{
		rooms:    newOverlayCollection[program.Room, *program.Room](program.KindRoom, base.Rooms()),
		tracks:   newOverlayCollection[program.Track, *program.Track](program.KindTrack, base.Tracks()),
		persons:  newOverlayCollection[program.Person, *program.Person](program.KindPerson, base.Persons()),
		items:    newOverlayCollection[program.Item, *program.Item](program.KindItem, base.Items()),
		sessions: newOverlayCollection[program.Session, *program.Session](program.KindSession, base.Sessions()),
		events:   newOverlayCollection[program.Event, *program.Event](program.KindEvent, base.Events()),
		uploads:  discardLog{base: base.Uploads()},
	}
}

func (o *Overlay) Rooms() Collection[program.Room]       { return o.rooms }
func (o *Overlay) Tracks() Collection[program.Track]     { return o.tracks }
func (o *Overlay) Persons() Collection[program.Person]   { return o.persons }
func (o *Overlay) Items() Collection[program.Item]       { return o.items }
func (o *Overlay) Sessions() Collection[program.Session] { return o.sessions }
func (o *Overlay) Events() Collection[program.Event]     { return o.events }
func (o *Overlay) Uploads() UploadLog                    { return o.uploads }
