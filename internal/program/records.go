package program

import (
	"slices"

	"github.com/google/uuid"
)

// Accessors used by generic store implementations.

func (t *Track) GetID() uuid.UUID { return t.ID }
func (t *Track) SetID(id uuid.UUID) { t.ID = id }
func (t *Track) Conference() string { return t.ConferenceID }

// Clone returns a deep copy of the track.
func (t *Track) Clone() Track {
	c := *t
	c.ACL.WriteRoles = slices.Clone(t.ACL.WriteRoles)
	return c
}

func (r *Room) GetID() uuid.UUID { return r.ID }
func (r *Room) SetID(id uuid.UUID) { r.ID = id }
func (r *Room) Conference() string { return r.ConferenceID }

// Clone returns a deep copy of the room.
func (r *Room) Clone() Room {
	c := *r
	c.ACL.WriteRoles = slices.Clone(r.ACL.WriteRoles)
	return c
}

func (p *Person) GetID() uuid.UUID { return p.ID }
func (p *Person) SetID(id uuid.UUID) { p.ID = id }
func (p *Person) Conference() string { return p.ConferenceID }

// Clone returns a deep copy of the person.
func (p *Person) Clone() Person {
	c := *p
	c.ACL.WriteRoles = slices.Clone(p.ACL.WriteRoles)
	c.ProgramItems = slices.Clone(p.ProgramItems)
	return c
}

func (i *Item) GetID() uuid.UUID { return i.ID }
func (i *Item) SetID(id uuid.UUID) { i.ID = id }
func (i *Item) Conference() string { return i.ConferenceID }

// Clone returns a deep copy of the item.
func (i *Item) Clone() Item {
	c := *i
	c.ACL.WriteRoles = slices.Clone(i.ACL.WriteRoles)
	c.Affiliations = slices.Clone(i.Affiliations)
	c.Authors = slices.Clone(i.Authors)
	c.Events = slices.Clone(i.Events)
	return c
}

func (s *Session) GetID() uuid.UUID { return s.ID }
func (s *Session) SetID(id uuid.UUID) { s.ID = id }
func (s *Session) Conference() string { return s.ConferenceID }

// Clone returns a deep copy of the session.
func (s *Session) Clone() Session {
	c := *s
	c.ACL.WriteRoles = slices.Clone(s.ACL.WriteRoles)
	c.Items = slices.Clone(s.Items)
	c.Events = slices.Clone(s.Events)
	return c
}

func (e *Event) GetID() uuid.UUID { return e.ID }
func (e *Event) SetID(id uuid.UUID) { e.ID = id }
func (e *Event) Conference() string { return e.ConferenceID }

// Clone returns a deep copy of the event.
func (e *Event) Clone() Event {
	c := *e
	c.ACL.WriteRoles = slices.Clone(e.ACL.WriteRoles)
	if e.StartTime != nil {
		st := *e.StartTime
		c.StartTime = &st
	}
	if e.EndTime != nil {
		et := *e.EndTime
		c.EndTime = &et
	}
	return c
}
