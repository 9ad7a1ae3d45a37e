// Package store persists conference program records.
//
// The engine only depends on the Store interface: one Collection per record
// kind offering batched find/save/delete scoped to a conference. Three
// implementations are provided:
//
//   - Postgres: pgx-backed, one batched upsert per SaveAll call.
//   - Memory: process-local, used by tests and the memory backend.
//   - Overlay: reads through to a base store and keeps writes local, used for
//     dry-run previews.
package store

import (
	"context"
	"time"

	"github.com/JonMunkholm/ProgramUpload/internal/program"
	"github.com/google/uuid"
)

// FindLimit bounds FindAll results. Conferences larger than this are not
// supported.
const FindLimit = 10000

// Record is the constraint satisfied by pointers to program records.
type Record[T any] interface {
	*T
	GetID() uuid.UUID
	SetID(uuid.UUID)
	Conference() string
	Clone() T
}

// Collection is the batched persistence contract for one record kind.
type Collection[T any] interface {
	// FindAll returns every record of the conference, oldest first, at most
	// FindLimit of them.
	FindAll(ctx context.Context, conferenceID string) ([]T, error)

	// SaveAll creates records with a nil ID (assigning one) and updates the
	// rest. On error no new IDs are left assigned.
	SaveAll(ctx context.Context, records []*T) error

	// DeleteAll removes the given records of the conference.
	DeleteAll(ctx context.Context, conferenceID string, ids []uuid.UUID) error
}

// UploadRecord is one entry of the upload history.
type UploadRecord struct {
	ID           uuid.UUID      `json:"id"`
	ConferenceID string         `json:"conferenceId"`
	Format       string         `json:"format"`
	Status       string         `json:"status"`
	DryRun       bool           `json:"dryRun"`
	Error        string         `json:"error,omitempty"`
	Summary      map[string]int `json:"summary,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	Duration     time.Duration  `json:"duration"`
	ClientIP     string         `json:"clientIp,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
}

// UploadLog stores the upload history.
type UploadLog interface {
	Record(ctx context.Context, rec UploadRecord) error
	List(ctx context.Context, conferenceID string, limit int) ([]UploadRecord, error)
}

// Store gives access to every collection.
type Store interface {
	Rooms() Collection[program.Room]
	Tracks() Collection[program.Track]
	Persons() Collection[program.Person]
	Items() Collection[program.Item]
	Sessions() Collection[program.Session]
	Events() Collection[program.Event]
	Uploads() UploadLog
}

// assignIDs gives every record with a nil ID a fresh one and returns the
// records it touched so a failed save can undo the assignment.
func assignIDs[T any, P Record[T]](records []*T) []P {
	var created []P
	for _, r := range records {
		p := P(r)
		if p.GetID() == uuid.Nil {
			p.SetID(uuid.New())
			created = append(created, p)
		}
	}
	return created
}

func unassignIDs[T any, P Record[T]](created []P) {
	for _, p := range created {
		p.SetID(uuid.Nil)
	}
}
