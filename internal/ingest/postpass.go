package ingest

import (
	"bytes"
	"slices"

	"github.com/JonMunkholm/ProgramUpload/internal/program"
	"github.com/google/uuid"
)

// CompositeKey is the confKey derived for an item that has none. An item
// without a track is keyed by its own ID.
func CompositeKey(trackID, itemID uuid.UUID) string {
	if trackID == uuid.Nil {
		return itemID.String()
	}
	return trackID.String() + "/" + itemID.String()
}

// postPass runs over the whole conference, not just the records of this
// upload, so earlier partial uploads get repaired too.
func (r *run) postPass() error {
	if err := r.backfillConfKeys(); err != nil {
		return err
	}
	return r.resyncSessionEvents()
}

func (r *run) backfillConfKeys() error {
	items, err := findAll(r.ctx, r.store.Items(), program.KindItem, r.conf)
	if err != nil {
		return err
	}
	var fix []*program.Item
	for i := range items {
		if items[i].ConfKey != "" {
			continue
		}
		items[i].ConfKey = CompositeKey(items[i].TrackID, items[i].ID)
		fix = append(fix, &items[i])
	}
	if err := saveAll(r.ctx, r.store.Items(), program.KindItem, fix); err != nil {
		return err
	}
	r.sum.ConfKeysBackfilled = len(fix)
	if len(fix) > 0 {
		r.log.Info("backfilled item keys", "items", len(fix))
	}
	return nil
}

// resyncSessionEvents rewrites each session's event list from the events
// that point at it, in event creation order.
func (r *run) resyncSessionEvents() error {
	sessions, err := findAll(r.ctx, r.store.Sessions(), program.KindSession, r.conf)
	if err != nil {
		return err
	}
	events, err := findAll(r.ctx, r.store.Events(), program.KindEvent, r.conf)
	if err != nil {
		return err
	}

	bySession := make(map[uuid.UUID][]uuid.UUID)
	for _, ev := range events {
		if ev.SessionID != uuid.Nil {
			bySession[ev.SessionID] = append(bySession[ev.SessionID], ev.ID)
		}
	}

	var fix []*program.Session
	for i := range sessions {
		want := bySession[sessions[i].ID]
		if sameIDs(sessions[i].Events, want) {
			continue
		}
		sessions[i].Events = want
		fix = append(fix, &sessions[i])
	}
	if err := saveAll(r.ctx, r.store.Sessions(), program.KindSession, fix); err != nil {
		return err
	}
	r.sum.SessionsResynced = len(fix)
	return nil
}

// sameIDs compares two ID lists as sets.
func sameIDs(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	sa := slices.Clone(a)
	sb := slices.Clone(b)
	cmp := func(x, y uuid.UUID) int { return bytes.Compare(x[:], y[:]) }
	slices.SortFunc(sa, cmp)
	slices.SortFunc(sb, cmp)
	return slices.Equal(sa, sb)
}
