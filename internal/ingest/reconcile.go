package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/ProgramUpload/internal/program"
	"github.com/JonMunkholm/ProgramUpload/internal/store"
	"github.com/google/uuid"
)

// Engine reconciles parsed program graphs against persisted records of one
// conference.
type Engine struct {
	store  store.Store
	logger *slog.Logger
}

// NewEngine returns an engine writing to s. A nil logger uses slog.Default.
func NewEngine(s store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, logger: logger}
}

// Store returns the store the engine writes to.
func (e *Engine) Store() store.Store { return e.store }

// Summary counts what a reconciliation created and reused.
type Summary struct {
	Created            map[program.Kind]int `json:"created"`
	Reused             map[program.Kind]int `json:"reused"`
	ConfKeysBackfilled int                  `json:"confKeysBackfilled"`
	SessionsResynced   int                  `json:"sessionsResynced"`
	Warnings           []string             `json:"warnings,omitempty"`
}

func newSummary() *Summary {
	return &Summary{
		Created: make(map[program.Kind]int, len(program.Kinds)),
		Reused:  make(map[program.Kind]int, len(program.Kinds)),
	}
}

// Counts flattens the summary into "<kind>_created" / "<kind>_reused" keys.
func (s *Summary) Counts() map[string]int {
	out := make(map[string]int, 2*len(program.Kinds)+1)
	for _, k := range program.Kinds {
		out[string(k)+"_created"] = s.Created[k]
		out[string(k)+"_reused"] = s.Reused[k]
	}
	out["confkeys_backfilled"] = s.ConfKeysBackfilled
	return out
}

func (s *Summary) count(kind program.Kind, created bool) {
	if created {
		s.Created[kind]++
	} else {
		s.Reused[kind]++
	}
}

// run holds the state of one reconciliation. Graph refs are resolved into
// the persisted records below, indexed by ref.
type run struct {
	ctx    context.Context
	store  store.Store
	log    *slog.Logger
	conf   string
	g      *Graph
	sum    *Summary
	dirty  dirtySet
	rooms  []uuid.UUID
	tracks []uuid.UUID

	persons  []*program.Person
	items    []*program.Item
	sessions []*program.Session
}

// dirtySet tracks parents touched after their own stage, saved once at the
// end of the event stage.
type dirtySet struct {
	items    []*program.Item
	sessions []*program.Session
	seen     map[uuid.UUID]bool
}

func (d *dirtySet) item(it *program.Item) {
	if !d.seen[it.ID] {
		d.seen[it.ID] = true
		d.items = append(d.items, it)
	}
}

func (d *dirtySet) session(s *program.Session) {
	if !d.seen[s.ID] {
		d.seen[s.ID] = true
		d.sessions = append(d.sessions, s)
	}
}

// Reconcile persists g into conferenceID. Stages run in the order room,
// track, person, item, session, event, post-pass, and each stage's saves
// complete before the next starts. A failure aborts the remaining stages
// without undoing earlier ones; re-running the same graph is idempotent.
func (e *Engine) Reconcile(ctx context.Context, conferenceID string, g *Graph) (*Summary, error) {
	if err := validateGraph(g); err != nil {
		return nil, err
	}

	r := &run{
		ctx:   ctx,
		store: e.store,
		log:   e.logger.With("conference_id", conferenceID, "format", g.Format.String()),
		conf:  conferenceID,
		g:     g,
		sum:   newSummary(),
		dirty: dirtySet{seen: make(map[uuid.UUID]bool)},
	}
	r.log.Debug("reconciling graph", "records", g.Stats())
	r.sum.Warnings = append(r.sum.Warnings, g.Warnings...)
	for _, w := range g.Warnings {
		r.log.Warn("program input warning", "warning", w)
	}

	stages := []struct {
		kind program.Kind
		fn   func() error
	}{
		{program.KindRoom, r.reconcileRooms},
		{program.KindTrack, r.reconcileTracks},
		{program.KindPerson, r.reconcilePersons},
		{program.KindItem, r.reconcileItems},
		{program.KindSession, r.reconcileSessions},
		{program.KindEvent, r.reconcileEvents},
	}
	for _, st := range stages {
		start := time.Now()
		if err := st.fn(); err != nil {
			r.logFailure(st.kind, err)
			return r.sum, err
		}
		r.log.Info("stage complete",
			"stage", st.kind,
			"created", r.sum.Created[st.kind],
			"reused", r.sum.Reused[st.kind],
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	if err := r.postPass(); err != nil {
		r.logFailure("post-pass", err)
		return r.sum, err
	}
	return r.sum, nil
}

func (r *run) logFailure(stage program.Kind, err error) {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		r.log.Error("persistence failure",
			"stage", stage,
			"kind", pe.Kind,
			"op", pe.Op,
			"records", pe.Records,
			"error", pe.Err,
		)
		return
	}
	r.log.Error("reconciliation failed", "stage", stage, "error", err)
}

// validateGraph checks the invariants that do not depend on persisted state,
// so that input errors surface before anything is written.
func validateGraph(g *Graph) error {
	for _, s := range g.Sessions {
		if !s.Bounded {
			return consistencyf([]string{s.Title},
				"session %q has no scheduled events with start and end times", s.Title)
		}
		if err := checkOrder(s.Start, s.End, s.Title); err != nil {
			return err
		}
	}
	for _, ev := range g.Events {
		title := g.Items[ev.Item].Title
		if (ev.Start == nil) != (ev.End == nil) {
			return consistencyf([]string{title}, "event for %q has only one of start and end time", title)
		}
		if ev.Start != nil && ev.Session == noRef {
			return consistencyf([]string{title}, "timed event for %q does not belong to a session", title)
		}
	}
	return nil
}

func findAll[T any](ctx context.Context, c store.Collection[T], kind program.Kind, conf string) ([]T, error) {
	recs, err := c.FindAll(ctx, conf)
	if err != nil {
		return nil, &PersistenceError{Kind: kind, Op: "find", Err: err}
	}
	return recs, nil
}

func saveAll[T any](ctx context.Context, c store.Collection[T], kind program.Kind, recs []*T) error {
	if len(recs) == 0 {
		return nil
	}
	if err := c.SaveAll(ctx, recs); err != nil {
		return &PersistenceError{Kind: kind, Op: "save", Records: len(recs), Err: err}
	}
	return nil
}

// naturalKey returns the match key of a person, item or session under the
// graph's key scheme.
func (r *run) naturalKey(name, confKey string) string {
	if r.g.Scheme == KeyByConfKey {
		return strings.TrimSpace(confKey)
	}
	return strings.TrimSpace(name)
}

func (r *run) reconcileRooms() error {
	existing, err := findAll(r.ctx, r.store.Rooms(), program.KindRoom, r.conf)
	if err != nil {
		return err
	}
	byName := make(map[string]*program.Room, len(existing))
	for i := range existing {
		name := NormalizeRoomName(existing[i].Name)
		if _, dup := byName[name]; !dup {
			byName[name] = &existing[i]
		}
	}

	recs := make([]*program.Room, len(r.g.Rooms))
	var toSave []*program.Room
	for i, p := range r.g.Rooms {
		rec, ok := byName[p.Name]
		switch {
		case !ok:
			rec = &program.Room{
				ConferenceID:       r.conf,
				Name:               p.Name,
				Location:           p.Location,
				IsEventFocusedRoom: true,
				ACL:                program.DefaultPolicy(r.conf),
			}
			byName[p.Name] = rec
			toSave = append(toSave, rec)
		case rec.Location == "" && p.Location != "":
			rec.Location = p.Location
			toSave = append(toSave, rec)
		}
		r.sum.count(program.KindRoom, !ok)
		recs[i] = rec
	}
	if err := saveAll(r.ctx, r.store.Rooms(), program.KindRoom, toSave); err != nil {
		return err
	}

	r.rooms = make([]uuid.UUID, len(recs))
	for i, rec := range recs {
		r.rooms[i] = rec.ID
	}
	return nil
}

func (r *run) reconcileTracks() error {
	existing, err := findAll(r.ctx, r.store.Tracks(), program.KindTrack, r.conf)
	if err != nil {
		return err
	}
	byName := make(map[string]*program.Track, len(existing))
	for i := range existing {
		name := strings.TrimSpace(existing[i].Name)
		if _, dup := byName[name]; !dup {
			byName[name] = &existing[i]
		}
	}

	recs := make([]*program.Track, len(r.g.Tracks))
	var toSave []*program.Track
	for i, p := range r.g.Tracks {
		rec, ok := byName[p.Name]
		switch {
		case !ok:
			rec = &program.Track{
				ConferenceID: r.conf,
				Name:         p.Name,
				DisplayName:  p.Name,
				ShowAsEvents: true,
				ACL:          program.DefaultPolicy(r.conf),
			}
			byName[p.Name] = rec
			toSave = append(toSave, rec)
		case rec.DisplayName == "":
			rec.DisplayName = rec.Name
			toSave = append(toSave, rec)
		}
		r.sum.count(program.KindTrack, !ok)
		recs[i] = rec
	}
	if err := saveAll(r.ctx, r.store.Tracks(), program.KindTrack, toSave); err != nil {
		return err
	}

	r.tracks = make([]uuid.UUID, len(recs))
	for i, rec := range recs {
		r.tracks[i] = rec.ID
	}
	return nil
}

func (r *run) reconcilePersons() error {
	existing, err := findAll(r.ctx, r.store.Persons(), program.KindPerson, r.conf)
	if err != nil {
		return err
	}
	byKey := make(map[string]*program.Person, len(existing))
	for i := range existing {
		key := r.naturalKey(existing[i].Name, existing[i].ConfKey)
		if _, dup := byKey[key]; key != "" && !dup {
			byKey[key] = &existing[i]
		}
	}

	r.persons = make([]*program.Person, len(r.g.Persons))
	var toSave []*program.Person
	for i, p := range r.g.Persons {
		key := r.naturalKey(p.Name, p.ConfKey)
		rec, ok := byKey[key]
		if !ok {
			rec = &program.Person{
				ConferenceID: r.conf,
				Name:         strings.TrimSpace(p.Name),
				Affiliation:  p.Affiliation,
				Bio:          p.Bio,
				ConfKey:      p.ConfKey,
				URL:          p.URL,
				PhotoURL:     p.PhotoURL,
				ACL:          program.DefaultPolicy(r.conf),
			}
			byKey[key] = rec
			toSave = append(toSave, rec)
		} else if fillPerson(rec, p) {
			toSave = append(toSave, rec)
		}
		r.sum.count(program.KindPerson, !ok)
		r.persons[i] = rec
	}
	return saveAll(r.ctx, r.store.Persons(), program.KindPerson, toSave)
}

// fillPerson copies attributes the persisted person lacks. Existing values
// are never overwritten.
func fillPerson(rec *program.Person, p PendingPerson) bool {
	changed := false
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
			changed = true
		}
	}
	fill(&rec.Affiliation, p.Affiliation)
	fill(&rec.Bio, p.Bio)
	fill(&rec.ConfKey, p.ConfKey)
	fill(&rec.URL, p.URL)
	fill(&rec.PhotoURL, p.PhotoURL)
	return changed
}

func (r *run) reconcileItems() error {
	existing, err := findAll(r.ctx, r.store.Items(), program.KindItem, r.conf)
	if err != nil {
		return err
	}
	byKey := make(map[string]*program.Item, len(existing))
	for i := range existing {
		key := r.naturalKey(existing[i].Title, existing[i].ConfKey)
		if _, dup := byKey[key]; key != "" && !dup {
			byKey[key] = &existing[i]
		}
	}

	r.items = make([]*program.Item, len(r.g.Items))
	toSave := make([]*program.Item, 0, len(r.g.Items))
	for i, p := range r.g.Items {
		key := r.naturalKey(p.Title, p.ConfKey)
		rec, ok := byKey[key]
		if !ok {
			rec = &program.Item{
				ConferenceID: r.conf,
				Title:        strings.TrimSpace(p.Title),
				ACL:          program.DefaultPolicy(r.conf),
			}
			byKey[key] = rec
		}
		r.applyItem(rec, p)
		r.sum.count(program.KindItem, !ok)
		r.items[i] = rec
		toSave = append(toSave, rec)
	}
	if err := saveAll(r.ctx, r.store.Items(), program.KindItem, toSave); err != nil {
		return err
	}

	// Author back-links: every author lists the item it wrote.
	var authors []*program.Person
	touched := make(map[*program.Person]bool)
	for i, p := range r.g.Items {
		item := r.items[i]
		for _, ref := range p.Authors {
			person := r.persons[ref]
			if program.ContainsID(person.ProgramItems, item.ID) {
				continue
			}
			person.ProgramItems = append(person.ProgramItems, item.ID)
			if !touched[person] {
				touched[person] = true
				authors = append(authors, person)
			}
		}
	}
	return saveAll(r.ctx, r.store.Persons(), program.KindPerson, authors)
}

// applyItem writes the pending item's attributes onto rec. Empty pending
// values leave the persisted ones alone, and authors are only ever added.
func (r *run) applyItem(rec *program.Item, p PendingItem) {
	if p.Abstract != "" {
		rec.Abstract = p.Abstract
	}
	if p.Type != "" {
		rec.Type = p.Type
	}
	if p.URL != "" {
		rec.URL = p.URL
	}
	if p.ConfKey != "" {
		rec.ConfKey = p.ConfKey
	}
	if len(p.Affiliations) > 0 {
		rec.Affiliations = p.Affiliations
	}
	if p.Track != noRef {
		rec.TrackID = r.tracks[p.Track]
	}
	for _, ref := range p.Authors {
		id := r.persons[ref].ID
		if !program.ContainsID(rec.Authors, id) {
			rec.Authors = append(rec.Authors, id)
		}
	}
}

func (r *run) reconcileSessions() error {
	existing, err := findAll(r.ctx, r.store.Sessions(), program.KindSession, r.conf)
	if err != nil {
		return err
	}
	byKey := make(map[string]*program.Session, len(existing))
	for i := range existing {
		key := r.naturalKey(existing[i].Title, existing[i].ConfKey)
		if _, dup := byKey[key]; key != "" && !dup {
			byKey[key] = &existing[i]
		}
	}

	r.sessions = make([]*program.Session, len(r.g.Sessions))
	toSave := make([]*program.Session, 0, len(r.g.Sessions))
	for i, p := range r.g.Sessions {
		if !p.Bounded {
			return consistencyf([]string{p.Title},
				"session %q has no scheduled events with start and end times", p.Title)
		}
		key := r.naturalKey(p.Title, p.ConfKey)
		rec, ok := byKey[key]
		if !ok {
			rec = &program.Session{
				ConferenceID: r.conf,
				Title:        strings.TrimSpace(p.Title),
				ACL:          program.DefaultPolicy(r.conf),
			}
			byKey[key] = rec
		}
		r.applySession(rec, p)
		r.sum.count(program.KindSession, !ok)
		r.sessions[i] = rec
		toSave = append(toSave, rec)
	}
	if err := saveAll(r.ctx, r.store.Sessions(), program.KindSession, toSave); err != nil {
		return err
	}

	for i, p := range r.g.Items {
		if p.Session == noRef {
			continue
		}
		item := r.items[i]
		if id := r.sessions[p.Session].ID; item.SessionID != id {
			item.SessionID = id
			r.dirty.item(item)
		}
	}
	return nil
}

func (r *run) applySession(rec *program.Session, p PendingSession) {
	rec.StartTime, rec.EndTime = p.Start, p.End
	if p.Abstract != "" {
		rec.Abstract = p.Abstract
	}
	if p.Type != "" {
		rec.Type = p.Type
	}
	if p.Location != "" {
		rec.Location = p.Location
	}
	if p.ConfKey != "" {
		rec.ConfKey = p.ConfKey
	}
	if p.Room != noRef {
		rec.RoomID = r.rooms[p.Room]
	}
	if p.Track != noRef {
		rec.TrackID = r.tracks[p.Track]
	}
	for _, ref := range p.Items {
		id := r.items[ref].ID
		if !program.ContainsID(rec.Items, id) {
			rec.Items = append(rec.Items, id)
		}
	}
}

// eventKey identifies an event by item and time range. Unscheduled listings
// of the same item share one key.
type eventKey struct {
	item       uuid.UUID
	scheduled  bool
	start, end int64
}

func keyOf(item uuid.UUID, start, end *time.Time) eventKey {
	if start == nil || end == nil {
		return eventKey{item: item}
	}
	return eventKey{item: item, scheduled: true, start: start.UnixNano(), end: end.UnixNano()}
}

func (r *run) reconcileEvents() error {
	existing, err := findAll(r.ctx, r.store.Events(), program.KindEvent, r.conf)
	if err != nil {
		return err
	}
	byKey := make(map[eventKey]*program.Event, len(existing))
	for i := range existing {
		ev := &existing[i]
		if ev.ItemID == uuid.Nil {
			continue
		}
		key := keyOf(ev.ItemID, ev.StartTime, ev.EndTime)
		if _, dup := byKey[key]; !dup {
			byKey[key] = ev
		}
	}

	recs := make([]*program.Event, len(r.g.Events))
	var toCreate, moved []*program.Event
	claimed := make(map[*program.Event]bool)
	for i, p := range r.g.Events {
		item := r.items[p.Item]
		var sessionID, trackID uuid.UUID
		if p.Session != noRef {
			sessionID = r.sessions[p.Session].ID
		}
		if p.Track != noRef {
			trackID = r.tracks[p.Track]
		}

		key := keyOf(item.ID, p.Start, p.End)
		rec, ok := byKey[key]
		switch {
		case !ok:
			rec = &program.Event{
				ConferenceID: r.conf,
				ItemID:       item.ID,
				SessionID:    sessionID,
				TrackID:      trackID,
				StartTime:    copyTime(p.Start),
				EndTime:      copyTime(p.End),
				ACL:          program.DefaultPolicy(r.conf),
			}
			byKey[key] = rec
			toCreate = append(toCreate, rec)
		case !claimed[rec] && (rec.SessionID != sessionID || rec.TrackID != trackID):
			// The item moved to another session or track at the same time.
			rec.SessionID, rec.TrackID = sessionID, trackID
			moved = append(moved, rec)
		}
		claimed[rec] = true
		r.sum.count(program.KindEvent, !ok)
		recs[i] = rec
	}
	if err := saveAll(r.ctx, r.store.Events(), program.KindEvent, toCreate); err != nil {
		return err
	}
	if err := saveAll(r.ctx, r.store.Events(), program.KindEvent, moved); err != nil {
		return err
	}
	if len(moved) > 0 {
		r.log.Info("moved events", "events", len(moved))
	}

	for i, p := range r.g.Events {
		rec := recs[i]
		item := r.items[p.Item]
		if p.Session != noRef {
			ses := r.sessions[p.Session]
			if !program.ContainsID(ses.Events, rec.ID) {
				ses.Events = append(ses.Events, rec.ID)
				r.dirty.session(ses)
			}
			if !program.ContainsID(ses.Items, item.ID) {
				ses.Items = append(ses.Items, item.ID)
				r.dirty.session(ses)
			}
		}
		if !program.ContainsID(item.Events, rec.ID) {
			item.Events = append(item.Events, rec.ID)
			r.dirty.item(item)
		}
	}

	if err := saveAll(r.ctx, r.store.Items(), program.KindItem, r.dirty.items); err != nil {
		return err
	}
	return saveAll(r.ctx, r.store.Sessions(), program.KindSession, r.dirty.sessions)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (s *Summary) String() string {
	var b strings.Builder
	for i, k := range program.Kinds {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %d new/%d reused", k, s.Created[k], s.Reused[k])
	}
	return b.String()
}
