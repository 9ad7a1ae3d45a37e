package ingest

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/ProgramUpload/internal/program"
	"github.com/google/uuid"
)

// NotFoundError reports a record ID that does not exist in the conference.
type NotFoundError struct {
	Kind program.Kind
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ReassignAuthors replaces the author list of an item, keeping each person's
// item list symmetric: removed authors lose the item, added authors gain it.
// Order of personIDs is preserved and duplicates are dropped. The item is
// saved before the persons.
func (e *Engine) ReassignAuthors(ctx context.Context, conferenceID string, itemID uuid.UUID, personIDs []uuid.UUID) (*program.Item, error) {
	items, err := findAll(ctx, e.store.Items(), program.KindItem, conferenceID)
	if err != nil {
		return nil, err
	}
	var item *program.Item
	for i := range items {
		if items[i].ID == itemID {
			item = &items[i]
			break
		}
	}
	if item == nil {
		return nil, &NotFoundError{Kind: program.KindItem, ID: itemID}
	}

	persons, err := findAll(ctx, e.store.Persons(), program.KindPerson, conferenceID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*program.Person, len(persons))
	for i := range persons {
		byID[persons[i].ID] = &persons[i]
	}

	var authors []uuid.UUID
	for _, id := range personIDs {
		if _, ok := byID[id]; !ok {
			return nil, &NotFoundError{Kind: program.KindPerson, ID: id}
		}
		if !program.ContainsID(authors, id) {
			authors = append(authors, id)
		}
	}

	var touched []*program.Person
	for _, id := range item.Authors {
		p, ok := byID[id]
		if !ok || program.ContainsID(authors, id) {
			continue
		}
		p.ProgramItems = program.RemoveID(p.ProgramItems, item.ID)
		touched = append(touched, p)
	}
	for _, id := range authors {
		p := byID[id]
		if !program.ContainsID(p.ProgramItems, item.ID) {
			p.ProgramItems = append(p.ProgramItems, item.ID)
			touched = append(touched, p)
		}
	}
	item.Authors = authors

	if err := saveAll(ctx, e.store.Items(), program.KindItem, []*program.Item{item}); err != nil {
		e.logger.Error("persistence failure", "kind", program.KindItem, "records", 1, "error", err)
		return nil, err
	}
	if err := saveAll(ctx, e.store.Persons(), program.KindPerson, touched); err != nil {
		e.logger.Error("persistence failure", "kind", program.KindPerson, "records", len(touched), "error", err)
		return nil, err
	}
	e.logger.Info("item authors reassigned",
		"conference_id", conferenceID,
		"item_id", itemID,
		"authors", len(authors),
		"persons_updated", len(touched),
	)
	return item, nil
}
