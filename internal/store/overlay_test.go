package store

import (
	"context"
	"testing"

	"github.com/JonMunkholm/ProgramUpload/internal/program"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlay_WritesStayLocal(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	existing := &program.Room{ConferenceID: "conf", Name: "Hall A"}
	require.NoError(t, base.Rooms().SaveAll(ctx, []*program.Room{existing}))

	o := NewOverlay(base)
	added := &program.Room{ConferenceID: "conf", Name: "Hall B"}
	require.NoError(t, o.Rooms().SaveAll(ctx, []*program.Room{added}))

	seen, err := o.Rooms().FindAll(ctx, "conf")
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, "Hall A", seen[0].Name)
	assert.Equal(t, "Hall B", seen[1].Name)

	underlying, err := base.Rooms().FindAll(ctx, "conf")
	require.NoError(t, err)
	require.Len(t, underlying, 1)
	assert.Equal(t, 1, base.SaveCalls(program.KindRoom), "overlay must not save to base")
}

func TestOverlay_ShadowsBaseRecords(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	item := &program.Item{ConferenceID: "conf", Title: "Paper"}
	require.NoError(t, base.Items().SaveAll(ctx, []*program.Item{item}))

	o := NewOverlay(base)
	edited := item.Clone()
	edited.Authors = []uuid.UUID{uuid.New()}
	require.NoError(t, o.Items().SaveAll(ctx, []*program.Item{&edited}))

	seen, err := o.Items().FindAll(ctx, "conf")
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Len(t, seen[0].Authors, 1)

	underlying, err := base.Items().FindAll(ctx, "conf")
	require.NoError(t, err)
	assert.Empty(t, underlying[0].Authors)
}

func TestOverlay_DeleteHidesBaseRecords(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	track := &program.Track{ConferenceID: "conf", Name: "Research"}
	require.NoError(t, base.Tracks().SaveAll(ctx, []*program.Track{track}))

	o := NewOverlay(base)
	require.NoError(t, o.Tracks().DeleteAll(ctx, "conf", []uuid.UUID{track.ID}))

	seen, err := o.Tracks().FindAll(ctx, "conf")
	require.NoError(t, err)
	assert.Empty(t, seen)

	underlying, err := base.Tracks().FindAll(ctx, "conf")
	require.NoError(t, err)
	assert.Len(t, underlying, 1)
}

func TestOverlay_UploadsDiscarded(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	o := NewOverlay(base)

	require.NoError(t, o.Uploads().Record(ctx, UploadRecord{ConferenceID: "conf", Status: "ok"}))

	list, err := base.Uploads().List(ctx, "conf", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
