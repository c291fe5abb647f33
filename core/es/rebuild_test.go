package es

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// formState is a minimal aggregate for rebuild tests: it counts fields
// added to a form.
type formState struct {
	Fields    int  `json:"fields"`
	Published bool `json:"published"`
}

func (f *formState) Apply(e Envelope) error {
	switch e.Type {
	case "form.field_added":
		f.Fields++
	case "form.published":
		f.Published = true
	}
	return nil
}

func (f *formState) Snapshot() ([]byte, error)          { return json.Marshal(f) }
func (f *formState) RestoreSnapshot(state []byte) error { return json.Unmarshal(state, f) }

func seedFormStream(t *testing.T, store EventStore, aggID string) {
	t.Helper()
	_, err := store.Append(t.Context(), aggID, 0, []Envelope{
		testEvent(t, aggID, "form.created"),
		testEvent(t, aggID, "form.field_added"),
		testEvent(t, aggID, "form.field_added"),
		testEvent(t, aggID, "form.published"),
	})
	require.NoError(t, err)
}

func TestRebuilder_Rebuild(t *testing.T) {
	t.Run("full replay without snapshotter", func(t *testing.T) {
		store := NewInMemoryStore()
		seedFormStream(t, store, "form-1")

		sut := NewRebuilder(store, nil)
		state := &formState{}
		version, err := sut.Rebuild(t.Context(), "form-1", state)
		require.NoError(t, err)
		require.Equal(t, Version(4), version)
		require.Equal(t, 2, state.Fields)
		require.True(t, state.Published)
	})

	t.Run("snapshot plus tail equals full replay", func(t *testing.T) {
		store := NewInMemoryStore()
		seedFormStream(t, store, "form-1")

		snaps := NewInMemorySnapshotter()
		require.NoError(t, snaps.Save(t.Context(), NewSnapshot("form", "form-1", 2, []byte(`{"fields":1}`))))

		full := &formState{}
		_, err := NewRebuilder(store, nil).Rebuild(t.Context(), "form-1", full)
		require.NoError(t, err)

		fromSnap := &formState{}
		version, err := NewRebuilder(store, snaps).Rebuild(t.Context(), "form-1", fromSnap)
		require.NoError(t, err)
		require.Equal(t, Version(4), version)
		require.Equal(t, full, fromSnap)
	})

	t.Run("rebuilding twice yields the same state", func(t *testing.T) {
		store := NewInMemoryStore()
		seedFormStream(t, store, "form-1")
		sut := NewRebuilder(store, nil)

		first := &formState{}
		_, err := sut.Rebuild(t.Context(), "form-1", first)
		require.NoError(t, err)

		second := &formState{}
		_, err = sut.Rebuild(t.Context(), "form-1", second)
		require.NoError(t, err)
		require.Equal(t, first, second)
	})

	t.Run("snapshot at stream head", func(t *testing.T) {
		store := NewInMemoryStore()
		seedFormStream(t, store, "form-1")

		snaps := NewInMemorySnapshotter()
		require.NoError(t, snaps.Save(t.Context(), NewSnapshot("form", "form-1", 4, []byte(`{"fields":2,"published":true}`))))

		state := &formState{}
		version, err := NewRebuilder(store, snaps).Rebuild(t.Context(), "form-1", state)
		require.NoError(t, err)
		require.Equal(t, Version(4), version)
		require.Equal(t, 2, state.Fields)
	})

	t.Run("unknown aggregate", func(t *testing.T) {
		sut := NewRebuilder(NewInMemoryStore(), nil)
		_, err := sut.Rebuild(t.Context(), "nope", &formState{})
		require.True(t, IsNotFound(err))
	})
}

func TestRebuilder_TakeSnapshot(t *testing.T) {
	store := NewInMemoryStore()
	seedFormStream(t, store, "form-1")

	snaps := NewInMemorySnapshotter()
	sut := NewRebuilder(store, snaps)

	ss, err := sut.TakeSnapshot(t.Context(), "form-1", &formState{})
	require.NoError(t, err)
	require.Equal(t, Version(4), ss.Version)
	require.Equal(t, "form", ss.AggregateType)
	require.JSONEq(t, `{"fields":2,"published":true}`, string(ss.State))

	got, err := snaps.Latest(t.Context(), "form-1")
	require.NoError(t, err)
	require.Equal(t, ss.ID, got.ID)
}
