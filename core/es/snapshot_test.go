package es

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/formstream/eventcore/ports/kv"
)

func TestSnapshotters(t *testing.T) {
	suts := map[string]func() Snapshotter{
		"memory": func() Snapshotter { return NewInMemorySnapshotter() },
		"kv":     func() Snapshotter { return NewKeyValueSnapshotter(kv.NewMemStore()) },
	}

	for name, newSut := range suts {
		t.Run(name, func(t *testing.T) {
			t.Run("latest of unknown aggregate", func(t *testing.T) {
				sut := newSut()
				_, err := sut.Latest(t.Context(), "form-1")
				require.ErrorIs(t, err, ErrSnapshotNotFound)
			})

			t.Run("save and load", func(t *testing.T) {
				sut := newSut()
				ss := NewSnapshot("form", "form-1", 3, []byte(`{"fields":2}`))
				require.NoError(t, sut.Save(t.Context(), ss))

				got, err := sut.Latest(t.Context(), "form-1")
				require.NoError(t, err)
				require.Equal(t, ss.ID, got.ID)
				require.Equal(t, Version(3), got.Version)
				require.JSONEq(t, `{"fields":2}`, string(got.State))
			})

			t.Run("older snapshot never replaces newer", func(t *testing.T) {
				sut := newSut()
				require.NoError(t, sut.Save(t.Context(), NewSnapshot("form", "form-1", 5, []byte(`"new"`))))
				require.NoError(t, sut.Save(t.Context(), NewSnapshot("form", "form-1", 3, []byte(`"old"`))))

				got, err := sut.Latest(t.Context(), "form-1")
				require.NoError(t, err)
				require.Equal(t, Version(5), got.Version)
			})
		})
	}
}
