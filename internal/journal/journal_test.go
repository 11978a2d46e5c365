package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer s.Close()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, Entry{
			At:     base.Add(time.Duration(i) * time.Second),
			Kind:   "submit",
			Login:  101,
			Ticket: int64(5000 + i),
			Symbol: "XAUUSD",
			Volume: 0.10,
		}))
	}

	entries, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(5004), entries[0].Ticket, "newest first")
	assert.NotEmpty(t, entries[0].ID, "missing ids are generated")
}

func TestJournalDefaultsAndErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty path rejected", func(t *testing.T) {
		_, err := Open("")
		assert.Error(t, err)
	})

	t.Run("zero timestamp gets the current time", func(t *testing.T) {
		s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.Append(ctx, Entry{Kind: "secure", Login: 101}))
		entries, err := s.Recent(ctx, 1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.WithinDuration(t, time.Now(), entries[0].At, time.Minute)
	})

	t.Run("nil store is inert", func(t *testing.T) {
		var s *Store
		assert.Error(t, s.Append(ctx, Entry{Kind: "submit"}))
		assert.NoError(t, s.Close())
	})
}
