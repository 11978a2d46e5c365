package symbols

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableLookup(t *testing.T) {
	table := NewTable()

	t.Run("known aliases resolve", func(t *testing.T) {
		assert.Equal(t, "XAUUSD", table.Lookup("GOLD"))
		assert.Equal(t, "US30Cash", table.Lookup("US30"))
	})

	t.Run("lookup is case and whitespace insensitive", func(t *testing.T) {
		assert.Equal(t, "XAUUSD", table.Lookup("  gold "))
	})

	t.Run("unknown names map to themselves", func(t *testing.T) {
		assert.Equal(t, "EURUSD", table.Lookup("eurusd"))
	})
}

func TestTableLoad(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		table, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "XAUUSD", table.Lookup("GOLD"))
	})

	t.Run("file merges over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "symbols.yaml")
		require.NoError(t, os.WriteFile(path, []byte("GOLD: XAUUSD.r\nBTC: BTCUSDT\n"), 0o644))

		table, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "XAUUSD.r", table.Lookup("GOLD"), "file overrides the default")
		assert.Equal(t, "BTCUSDT", table.Lookup("BTC"), "file adds new aliases")
		assert.Equal(t, "US30Cash", table.Lookup("US30"), "untouched defaults survive")
	})

	t.Run("unreadable file fails loudly", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml fails loudly", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "symbols.yaml")
		require.NoError(t, os.WriteFile(path, []byte(":\n\t- broken"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}
