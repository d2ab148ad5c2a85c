package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWritesToWriter(t *testing.T) {
	require.NoError(t, Close())
	t.Cleanup(func() { _ = Close() })

	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: LevelDebug, Writer: &buf}))

	WithComponent("bufferpool").Debug("page evicted", "pos", 4096)
	require.Contains(t, buf.String(), "component=bufferpool")
	require.Contains(t, buf.String(), "pos=4096")

	require.Error(t, Init(Config{Writer: &buf}), "second Init must fail until Close")
}

func TestDefaultLevelIsQuiet(t *testing.T) {
	require.NoError(t, Close())
	t.Cleanup(func() { _ = Close() })

	var buf bytes.Buffer
	require.NoError(t, Init(Config{Writer: &buf}))
	GetLogger().Info("hidden")
	WithError(GetLogger(), errors.New("boom")).Warn("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "error=boom")
}
