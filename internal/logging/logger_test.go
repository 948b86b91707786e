package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevelAndFormat(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	require.Error(t, err)

	_, err = New(Options{Level: "info", Format: "xml"})
	require.Error(t, err)
}

func TestNewWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duplex.log")
	l, err := New(Options{Level: "debug", Format: "console", File: path})
	require.NoError(t, err)
	l.Info("hello")
	_ = l.Sync()
	require.FileExists(t, path)
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
}
