package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("", 0, 0, "chatty")
	require.Error(t, err)
}

func TestDebugToggle(t *testing.T) {
	l, err := New("", 0, 0, "info")
	require.NoError(t, err)
	defer l.Close()

	assert.False(t, l.IsDebug())
	l.SetDebug(true)
	assert.True(t, l.IsDebug())
	l.SetDebug(false)
	assert.False(t, l.IsDebug())
}

func TestFileLoggingAndRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hub.log")
	l, err := New(path, 1, 2, "info")
	require.NoError(t, err)
	assert.Equal(t, path, l.GetFilePath())

	l.Info("[FLEET] slot %d bound to %s", 3, "90:84:2b:14:aa:01")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "slot 3 bound to 90:84:2b:14:aa:01")

	f := &rotatingFile{path: path, maxSizeMB: 1, maxBackups: 2}
	require.NoError(t, f.openFile())
	_, err = f.Write([]byte(strings.Repeat("x", 1024*1024)))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "expected a backup after crossing the size cap")
}

func TestGlobalHelpersWithoutInit(t *testing.T) {
	// must not panic when nothing was initialized
	Info("hello %d", 1)
	Debug("hello")
	assert.False(t, IsDebug())
}
