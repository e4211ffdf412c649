package utils

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	})

	_, err := InitLogger("verbose", "")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "quant.log")
	closeFn, err := InitLogger("debug", path)
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	log.WithField("run_id", "abc").Debug("hello")
	log.SetOutput(os.Stderr)
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run_id=abc")
	assert.Contains(t, string(data), "hello")
}
