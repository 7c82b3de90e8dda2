package utils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, logrus.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("verbose"))
}

func TestGetLogger_WritesToFileWhenConfigured(t *testing.T) {
	path := t.TempDir() + "/arena.log"
	t.Setenv("LOG_FILE", path)
	t.Setenv("LOG_LEVEL", "debug")
	Logger = nil

	logger := GetLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	logger.Info("hello")
	assert.FileExists(t, path)
}
