package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatterPattern(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&LoggerConfig{Level: "debug", Pattern: "[%level] %field | %msg\n"}, &buf)

	l.WithFields(map[string]interface{}{"reader": "tap0", "count": 3}).Debug("matched")
	assert.Equal(t, "[debug] count=3,reader=tap0 | matched\n", buf.String())
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&LoggerConfig{Level: "warn", Pattern: "%level %msg\n"}, &buf)

	l.Info("hidden")
	l.Warn("shown")
	l.WithError(errors.New("boom")).Error("failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "warning shown")
	assert.Contains(t, out, "error failed")
	assert.False(t, l.IsDebugEnabled())
	assert.False(t, l.IsInfoEnabled())
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&LoggerConfig{Level: "chatty"}, &buf)
	assert.True(t, l.IsInfoEnabled())
	assert.False(t, l.IsDebugEnabled())
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tapcheck.log")
	l, err := New(&LoggerConfig{
		Level:     "info",
		Pattern:   "%msg\n",
		Appenders: []AppenderConfig{{Type: AppenderFile, File: FileAppenderOpt{Filename: path, MaxSize: 1}}},
	})
	require.NoError(t, err)

	l.Info("written to file")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "written to file\n"))
}

func TestValidate(t *testing.T) {
	cfg := &LoggerConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, DefaultPattern, cfg.Pattern)
	require.Len(t, cfg.Appenders, 1)

	bad := &LoggerConfig{Appenders: []AppenderConfig{{Type: AppenderFile}}}
	assert.Error(t, bad.Validate())

	bad = &LoggerConfig{Appenders: []AppenderConfig{{Type: "kafka"}}}
	assert.Error(t, bad.Validate())
}

func TestGetLoggerDefault(t *testing.T) {
	assert.NotNil(t, GetLogger())
	require.NoError(t, Init(&LoggerConfig{Level: "debug"}))
	assert.True(t, GetLogger().IsDebugEnabled())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestFanoutKeepsWritingAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	out := fanout{failingWriter{}, &buf}

	n, err := out.Write([]byte("entry\n"))
	assert.Equal(t, 6, n)
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, "entry\n", buf.String())
}
