package log

import (
	"errors"
	"io"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileAppenderOpt configures a size-rotated log file.
type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`    // megabytes
	MaxBackups int    `mapstructure:"max_backups"` // rotated files kept
	MaxAge     int    `mapstructure:"max_age"`     // days
	Compress   bool   `mapstructure:"compress"`
}

// fanout copies each entry to every appender. A failing appender does not
// stop the others.
type fanout []io.Writer

func (f fanout) Write(p []byte) (int, error) {
	var errs []error
	for _, w := range f {
		if _, err := w.Write(p); err != nil {
			errs = append(errs, err)
		}
	}
	return len(p), errors.Join(errs...)
}

// openAppenders builds the writers of a validated config. Console output goes
// to stderr so that command results on stdout stay machine readable.
func openAppenders(cfg *LoggerConfig) fanout {
	out := make(fanout, 0, len(cfg.Appenders))
	for _, a := range cfg.Appenders {
		switch strings.ToLower(a.Type) {
		case AppenderConsole:
			out = append(out, os.Stderr)
		case AppenderFile:
			out = append(out, &lumberjack.Logger{
				Filename:   a.File.Filename,
				MaxSize:    a.File.MaxSize,
				MaxBackups: a.File.MaxBackups,
				MaxAge:     a.File.MaxAge,
				Compress:   a.File.Compress,
			})
		}
	}
	return out
}
