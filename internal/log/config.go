package log

import (
	"fmt"
	"strings"
)

const (
	DefaultPattern = "%time [%level] %field %msg\n"
	DefaultTime    = "2006-01-02 15:04:05.000"
)

// Appender kinds
const (
	AppenderConsole = "console"
	AppenderFile    = "file"
)

type LoggerConfig struct {
	Level     string           `mapstructure:"level"`
	Pattern   string           `mapstructure:"pattern"`
	Time      string           `mapstructure:"time"`
	Appenders []AppenderConfig `mapstructure:"appenders"`
}

type AppenderConfig struct {
	Type string          `mapstructure:"type"`
	File FileAppenderOpt `mapstructure:"file"`
}

func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:     "info",
		Pattern:   DefaultPattern,
		Time:      DefaultTime,
		Appenders: []AppenderConfig{{Type: AppenderConsole}},
	}
}

// Validate checks appender settings and fills empty fields with defaults.
func (c *LoggerConfig) Validate() error {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Pattern == "" {
		c.Pattern = DefaultPattern
	}
	if c.Time == "" {
		c.Time = DefaultTime
	}
	if len(c.Appenders) == 0 {
		c.Appenders = []AppenderConfig{{Type: AppenderConsole}}
	}
	for i, a := range c.Appenders {
		switch strings.ToLower(a.Type) {
		case AppenderConsole:
		case AppenderFile:
			if a.File.Filename == "" {
				return fmt.Errorf("log appender %d: file appender requires a filename", i)
			}
		default:
			return fmt.Errorf("log appender %d: unknown type %q", i, a.Type)
		}
	}
	return nil
}
