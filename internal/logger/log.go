// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package logger provides the shared logrus logger used by every tool in this module.

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. One of the Init functions must be called before use.
var Log *logrus.Logger

type LogFlags struct {
	LogColor *string
	LogFile  *string
	LogLevel *string
}

const (
	LevelsFlag        = "log-level"
	LevelsHelp        = "Minimum log level to output."
	LevelsPlaceholder = "(panic|fatal|error|warn|info|debug|trace)"

	FileFlag     = "log-file"
	FileFlagHelp = "Path of the file to write the full log to."

	ColorFlag         = "log-color"
	ColorFlagHelp     = "Whether or not to colorize the log output."
	ColorsPlaceholder = "(always|auto|never)"

	colorAlways = "always"
	colorAuto   = "auto"
	colorNever  = "never"

	defaultStderrLogLevel = logrus.InfoLevel
	fileLogLevel          = logrus.DebugLevel
)

var (
	stderrHook *writerHook
	fileHook   *writerHook
	logFile    *os.File

	warnTag  = color.New(color.FgYellow)
	errorTag = color.New(color.FgRed)
)

// writerHook forwards log entries at or above a minimum level to a writer, with
// its own formatter. The base logger discards its own output so that stderr and
// the log file can run at independent levels.
type writerHook struct {
	writer    io.Writer
	level     logrus.Level
	formatter logrus.Formatter
}

func (h *writerHook) Levels() []logrus.Level {
	return logrus.AllLevels[:h.level+1]
}

func (h *writerHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}

	_, err = h.writer.Write(line)
	return err
}

// stderrFormatter prints "level: message" lines, colorizing the level tag of
// warnings and errors when color is enabled.
type stderrFormatter struct {
}

func (f *stderrFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	tag := entry.Level.String()
	switch entry.Level {
	case logrus.WarnLevel:
		tag = warnTag.Sprint(tag)
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		tag = errorTag.Sprint(tag)
	}

	line := fmt.Sprintf("%s: %s\n", tag, entry.Message)
	return []byte(line), nil
}

// Levels returns the accepted values of the log level flag.
func Levels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}
	return levels
}

// Colors returns the accepted values of the log color flag.
func Colors() []string {
	return []string{colorAlways, colorAuto, colorNever}
}

// InitStderrLog initializes the logger with stderr output only, at the default level.
// Intended for tests and small tools that take no log flags.
func InitStderrLog() {
	initLogger(defaultStderrLogLevel)
}

// Init initializes the logger with stderr output at the given level and, if
// fileName is not empty, a full debug-level log file.
func Init(fileName string, level logrus.Level) error {
	initLogger(level)

	if fileName != "" {
		f, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file (%s):\n%w", fileName, err)
		}

		logFile = f
		fileHook = &writerHook{
			writer: f,
			level:  fileLogLevel,
			formatter: &logrus.TextFormatter{
				FullTimestamp:   true,
				TimestampFormat: "2006-01-02T15:04:05Z07:00",
				DisableColors:   true,
			},
		}
		Log.AddHook(fileHook)
		refreshLoggerLevel()
	}

	return nil
}

// InitBestEffort initializes the logger from command line flags, falling back to
// defaults (and logging a warning) rather than failing on bad values.
func InitBestEffort(flags *LogFlags) {
	level := defaultStderrLogLevel
	levelName := ""
	fileName := ""
	colorName := ""

	if flags != nil {
		if flags.LogLevel != nil {
			levelName = *flags.LogLevel
		}
		if flags.LogFile != nil {
			fileName = *flags.LogFile
		}
		if flags.LogColor != nil {
			colorName = *flags.LogColor
		}
	}

	badLevel := false
	if levelName != "" {
		parsedLevel, err := logrus.ParseLevel(strings.ToLower(levelName))
		if err != nil {
			badLevel = true
		} else {
			level = parsedLevel
		}
	}

	err := Init(fileName, level)
	if err != nil {
		InitStderrLog()
		Log.Warnf("Failed to initialize file log: %s", err)
	}

	if badLevel {
		Log.Warnf("Unknown log level (%s), using (%s)", levelName, level)
	}

	setColors(colorName)
}

// SetStderrLogLevel changes the minimum level of the stderr output.
func SetStderrLogLevel(level logrus.Level) {
	if stderrHook != nil {
		stderrHook.level = level
	}
	refreshLoggerLevel()
}

// Close releases the log file, if one was opened.
func Close() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
		fileHook = nil
	}
}

func initLogger(stderrLevel logrus.Level) {
	Log = logrus.New()

	// All output goes through the hooks.
	Log.SetOutput(io.Discard)

	stderrHook = &writerHook{
		writer:    os.Stderr,
		level:     stderrLevel,
		formatter: &stderrFormatter{},
	}
	Log.AddHook(stderrHook)

	fileHook = nil
	refreshLoggerLevel()
}

// The base logger's level must admit every entry any hook wants, since hooks
// only see entries the logger itself accepts.
func refreshLoggerLevel() {
	level := defaultStderrLogLevel
	if stderrHook != nil && stderrHook.level > level {
		level = stderrHook.level
	}
	if fileHook != nil && fileHook.level > level {
		level = fileHook.level
	}
	Log.SetLevel(level)
}

func setColors(setting string) {
	switch setting {
	case "", colorAuto:
		// fatih/color already detects terminal support.

	case colorAlways:
		color.NoColor = false

	case colorNever:
		color.NoColor = true

	default:
		Log.Warnf("Unknown log color setting (%s), using (%s)", setting, colorAuto)
	}
}
