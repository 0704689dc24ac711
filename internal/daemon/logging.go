package daemon

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger returns a daemon logger that writes to stderr and, when path is
// non-empty, to a size-rotated log file.
func NewLogger(path string, maxSizeMB, maxBackups int) *log.Logger {
	var w io.Writer = os.Stderr
	if path != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		})
	}
	return log.New(w, "[daemon] ", log.LstdFlags)
}
