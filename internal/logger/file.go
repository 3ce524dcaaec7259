package logger

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig holds configuration for file-based log output with rotation.
type FileConfig struct {
	Path      string
	MaxSizeMB int
	MaxFiles  int
}

// NewFileWriter returns an io.Writer that appends to a size-rotated log
// file. Rotated files are gzip-compressed.
func NewFileWriter(cfg FileConfig) io.Writer {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxFiles,
		Compress:   true,
	}
}
