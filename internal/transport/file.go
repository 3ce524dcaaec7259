package transport

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sungwon/mailrunner/internal/config"
)

const defaultOutputDir = "./mail_output"

// File writes every message as an .eml file in the output directory.
// Messages are never delivered.
type File struct {
	from      string
	fromName  string
	outputDir string
	now       func() time.Time
}

// NewFile creates a File transport writing to cfg.OutputDir, or
// "./mail_output" when unset.
func NewFile(cfg config.SMTPConfig) *File {
	dir := cfg.OutputDir
	if dir == "" {
		dir = defaultOutputDir
	}
	return &File{from: cfg.From, fromName: cfg.FromName, outputDir: dir, now: time.Now}
}

func (f *File) Name() string { return "file" }

// Verify checks the output directory is writable.
func (f *File) Verify(_ context.Context) error {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return fmt.Errorf("transport: output dir not writable: %w", err)
	}
	return nil
}

// Send writes the full MIME message to <timestamp>_<recipient>.eml.
func (f *File) Send(_ context.Context, msg *Message) (string, error) {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return "", fmt.Errorf("transport: create output dir: %w", err)
	}

	var buf bytes.Buffer
	messageID, err := writeMessage(&buf, f.from, f.fromName, msg)
	if err != nil {
		return "", err
	}

	safe := strings.NewReplacer("/", "_", "@", "_at_", "\\", "_").Replace(msg.To)
	name := fmt.Sprintf("%s_%s.eml", f.now().Format("20060102_150405.000000000"), safe)
	path := filepath.Join(f.outputDir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		return "", fmt.Errorf("transport: write %s: %w", path, err)
	}
	return messageID, nil
}
