package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// logLevels orders the prefixes used by log.Printf calls throughout the
// module.
var logLevels = []string{"DEBUG", "INFO", "WARNING", "ERROR"}

func levelIndex(name string) int {
	for i, l := range logLevels {
		if strings.EqualFold(l, name) {
			return i
		}
	}
	return 1
}

// levelWriter drops lines whose level prefix ranks below min. Lines without
// a prefix count as INFO.
type levelWriter struct {
	w   io.Writer
	min int
}

func (lw levelWriter) Write(p []byte) (int, error) {
	if lineLevel(p) < lw.min {
		return len(p), nil
	}
	return lw.w.Write(p)
}

// lineLevel returns the level whose "NAME:" prefix appears first in p.
func lineLevel(p []byte) int {
	level, at := 1, -1
	for i, name := range logLevels {
		idx := bytes.Index(p, []byte(name+":"))
		if idx >= 0 && (at < 0 || idx < at) {
			level, at = i, idx
		}
	}
	return level
}

// setupLogging sends the standard logger to console and, when path is set,
// appends to the log file as well. The returned closer is nil without a file.
func setupLogging(level, path string, console io.Writer) (io.Closer, error) {
	out := console
	var closer io.Closer

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(console, f)
		closer = f
	}

	log.SetFlags(log.LstdFlags)
	log.SetOutput(levelWriter{w: out, min: levelIndex(level)})
	return closer, nil
}
