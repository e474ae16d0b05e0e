package digest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/crestline-labs/digestd/internal/extraction"
)

// Source fetches a channel's messages newer than the watermark.
type Source interface {
	Fetch(ctx context.Context, channel string, since time.Time) ([]extraction.RawMessage, error)
}

// FileSource reads channel exports from a directory of JSONL files, one
// file per channel named <channel>.jsonl. It serves offline runs and
// tests; a live chat connector satisfies the same interface.
type FileSource struct {
	dir    string
	logger *zap.Logger
}

// NewFileSource creates a source over dir.
func NewFileSource(dir string, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{dir: dir, logger: logger}
}

// Fetch reads the channel's export, keeping messages with a timestamp
// after since. A missing export file means no activity, not an error.
func (f *FileSource) Fetch(ctx context.Context, channel string, since time.Time) ([]extraction.RawMessage, error) {
	path := filepath.Join(f.dir, channel+".jsonl")
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open channel export: %w", err)
	}
	defer file.Close()

	var msgs []extraction.RawMessage
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var msg extraction.RawMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			f.logger.Warn("skipping malformed export line",
				zap.String("channel", channel),
				zap.Int("line", line),
				zap.Error(err),
			)
			continue
		}
		if ts, ok := parseTS(msg.TS); ok && !ts.After(since) {
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read channel export: %w", err)
	}

	return msgs, nil
}

// parseTS reads a chat timestamp of the form "1726000000.000100".
func parseTS(ts string) (time.Time, bool) {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}, false
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec), true
}

var _ Source = (*FileSource)(nil)
