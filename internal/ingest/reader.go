package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/tjfontaine/trajectory-deriver/internal/core/domain"
)

// event file names tried inside each conv-* directory, in order.
var eventFileNames = []string{"events.json", "events.jsonl", "events.jsonl.zst"}

// LoadDir walks root/app-*/conv-*/ and loads every session's events. A
// session whose file is unreadable is logged and skipped; it never blocks
// the rest of the batch.
func (a *Adapter) LoadDir(root string, logger *slog.Logger) (map[string][]domain.RawEvent, error) {
	if logger == nil {
		logger = slog.Default()
	}

	appDirs, err := filepath.Glob(filepath.Join(root, "app-*"))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", root, err)
	}

	sessions := make(map[string][]domain.RawEvent)
	for _, appDir := range appDirs {
		convDirs, err := filepath.Glob(filepath.Join(appDir, "conv-*"))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", appDir, err)
		}
		for _, convDir := range convDirs {
			sessionID, events, err := a.LoadSessionDir(convDir)
			if err != nil {
				logger.Warn("skipping unreadable session",
					slog.String("dir", convDir),
					slog.String("error", err.Error()))
				continue
			}
			if len(events) > 0 {
				sessions[sessionID] = append(sessions[sessionID], events...)
			}
		}
	}
	return sessions, nil
}

// LoadSessionDir reads one conv-* directory. The directory name is the
// session id unless the events carry their own.
func (a *Adapter) LoadSessionDir(convDir string) (string, []domain.RawEvent, error) {
	sessionID := filepath.Base(convDir)

	for _, name := range eventFileNames {
		path := filepath.Join(convDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		events, err := a.LoadFile(path, sessionID)
		if err != nil {
			return sessionID, nil, err
		}
		if len(events) > 0 && events[0].SessionID != "" {
			sessionID = events[0].SessionID
		}
		return sessionID, events, nil
	}
	return sessionID, nil, fmt.Errorf("no events file in %s", convDir)
}

// LoadFile reads one events file: a JSON array, JSON lines, or
// zstd-compressed JSON lines depending on extension. Individual events
// that fail to flatten are skipped; the file-level format must parse.
func (a *Adapter) LoadFile(path, sessionID string) ([]domain.RawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd reader for %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	if strings.HasSuffix(path, ".json") {
		return a.loadArray(r, sessionID)
	}
	return a.loadLines(r, sessionID)
}

func (a *Adapter) loadArray(r io.Reader, sessionID string) ([]domain.RawEvent, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parse events array: %w", err)
	}

	events := make([]domain.RawEvent, 0, len(raws))
	for _, raw := range raws {
		ev, err := a.Flatten(raw, sessionID)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (a *Adapter) loadLines(r io.Reader, sessionID string) ([]domain.RawEvent, error) {
	var events []domain.RawEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// The scanner reuses its buffer; the event keeps the payload.
		line = append([]byte(nil), line...)
		ev, err := a.Flatten(line, sessionID)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}
