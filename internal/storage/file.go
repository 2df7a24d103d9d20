package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"linechat/pkg/logx"
)

// fileStore appends records to <prefix>.sessions.jsonl.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
	f  *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	sessionsPath := prefix + ".sessions.jsonl"
	f, err := os.OpenFile(sessionsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("path", sessionsPath))
	return &fileStore{log: log, path: sessionsPath, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendSession(ctx context.Context, r SessionRecord) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("sessions file closed")
	}
	return json.NewEncoder(s.f).Encode(r)
}

func (s *fileStore) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Keep the last limit records in a ring.
	ring := make([]SessionRecord, 0, limit)
	next := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r SessionRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, r)
			continue
		}
		ring[next] = r
		next = (next + 1) % limit
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]SessionRecord, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
}
