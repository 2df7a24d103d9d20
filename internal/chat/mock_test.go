package chat

import (
	"errors"
	"sync"
)

var errBrokenPipe = errors.New("broken pipe")

type mockMember struct {
	id   string
	name string

	mu      sync.Mutex
	lines   []string
	sendErr error
	closed  int
}

func newMockMember(id, name string) *mockMember {
	return &mockMember{id: id, name: name}
}

func (m *mockMember) ID() string   { return m.id }
func (m *mockMember) Name() string { return m.name }

func (m *mockMember) WriteLine(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.lines = append(m.lines, line)
	return nil
}

func (m *mockMember) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	return nil
}

func (m *mockMember) setSendErr(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

func (m *mockMember) received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

func (m *mockMember) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
