//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linechat/pkg/logx"
)

func TestSQLiteStore(t *testing.T) {
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "chatd.sqlite")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.AppendSession(ctx, SessionRecord{Event: EventJoined, ConnID: "a", Name: "alice", Transport: "tcp"}))
	require.NoError(t, st.AppendSession(ctx, SessionRecord{Event: EventLeft, ConnID: "a", Name: "alice", Reason: "eof", DurationMS: 1500}))

	got, err := st.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, EventLeft, got[0].Event)
	assert.Equal(t, int64(1500), got[0].DurationMS)
	assert.Equal(t, "tcp", got[1].Transport)
	assert.Empty(t, got[1].Reason)
}
