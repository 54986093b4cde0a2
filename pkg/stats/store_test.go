package stats

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snigate/snigate/pkg/api"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record(&api.AcceptRecord{
		Timestamp:    time.Now(),
		ConnectionID: "c1",
		Hostname:     "example.com",
		Port:         443,
		PeerAddress:  "10.0.0.5:51000",
	}))
	require.NoError(t, s.Record(&api.AcceptRecord{
		Timestamp:    time.Now(),
		ConnectionID: "c2",
		Hostname:     api.HostnameUnknown,
		Port:         443,
		ErrorClass:   api.ErrorClassTLSEOF,
		Error:        "EOF during handshake",
	}))

	recs, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Newest first.
	assert.Equal(t, "c2", recs[0].ConnectionID)
	assert.Equal(t, api.ErrorClassTLSEOF, recs[0].ErrorClass)
	assert.True(t, recs[0].Failed())
	assert.Equal(t, "c1", recs[1].ConnectionID)
	assert.False(t, recs[1].Failed())
}

func TestSummaryCountsByClass(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(&api.AcceptRecord{
			Timestamp: time.Now(), ConnectionID: "ok", Hostname: "a.example.com", Port: 443,
		}))
	}
	require.NoError(t, s.Record(&api.AcceptRecord{
		Timestamp: time.Now(), ConnectionID: "bad", Hostname: "b.example.com", Port: 443,
		ErrorClass: api.ErrorClassPeerAbort, Error: "reset",
	}))

	counts, err := s.Summary()
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, api.ErrorClassNone, counts[0].ErrorClass)
	assert.Equal(t, 3, counts[0].Count)
	assert.Equal(t, api.ErrorClassPeerAbort, counts[1].ErrorClass)
	assert.Equal(t, 1, counts[1].Count)
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(&api.AcceptRecord{
		Timestamp: time.Now(), ConnectionID: "c1", Hostname: "example.com", Port: 8443,
	}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	recs, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 8443, recs[0].Port)
}
