package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adaptive-crawler/internal/extract"
	"github.com/JakeFAU/adaptive-crawler/internal/job"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := New()
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	j := job.New("job-1", "appdata", now)
	require.NoError(t, s.SaveJob(context.Background(), j))

	require.NoError(t, j.Start(now))
	require.NoError(t, s.SaveJob(context.Background(), j))

	got, ok := s.Job("job-1")
	require.True(t, ok)
	require.Equal(t, job.StatusRunning, got.Status)

	_, ok = s.Job("missing")
	require.False(t, ok)

	require.NoError(t, s.SaveRecords(context.Background(), "job-1", []extract.Record{{"id": "a"}}))
	require.NoError(t, s.SaveRecords(context.Background(), "job-1", []extract.Record{{"id": "b"}}))
	require.Len(t, s.Records("job-1"), 2)
	require.Empty(t, s.Records("missing"))
}
