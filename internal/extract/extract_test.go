package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractEnvelopedList(t *testing.T) {
	t.Parallel()

	e := New("results", "id", zap.NewNop())
	payload := []byte(`{"resultCount":2,"results":[{"id":1,"name":"first"},{"id":2,"name":"second"}]}`)

	records, err := e.Extract(payload)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "1", records[0].ID("id"))
	require.Equal(t, "first", records[0]["name"])
}

func TestExtractTopLevelArray(t *testing.T) {
	t.Parallel()

	e := New("", "id", zap.NewNop())
	records, err := e.Extract([]byte(`[{"id":"a"},{"id":"b"}]`))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a", records[0].ID("id"))
}

func TestExtractSkipsEntriesWithoutID(t *testing.T) {
	t.Parallel()

	e := New("results", "id", zap.NewNop())
	payload := []byte(`{"results":[{"id":1},{"name":"orphan"},{"id":3}]}`)

	records, err := e.Extract(payload)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestExtractErrors(t *testing.T) {
	t.Parallel()

	e := New("results", "id", zap.NewNop())

	_, err := e.Extract([]byte(`not json`))
	require.Error(t, err)

	_, err = e.Extract([]byte(`{"other":[]}`))
	require.Error(t, err)

	_, err = e.Extract([]byte(`{"results":{"nested":true}}`))
	require.Error(t, err)
}

func TestExtractBatchAbsorbsFailures(t *testing.T) {
	t.Parallel()

	e := New("", "id", zap.NewNop())
	records, failed := e.ExtractBatch([][]byte{
		[]byte(`[{"id":"a"}]`),
		[]byte(`broken`),
		[]byte(`[{"id":"b"},{"id":"c"}]`),
	})

	require.Len(t, records, 3)
	require.Equal(t, 1, failed)
}
