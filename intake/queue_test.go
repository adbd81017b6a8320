package intake

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	t.Run("test FIFO", testFIFO)
	t.Run("test PopAllRemoves", testPopAllRemoves)
	t.Run("test Durable", testDurable)
}

func makeTestRecord(i int) Record {
	return Record{
		DiskID:      "disk1",
		FileID:      fmt.Sprintf("file%d", i),
		FileVersion: 1,
		Filename:    fmt.Sprintf("a/file%d.fits", i),
	}
}

func testFIFO(t *testing.T) {
	queue, err := NewQueue(t.TempDir(), "testhost")
	require.NoError(t, err)

	// more than 10 so lexical and numeric order would differ without padding
	for i := 0; i < 25; i++ {
		err = queue.Add(makeTestRecord(i))
		require.NoError(t, err)
	}

	records, err := queue.PopAll()
	assert.NoError(t, err)
	require.Len(t, records, 25)
	for i, record := range records {
		assert.Equal(t, makeTestRecord(i), record)
	}
}

func testPopAllRemoves(t *testing.T) {
	queue, err := NewQueue(t.TempDir(), "testhost")
	require.NoError(t, err)

	err = queue.Add(makeTestRecord(1))
	require.NoError(t, err)
	assert.Equal(t, 1, queue.Len())

	records, err := queue.PopAll()
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 0, queue.Len())

	records, err = queue.PopAll()
	assert.NoError(t, err)
	assert.Empty(t, records)
}

func testDurable(t *testing.T) {
	dir := t.TempDir()

	queue, err := NewQueue(dir, "testhost")
	require.NoError(t, err)
	err = queue.Add(makeTestRecord(1))
	require.NoError(t, err)
	err = queue.Add(makeTestRecord(2))
	require.NoError(t, err)

	reopened, err := NewQueue(dir, "testhost")
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())

	// new records go after the recovered ones
	err = reopened.Add(makeTestRecord(3))
	require.NoError(t, err)

	records, err := reopened.PopAll()
	assert.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "file1", records[0].FileID)
	assert.Equal(t, "file2", records[1].FileID)
	assert.Equal(t, "file3", records[2].FileID)
}
