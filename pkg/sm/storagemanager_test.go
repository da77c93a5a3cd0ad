package sm_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/fragment"
	"github.com/marmos91/dittofs/pkg/schema"
	"github.com/marmos91/dittofs/pkg/sm"
	"github.com/marmos91/dittofs/pkg/vfs/memvfs"
)

func makeArray(t *testing.T, v *memvfs.VFS, uri string, fragmentTimestamps ...uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, schema.Save(ctx, v, uri, &schema.ArraySchema{
		Kind:      schema.KindArray,
		CellOrder: "row-major",
		TileOrder: "row-major",
	}))
	for _, ts := range fragmentTimestamps {
		fragURI := fmt.Sprintf("%s/__cells_%d", uri, ts)
		require.NoError(t, fragment.Save(ctx, v, fragURI, &fragment.Metadata{FragmentSizeBytes: 10}))
	}
}

func TestOpenForReadsLoadsSchemaAndFragments(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	makeArray(t, v, "arrays/a1", 100, 200, 300)

	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	res, err := storage.OpenForReads(ctx, "arrays/a1", 250, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Schema)
	require.Len(t, res.Fragments, 2) // 100 and 200 are <= 250; 300 is not
}

func TestOpenForReadsRejectsNonArray(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	require.NoError(t, v.CreateDir(ctx, "arrays/not-an-array"))

	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	_, err := storage.OpenForReads(ctx, "arrays/not-an-array", 1000, nil)
	require.Error(t, err)
}

func TestEncryptionKeyMismatchFailsSecondOpen(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	makeArray(t, v, "arrays/a1", 1)

	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	_, err := storage.OpenForReads(ctx, "arrays/a1", 1000, []byte("key-a"))
	require.NoError(t, err)

	_, err = storage.OpenForReads(ctx, "arrays/a1", 1000, []byte("key-b"))
	require.Error(t, err)
}

func TestEncryptionKeySameKeySucceedsOnSecondOpen(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	makeArray(t, v, "arrays/a1", 1)

	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	_, err := storage.OpenForReads(ctx, "arrays/a1", 1000, []byte("key-a"))
	require.NoError(t, err)

	_, err = storage.OpenForReads(ctx, "arrays/a1", 1000, []byte("key-a"))
	require.NoError(t, err)
}

func TestCloseForReadsReleasesEntryAtZeroRefs(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	makeArray(t, v, "arrays/a1", 1)

	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	_, err := storage.OpenForReads(ctx, "arrays/a1", 1000, nil)
	require.NoError(t, err)
	_, err = storage.OpenForReads(ctx, "arrays/a1", 1000, nil)
	require.NoError(t, err)

	require.NoError(t, storage.CloseForReads(ctx, "arrays/a1"))
	require.NoError(t, storage.CloseForReads(ctx, "arrays/a1"))

	// A third close, now that the entry is gone, must fail rather than
	// silently succeed.
	err = storage.CloseForReads(ctx, "arrays/a1")
	require.Error(t, err)
}

func TestReopenRequiresAlreadyOpen(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	makeArray(t, v, "arrays/a1", 1)

	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	_, err := storage.Reopen(ctx, "arrays/a1", 1000, nil)
	require.Error(t, err)
}

func TestReopenPicksUpNewFragments(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	makeArray(t, v, "arrays/a1", 1)

	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	res, err := storage.OpenForReads(ctx, "arrays/a1", 1000, nil)
	require.NoError(t, err)
	require.Len(t, res.Fragments, 1)

	fragURI := "arrays/a1/__cells_2"
	require.NoError(t, fragment.Save(ctx, v, fragURI, &fragment.Metadata{FragmentSizeBytes: 5}))

	res, err = storage.Reopen(ctx, "arrays/a1", 2000, nil)
	require.NoError(t, err)
	require.Len(t, res.Fragments, 2)
}

func TestFragmentOrderingIsDeterministic(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	makeArray(t, v, "arrays/a1", 300, 100, 200)

	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	res, err := storage.OpenForReads(ctx, "arrays/a1", 1000, nil)
	require.NoError(t, err)
	require.Len(t, res.Fragments, 3)
	require.Equal(t, uint64(100), res.Fragments[0].Timestamp)
	require.Equal(t, uint64(200), res.Fragments[1].Timestamp)
	require.Equal(t, uint64(300), res.Fragments[2].Timestamp)
}

func TestXLockWaitsForReaderDrain(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	makeArray(t, v, "arrays/a1", 1)

	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	_, err := storage.OpenForReads(ctx, "arrays/a1", 1000, nil)
	require.NoError(t, err)

	xlockDone := make(chan error, 1)
	go func() {
		xlockDone <- storage.XLock(ctx, "arrays/a1")
	}()

	select {
	case <-xlockDone:
		t.Fatal("xlock returned before the reader closed")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, storage.CloseForReads(ctx, "arrays/a1"))

	select {
	case err := <-xlockDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("xlock never woke after reader drain")
	}

	require.NoError(t, storage.XUnlock(ctx, "arrays/a1"))
}

func TestXUnlockWithoutLockFails(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	err := storage.XUnlock(ctx, "arrays/never-locked")
	require.Error(t, err)
}

func TestCancelAllTasksIsIdempotent(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	require.NoError(t, storage.CancelAllTasks(ctx))
	require.NoError(t, storage.CancelAllTasks(ctx))
}

func TestCancelAllTasksWaitsForInProgressQueries(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	started := make(chan struct{})
	release := make(chan struct{})
	go storage.QuerySubmit(ctx, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	cancelDone := make(chan error, 1)
	go func() {
		cancelDone <- storage.CancelAllTasks(ctx)
	}()

	select {
	case <-cancelDone:
		t.Fatal("CancelAllTasks returned while a query was still in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-cancelDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CancelAllTasks never observed quiescence")
	}
}

type recordingQuery struct {
	ran      chan struct{}
	cancelled chan struct{}
}

func newRecordingQuery() *recordingQuery {
	return &recordingQuery{ran: make(chan struct{}), cancelled: make(chan struct{})}
}

func (q *recordingQuery) Run(ctx context.Context) error {
	close(q.ran)
	return nil
}

func (q *recordingQuery) Cancel() {
	close(q.cancelled)
}

func TestSubmitAsyncRunsQuery(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	q := newRecordingQuery()
	require.NoError(t, storage.SubmitAsync(ctx, q))

	select {
	case <-q.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("submitted query never ran")
	}
}

func TestObjectIteratorSkipsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	v := memvfs.New()
	makeArray(t, v, "root/arrays/a1", 1)
	makeArray(t, v, "root/arrays/a2", 1)
	require.NoError(t, v.CreateDir(ctx, "root/arrays/not-an-object"))

	storage := sm.New(v, sm.DefaultConfig())
	defer storage.Close(ctx)

	it := storage.NewObjectIterator(ctx, "root/arrays", sm.Preorder, true)
	var found []string
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		found = append(found, e.URI)
	}
	require.NoError(t, it.Err())
	require.ElementsMatch(t, []string{"root/arrays/a1", "root/arrays/a2"}, found)
}
