package coordset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCoordinator struct {
	cancelled bool
	closed    bool
}

func (f *fakeCoordinator) CancelAllTasks(ctx context.Context) error {
	f.cancelled = true
	return nil
}

func (f *fakeCoordinator) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

func TestRegisterAndShutdownAll(t *testing.T) {
	defer func() { global.coordinators = make(map[string]Coordinator) }()

	a := &fakeCoordinator{}
	b := &fakeCoordinator{}
	Register("a1", a)
	Register("a2", b)

	require.ElementsMatch(t, []string{"a1", "a2"}, Names())

	require.NoError(t, ShutdownAll(context.Background()))
	require.True(t, a.cancelled)
	require.True(t, a.closed)
	require.True(t, b.cancelled)
	require.True(t, b.closed)
	require.Empty(t, Names())
}

func TestUnregisterRemovesEntry(t *testing.T) {
	defer func() { global.coordinators = make(map[string]Coordinator) }()

	Register("solo", &fakeCoordinator{})
	Unregister("solo")
	require.Empty(t, Names())
}
