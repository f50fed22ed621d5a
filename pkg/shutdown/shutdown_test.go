package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	m := New(time.Second, zerolog.Nop())

	var order []string
	m.Register("store", func(context.Context) error { order = append(order, "store"); return nil })
	m.Register("sweeper", func(context.Context) error { order = append(order, "sweeper"); return errors.New("stuck") })
	m.Register("http", func(context.Context) error { order = append(order, "http"); return nil })

	err := m.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweeper: stuck")
	assert.Equal(t, []string{"http", "sweeper", "store"}, order)
}

func TestWaitTriggered(t *testing.T) {
	m := New(time.Second, zerolog.Nop())
	var ran atomic.Bool
	m.Register("thing", func(context.Context) error { ran.Store(true); return nil })

	go m.Trigger()
	require.NoError(t, m.Wait(context.Background()))
	assert.True(t, ran.Load())

	select {
	case <-m.Done():
	default:
		t.Fatal("done should be closed")
	}
}

func TestWaitFor(t *testing.T) {
	var n atomic.Int32
	fn := WaitFor(func() bool { return n.Add(1) >= 3 }, time.Millisecond)
	require.NoError(t, fn(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := WaitFor(func() bool { return false }, time.Millisecond)(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
