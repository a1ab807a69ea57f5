package index_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/turno/internal/index"
	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/store/memstore"
	"github.com/ashita-ai/turno/internal/testutil"
)

func TestIndexFollowsFeeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()
	_, err := s.CreateEmployee(ctx, model.NewEmployee{Name: "A"})
	require.NoError(t, err)

	idx := index.New(s, testutil.TestLogger())
	require.NoError(t, idx.Start(ctx))
	defer idx.Close()

	first := idx.Current()
	require.NotNil(t, first)
	assert.Len(t, first.Employees, 1)
	assert.Empty(t, first.Tickets)

	tk, err := s.CreateTicket(ctx, model.NewTicket{ServiceType: "x"})
	require.NoError(t, err)

	second, err := idx.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, second.Tickets, 1)
	assert.Len(t, second.Employees, 1, "employee half carried over")
	got, ok := second.Ticket(tk.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.Number)

	// The earlier snapshot is untouched.
	assert.Empty(t, first.Tickets)
}

func TestIndexStopsAfterClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()
	idx := index.New(s, testutil.TestLogger())
	require.NoError(t, idx.Start(ctx))
	idx.Close()

	_, err := s.CreateTicket(ctx, model.NewTicket{ServiceType: "x"})
	require.NoError(t, err)
	assert.Empty(t, idx.Current().Tickets)

	fresh, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh.Tickets, 1)
}

func TestConcurrentRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()
	_, err := s.CreateTicket(ctx, model.NewTicket{ServiceType: "x"})
	require.NoError(t, err)
	idx := index.New(s, testutil.TestLogger())

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := idx.Snapshot(ctx)
			assert.NoError(t, err)
			assert.Len(t, snap.Tickets, 1)
		}()
	}
	wg.Wait()
}

func TestDirectAlwaysLoads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memstore.New()
	d := index.NewDirect(s)

	snap, err := d.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Tickets)

	_, err = s.CreateTicket(ctx, model.NewTicket{ServiceType: "x"})
	require.NoError(t, err)
	snap, err = d.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Tickets, 1)
}
