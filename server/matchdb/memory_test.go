package matchdb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(id string) *MatchRecord {
	return &MatchRecord{
		SessionID:  id,
		Mode:       "remote",
		WinnerID:   "alice",
		WinnerSlot: 1,
		Reason:     "lifepoints_depleted",
		FinishedAt: time.Now(),
	}
}

func TestMemoryStore_SaveAndFetch(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.SaveResult(ctx, testRecord("s1")))

	rec, err := s.FetchResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.WinnerID)

	_, err = s.FetchResult(ctx, "s2")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestMemoryStore_FirstWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.SaveResult(ctx, testRecord("s1")))

	dup := testRecord("s1")
	dup.WinnerID = "bob"
	assert.ErrorIs(t, s.SaveResult(ctx, dup), ErrDuplicateResult)

	rec, err := s.FetchResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.WinnerID, "first write stands")
}

func TestMemoryStore_ConcurrentSaveOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.SaveResult(ctx, testRecord("s1"))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateResult)
		}
	}
	assert.Equal(t, 1, ok)
}
