package ids

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateULIDIsSortable(t *testing.T) {
	ids := make([]string, 64)
	for i := range ids {
		ids[i] = CreateULID()
		_, err := ulid.ParseStrict(ids[i])
		require.NoError(t, err)
	}
	assert.True(t, slices.IsSorted(ids))
	assert.Len(t, slices.Compact(slices.Clone(ids)), len(ids))
}

func TestCreateULIDConcurrent(t *testing.T) {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		all []string
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 25)
			for i := range local {
				local[i] = CreateULID()
			}
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	slices.Sort(all)
	assert.Len(t, slices.Compact(all), 200)
}

func TestCreateULIDAt(t *testing.T) {
	received := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	first, second := CreateULIDAt(received), CreateULIDAt(received)
	assert.Less(t, first, second)

	got, err := Time(first)
	require.NoError(t, err)
	assert.True(t, got.Equal(received), "got %v", got)

	_, err = Time("01J-not-a-ulid")
	assert.Error(t, err)
}
