package vocabulary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCanonical(t *testing.T) {
	s := NewSnapshot([]string{"AHV Networking", " ahv  networking ", ""}, []string{"Upgrade", "AHV Networking"})

	assert.Equal(t, []string{"AHV Networking"}, s.OpenTags)
	assert.Equal(t, []string{"Upgrade", "AHV Networking"}, s.CloseTags)
	assert.Equal(t, []string{"AHV Networking", "Upgrade"}, s.All())

	got, ok := s.Canonical("ahv   NETWORKING")
	require.True(t, ok)
	assert.Equal(t, "AHV Networking", got)
	assert.False(t, s.Contains("Prism"))
}

func TestFileLoaderAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.yaml")
	require.NoError(t, os.WriteFile(path, []byte("openTags:\n  - AHV Networking\ncloseTags:\n  - Upgrade\n"), 0o644))

	h := NewHolder(FileLoader{Path: path})
	assert.Equal(t, 0, h.Current().Len())

	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, []string{"AHV Networking", "Upgrade"}, h.Current().All())
	assert.Equal(t, "file:"+path, h.Current().Source)

	require.NoError(t, os.WriteFile(path, []byte("openTags: [Prism Central - PC Management]\n"), 0o644))
	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, []string{"Prism Central - PC Management"}, h.Current().All())
}

func TestReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	calls := 0
	h := NewHolder(LoaderFunc(func(context.Context) (*Snapshot, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("store down")
		}
		return NewSnapshot([]string{"A"}, nil), nil
	}))

	require.NoError(t, h.Reload(context.Background()))
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, []string{"A"}, h.Current().All())

	assert.ErrorIs(t, NewStaticHolder(nil, nil).Reload(context.Background()), ErrNoLoader)
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	small := []string{"A"}
	large := []string{"A", "B", "C", "D"}
	next := 0
	var mu sync.Mutex
	h := NewHolder(LoaderFunc(func(context.Context) (*Snapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		if next%2 == 0 {
			return NewSnapshot(small, small), nil
		}
		return NewSnapshot(large, large), nil
	}))
	require.NoError(t, h.Reload(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s := h.Current()
				assert.Equal(t, len(s.OpenTags), len(s.CloseTags))
			}
		}()
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, h.Reload(context.Background()))
	}
	wg.Wait()
}

func TestScheduleRejectsBadExpression(t *testing.T) {
	h := NewStaticHolder([]string{"A"}, nil)

	c, err := Schedule(h, "")
	assert.NoError(t, err)
	assert.Nil(t, c)

	_, err = Schedule(h, "every tuesday")
	assert.Error(t, err)
}
