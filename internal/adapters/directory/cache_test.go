package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) Username(ctx context.Context, userID int64) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func TestCachedDirectory_CachesHits(t *testing.T) {
	next := new(MockDirectory)
	next.On("Username", mock.Anything, int64(3)).Return("aragorn", nil).Once()

	d := NewCachedDirectory(next, 0, 0, nil)

	for range 3 {
		name, err := d.Username(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, "aragorn", name)
	}
	next.AssertExpectations(t)
}

func TestCachedDirectory_ErrorsAreNotCached(t *testing.T) {
	next := new(MockDirectory)
	next.On("Username", mock.Anything, int64(3)).Return("", errors.New("boom")).Once()
	next.On("Username", mock.Anything, int64(3)).Return("aragorn", nil).Once()

	d := NewCachedDirectory(next, 0, 0, nil)

	_, err := d.Username(context.Background(), 3)
	assert.Error(t, err)

	name, err := d.Username(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "aragorn", name)
	next.AssertExpectations(t)
}

func TestCachedDirectory_Forget(t *testing.T) {
	next := new(MockDirectory)
	next.On("Username", mock.Anything, int64(3)).Return("aragorn", nil).Twice()

	d := NewCachedDirectory(next, 0, 0, nil)
	_, _ = d.Username(context.Background(), 3)
	d.Forget(3)
	_, _ = d.Username(context.Background(), 3)

	next.AssertExpectations(t)
}

func TestCachedDirectory_CollapsesConcurrentLookups(t *testing.T) {
	release := make(chan struct{})
	next := new(MockDirectory)
	next.On("Username", mock.Anything, int64(5)).
		Run(func(mock.Arguments) { <-release }).
		Return("legolas", nil).
		Once()

	d := NewCachedDirectory(next, 0, time.Minute, nil)

	var wg sync.WaitGroup
	names := make([]string, 8)
	for i := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			names[i], _ = d.Username(context.Background(), 5)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, n := range names {
		assert.Equal(t, "legolas", n)
	}
	next.AssertExpectations(t)
}
