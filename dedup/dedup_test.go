package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-enrichment/logger"
	"github.com/saiset-co/sai-enrichment/types"
)

func newDeduplicatorForTest() *Deduplicator {
	return NewDeduplicator(context.Background(), logger.NewZapWrapper(zap.NewNop()))
}

func TestDoCollapsesConcurrentCallers(t *testing.T) {
	d := newDeduplicatorForTest()

	var calls int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]interface{}, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.Do(context.Background(), "images:v2:osm-1", fn)
		}(i)
	}

	// Let every caller reach the registry before the work settles.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < 10; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
}

func TestDoEmptyKeyRejected(t *testing.T) {
	d := newDeduplicatorForTest()

	_, err := d.Do(context.Background(), "", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, types.ErrCacheKeyEmpty)
}

func TestDoSequentialCallsRunFreshWork(t *testing.T) {
	d := newDeduplicatorForTest()

	var calls int32
	fn := func(ctx context.Context) (interface{}, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	first, err := d.Do(context.Background(), "k", fn)
	require.NoError(t, err)
	second, err := d.Do(context.Background(), "k", fn)
	require.NoError(t, err)

	assert.Equal(t, int32(1), first)
	assert.Equal(t, int32(2), second)
	assert.False(t, d.Pending("k"))
}

func TestDoCallerCancelReleasesOnlyThatCaller(t *testing.T) {
	d := newDeduplicatorForTest()

	release := make(chan struct{})
	fn := func(ctx context.Context) (interface{}, error) {
		<-release
		return "late", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Do(ctx, "k", fn)
		errCh <- err
	}()

	resCh := make(chan interface{}, 1)
	go func() {
		res, _ := d.Do(context.Background(), "k", fn)
		resCh <- res
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller never released")
	}

	close(release)
	select {
	case res := <-resCh:
		assert.Equal(t, "late", res)
	case <-time.After(time.Second):
		t.Fatal("surviving caller never got the result")
	}
}

func TestDoSharesErrorsButNeverRemembersThem(t *testing.T) {
	d := newDeduplicatorForTest()

	boom := types.NewErrorf("upstream down")
	_, err := d.Do(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	res, err := d.Do(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res)
}

func TestDoRecoversFromPanic(t *testing.T) {
	d := newDeduplicatorForTest()

	_, err := d.Do(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
		panic("worker blew up")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in deduplicated work")
	assert.False(t, d.Pending("k"))
}
