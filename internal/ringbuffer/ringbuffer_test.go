package ringbuffer_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"browserd/internal/ringbuffer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type entry struct {
	ts   time.Time
	text string
}

func (e entry) Timestamp() time.Time { return e.ts }

func TestCapacityNeverExceeded(t *testing.T) {
	buf := ringbuffer.New[entry](1000)
	for i := 0; i < 1100; i++ {
		buf.Append(entry{ts: time.Now(), text: fmt.Sprintf("%d", i)})
	}
	require.Equal(t, 1000, buf.Len())
	require.LessOrEqual(t, buf.Len(), buf.Capacity())
}

func TestOverflowKeepsLastCapacityInOrder(t *testing.T) {
	buf := ringbuffer.New[entry](1000)
	base := time.Now()
	for i := 0; i < 1100; i++ {
		buf.Append(entry{ts: base.Add(time.Duration(i) * time.Millisecond), text: fmt.Sprintf("%d", i)})
	}
	got := buf.Query(ringbuffer.Filter[entry]{}, 5)
	require.Len(t, got, 5)
	want := []string{"1095", "1096", "1097", "1098", "1099"}
	for i, w := range want {
		require.Equal(t, w, got[i].text)
	}
	require.EqualValues(t, 1100, buf.TotalAdded())
}

func TestQueryRespectsFilterAndLimit(t *testing.T) {
	buf := ringbuffer.New[entry](100)
	base := time.Now()
	for i := 0; i < 10; i++ {
		buf.Append(entry{ts: base.Add(time.Duration(i) * time.Millisecond), text: fmt.Sprintf("item-%d", i)})
	}
	filter := ringbuffer.Filter[entry]{Match: func(e entry) bool {
		return e.text == "item-2" || e.text == "item-5" || e.text == "item-8"
	}}
	got := buf.Query(filter, 10)
	require.Len(t, got, 3)
	require.Equal(t, "item-2", got[0].text)
	require.Equal(t, "item-5", got[1].text)
	require.Equal(t, "item-8", got[2].text)

	limited := buf.Query(filter, 2)
	require.Len(t, limited, 2)
	require.Equal(t, "item-5", limited[0].text)
	require.Equal(t, "item-8", limited[1].text)
}

func TestConcurrentAppendAndQuerySnapshotConsistent(t *testing.T) {
	buf := ringbuffer.New[entry](500)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		i := 0
		for {
			select {
			case <-stop:
				return
			default:
				buf.Append(entry{ts: time.Now(), text: fmt.Sprintf("%d", i)})
				i++
			}
		}
	}()

	for i := 0; i < 50; i++ {
		before := buf.Query(ringbuffer.Filter[entry]{}, 0)
		// Every item in a snapshot must itself have been committed; no torn
		// reads, no panics from concurrent slice mutation.
		for _, e := range before {
			require.NotEmpty(t, e.text)
		}
	}
	close(stop)
	wg.Wait()
}
