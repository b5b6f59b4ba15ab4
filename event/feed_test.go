package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedDeliversToAll(t *testing.T) {
	var (
		feed FeedOf[int]
		wg   sync.WaitGroup
		got  = make([][]int, 3)
	)
	for i := range got {
		ch := make(chan int)
		sub := feed.Subscribe(ch)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sub.Unsubscribe()
			for v := range ch {
				got[i] = append(got[i], v)
				if len(got[i]) == 2 {
					return
				}
			}
		}(i)
	}
	assert.Equal(t, 3, feed.Send(1))
	assert.Equal(t, 3, feed.Send(2))
	wg.Wait()

	for i := range got {
		assert.Equal(t, []int{1, 2}, got[i], "subscriber %d", i)
	}
	assert.Equal(t, 0, feed.Send(3), "every subscriber has left")
}

func TestFeedUnsubscribeUnblocksSend(t *testing.T) {
	var feed FeedOf[string]
	sub := feed.Subscribe(make(chan string))

	done := make(chan int)
	go func() { done <- feed.Send("stuck") }()

	time.Sleep(10 * time.Millisecond)
	sub.Unsubscribe()
	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(time.Second):
		t.Fatal("send did not return after unsubscribe")
	}
	_, open := <-sub.Err()
	assert.False(t, open)
}

func TestSubscriptionScope(t *testing.T) {
	var (
		feed  FeedOf[int]
		scope SubscriptionScope
	)
	s1 := scope.Track(feed.Subscribe(make(chan int, 1)))
	s2 := scope.Track(feed.Subscribe(make(chan int, 1)))
	require.NotNil(t, s1)
	require.NotNil(t, s2)
	assert.Equal(t, 2, scope.Count())

	s1.Unsubscribe()
	assert.Equal(t, 1, scope.Count())

	scope.Close()
	assert.Equal(t, 0, scope.Count())
	late := feed.Subscribe(make(chan int, 1))
	assert.Nil(t, scope.Track(late), "closed scope must not track")
	late.Unsubscribe()
	assert.Equal(t, 0, feed.Send(1))
}
