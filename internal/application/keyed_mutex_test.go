package application

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	t.Parallel()

	km := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("session-1")
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder per key, saw %d", maxSeen)
	}
	if km.size() != 0 {
		t.Fatalf("expected lock entries to be released, %d remain", km.size())
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	t.Parallel()

	km := newKeyedMutex()
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected distinct keys not to block each other")
	}
}
