// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package syncx

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.xela.dev/mffilter/internal/testutil"
)

func TestProtected(t *testing.T) {
	t.Parallel()

	t.Run("read access", func(t *testing.T) {
		p := Protect(42)
		var result int
		p.RAccess(func(val int) {
			result = val
		})
		testutil.AssertEqual(t, result, 42)
	})

	t.Run("write access", func(t *testing.T) {
		var i int
		p := Protect(&i)
		p.Access(func(val *int) {
			*val = 43
		})
		var result int
		p.RAccess(func(val *int) { result = *val })
		testutil.AssertEqual(t, result, 43)
	})

	t.Run("concurrent access", func(t *testing.T) {
		var i int
		p := Protect(&i)
		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Access(func(val *int) {
					*val += 1
				})
			}()
		}
		wg.Wait()

		var result int
		p.RAccess(func(val *int) { result = *val })
		testutil.AssertEqual(t, result, 100)
	})
}

func TestLazy(t *testing.T) {
	t.Parallel()

	var l Lazy[int]
	var count int
	var mu sync.Mutex

	f := func() int {
		mu.Lock()
		defer mu.Unlock()
		count++
		return count
	}

	testutil.AssertEqual(t, l.Get(f), 1)
	testutil.AssertEqual(t, l.Get(f), 1)
	testutil.AssertEqual(t, count, 1)

	var l2 Lazy[string]
	f2 := func() (string, error) {
		return "", errors.New("something went wrong")
	}

	for range 2 {
		v, err := l2.GetErr(f2)
		testutil.AssertEqual(t, v, "")
		if err == nil {
			t.Fatal("err must not be nil")
		}
	}
}

func TestLimitedWaitGroup(t *testing.T) {
	t.Parallel()

	const limit = 5

	var (
		lwg     = NewLimitedWaitGroup(limit)
		active  atomic.Int64
		maxSeen atomic.Int64
		total   atomic.Int64
	)

	for range 50 {
		lwg.Go(func() {
			cur := active.Add(1)
			defer active.Add(-1)

			for {
				seen := maxSeen.Load()
				if cur <= seen || maxSeen.CompareAndSwap(seen, cur) {
					break
				}
			}
			total.Add(1)
		})
	}
	lwg.Wait()

	testutil.AssertEqual(t, total.Load(), int64(50))
	if maxSeen.Load() > limit {
		t.Fatalf("observed %d concurrent goroutines, limit is %d", maxSeen.Load(), limit)
	}
}
