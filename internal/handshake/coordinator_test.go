// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package handshake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func isReleased(c *Coordinator) bool {
	select {
	case <-c.Released():
		return true
	default:
		return false
	}
}

func permutations(in []int) [][]int {
	if len(in) <= 1 {
		return [][]int{append([]int(nil), in...)}
	}
	var out [][]int
	for i := range in {
		rest := make([]int, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]int{in[i]}, p...))
		}
	}
	return out
}

func TestReleaseAfterEveryPermutationWithDuplicates(t *testing.T) {
	expected := []int{0, 1, 2, 3}
	for _, perm := range permutations(expected) {
		// Every index is signalled twice; the second round must be a no-op.
		signals := append(append([]int(nil), perm...), perm...)

		c := New("s")
		require.NoError(t, c.RegisterExpected(expected))

		releases := 0
		for n, idx := range signals {
			wasReleased := isReleased(c)
			recorded, err := c.OnReady(idx)
			require.NoError(t, err)
			assert.Equal(t, n < len(perm), recorded, "signal %d of %v", n, signals)
			if !wasReleased && isReleased(c) {
				releases++
				assert.Equal(t, len(perm)-1, n, "released before all distinct indices signalled: %v", signals)
			}
		}
		assert.Equal(t, 1, releases, "perm %v", perm)
		assert.True(t, c.State().Released)
	}
}

func TestDuplicateReadyIsIdempotent(t *testing.T) {
	once := New("s")
	twice := New("s")
	require.NoError(t, once.RegisterExpected([]int{0, 1}))
	require.NoError(t, twice.RegisterExpected([]int{0, 1}))

	_, err := once.OnReady(0)
	require.NoError(t, err)

	recorded, err := twice.OnReady(0)
	require.NoError(t, err)
	assert.True(t, recorded)
	recorded, err = twice.OnReady(0)
	require.NoError(t, err)
	assert.False(t, recorded)

	opts := cmpopts.IgnoreFields(State{}, "RegisteredAt", "ReleasedAt")
	if diff := cmp.Diff(once.State(), twice.State(), opts); diff != "" {
		t.Fatalf("state mismatch (-once +twice):\n%s", diff)
	}
	assert.False(t, twice.State().Released)
}

func TestConcurrentOnReadyReleasesExactlyOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const k = 64
	expected := make([]int, k)
	for i := range expected {
		expected[i] = i
	}
	c := New("s", WithTimeout(10*time.Second))
	require.NoError(t, c.RegisterExpected(expected))

	start := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	recorded := 0
	for i := 0; i < k; i++ {
		for dup := 0; dup < 2; dup++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				<-start
				ok, err := c.OnReady(idx)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					recorded++
					mu.Unlock()
				}
			}(i)
		}
	}
	close(start)
	wg.Wait()

	assert.Equal(t, k, recorded)
	require.NoError(t, c.Wait(context.Background()))
	st := c.State()
	assert.True(t, st.Released)
	assert.Equal(t, expected, st.Ready)
	assert.Empty(t, st.Missing())
}

func TestPrimaryReleasedOnlyAfterBothSecondaries(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := New("s", WithTimeout(5*time.Second))
	require.NoError(t, c.RegisterExpected([]int{0, 1}))

	waitErr := make(chan error, 1)
	go func() { waitErr <- c.Wait(context.Background()) }()

	var wg sync.WaitGroup
	gate := make(chan struct{})
	for _, idx := range []int{0, 1} {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-gate
			_, err := c.OnReady(i)
			assert.NoError(t, err)
		}(idx)
	}

	select {
	case <-waitErr:
		t.Fatal("primary released before any secondary signalled")
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	wg.Wait()

	select {
	case err := <-waitErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("primary not released after both secondaries signalled")
	}
}

func TestNotReleasedAfterPartialSet(t *testing.T) {
	c := New("s")
	require.NoError(t, c.RegisterExpected([]int{0, 1}))
	_, err := c.OnReady(1)
	require.NoError(t, err)

	assert.False(t, isReleased(c))
	assert.Equal(t, []int{0}, c.State().Missing())
}

func TestTimeoutNeverReleases(t *testing.T) {
	c := New("s", WithTimeout(20*time.Millisecond))
	require.NoError(t, c.RegisterExpected([]int{0, 1}))
	_, err := c.OnReady(0)
	require.NoError(t, err)

	err = c.Wait(context.Background())
	require.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Contains(t, err.Error(), "[1]")

	recorded, err := c.OnReady(1)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.False(t, isReleased(c))

	st := c.State()
	assert.False(t, st.Released)
	assert.ErrorIs(t, st.Err, ErrHandshakeTimeout)
	assert.Equal(t, []int{0}, st.Ready)
}

func TestAbortWakesWaitingPrimary(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := New("s")
	require.NoError(t, c.RegisterExpected([]int{0}))

	waitErr := make(chan error, 1)
	go func() { waitErr <- c.Wait(context.Background()) }()

	cause := errors.New("camera arm failed")
	assert.True(t, c.Abort(cause))
	assert.False(t, c.Abort(cause), "second abort is a no-op")

	select {
	case err := <-waitErr:
		require.ErrorIs(t, err, ErrAborted)
		require.ErrorIs(t, err, cause)
	case <-time.After(time.Second):
		t.Fatal("abort did not wake the primary")
	}

	recorded, err := c.OnReady(0)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.False(t, isReleased(c))
}

func TestAbortWithoutCause(t *testing.T) {
	c := New("s")
	require.NoError(t, c.RegisterExpected([]int{0}))
	require.True(t, c.Abort(nil))
	require.ErrorIs(t, c.Wait(context.Background()), ErrAborted)
}

func TestAbortAfterReleaseIsIgnored(t *testing.T) {
	c := New("s")
	require.NoError(t, c.RegisterExpected(nil))
	assert.False(t, c.Abort(errors.New("late")))
	require.NoError(t, c.Wait(context.Background()))
	assert.NoError(t, c.Err())
}

func TestAbortBeforeRegistration(t *testing.T) {
	c := New("s")
	require.True(t, c.Abort(errors.New("early")))
	err := c.RegisterExpected([]int{0})
	require.ErrorIs(t, err, ErrAborted)
}

func TestEmptyExpectedSetReleasesImmediately(t *testing.T) {
	c := New("s", WithTimeout(time.Millisecond))
	require.NoError(t, c.RegisterExpected(nil))
	assert.True(t, isReleased(c))
	require.NoError(t, c.Wait(context.Background()))
}

func TestRegisterExpectedOnlyOnce(t *testing.T) {
	c := New("s")
	require.NoError(t, c.RegisterExpected([]int{0}))
	require.ErrorIs(t, c.RegisterExpected([]int{0}), ErrAlreadyRegistered)
}

func TestOnReadyBeforeRegistration(t *testing.T) {
	c := New("s")
	_, err := c.OnReady(0)
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestOnReadyUnexpectedIndex(t *testing.T) {
	c := New("s")
	require.NoError(t, c.RegisterExpected([]int{0}))
	recorded, err := c.OnReady(7)
	require.ErrorIs(t, err, ErrUnexpectedIndex)
	assert.False(t, recorded)
	assert.Empty(t, c.State().Ready)
}

func TestWaitClaimedOnce(t *testing.T) {
	c := New("s")
	require.NoError(t, c.RegisterExpected(nil))
	require.NoError(t, c.Wait(context.Background()))
	require.ErrorIs(t, c.Wait(context.Background()), ErrAlreadyClaimed)
}

func TestWaitHonoursContext(t *testing.T) {
	c := New("s")
	require.NoError(t, c.RegisterExpected([]int{0}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
	assert.NoError(t, c.Err())
}
