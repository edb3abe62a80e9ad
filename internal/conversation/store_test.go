// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/meri-bot/internal/apperr"
	"github.com/jeranaias/meri-bot/internal/llm"
	"github.com/jeranaias/meri-bot/internal/storage"
)

// =============================================================================
// TRIM
// =============================================================================

func countRoles(msgs []llm.Message) (users, assistants int) {
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser:
			users++
		case llm.RoleAssistant:
			assistants++
		}
	}
	return
}

func TestTrim_BoundAndBalance(t *testing.T) {
	for _, pairs := range []int{0, 1, 49, 50, 51, 120} {
		t.Run(fmt.Sprintf("%d pairs", pairs), func(t *testing.T) {
			var msgs []llm.Message
			for i := 0; i < pairs; i++ {
				msgs = append(msgs,
					llm.NewUserMessage(fmt.Sprintf("q%d", i)),
					llm.NewAssistantMessage(fmt.Sprintf("a%d", i)))
			}

			got := Trim(msgs, DefaultMaxMessages)
			users, assistants := countRoles(got)
			assert.LessOrEqual(t, len(got), DefaultMaxMessages)
			assert.LessOrEqual(t, users, DefaultMaxMessages/2)
			assert.LessOrEqual(t, assistants, DefaultMaxMessages/2)

			if pairs > 50 {
				// Oldest dropped first.
				assert.Equal(t, fmt.Sprintf("q%d", pairs-50), got[0].Content)
				assert.Equal(t, fmt.Sprintf("a%d", pairs-1), got[len(got)-1].Content)
			}
		})
	}
}

func TestTrim_UnbalancedRoles(t *testing.T) {
	var msgs []llm.Message
	for i := 0; i < 8; i++ {
		msgs = append(msgs, llm.NewUserMessage(fmt.Sprintf("u%d", i)))
	}
	msgs = append(msgs, llm.NewAssistantMessage("only"))

	got := Trim(msgs, 6)
	users, assistants := countRoles(got)
	assert.Equal(t, 3, users)
	assert.Equal(t, 1, assistants)
	assert.Equal(t, "u5", got[0].Content)
}

func TestTrim_KeepsSystemMessages(t *testing.T) {
	msgs := []llm.Message{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("u0"), llm.NewAssistantMessage("a0"),
		llm.NewUserMessage("u1"), llm.NewAssistantMessage("a1"),
	}
	got := Trim(msgs, 2)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"sys", "u1", "a1"}, []string{got[0].Content, got[1].Content, got[2].Content})
}

// =============================================================================
// STORE
// =============================================================================

func TestStore_AppendAndHistory(t *testing.T) {
	s := New(StoreLM, storage.NewMemoryBackend())
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	assert.Nil(t, s.History("u1"))
	s.Append("u1", "hello", "hi")
	s.Append("u1", "how are you", "fine")

	hist := s.History("u1")
	require.Len(t, hist, 4)
	assert.Equal(t, llm.RoleUser, hist[0].Role)
	assert.Equal(t, "fine", hist[3].Content)

	conv, ok := s.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 2, conv.TotalInteractions)
	assert.Equal(t, fixed, conv.LastUpdated)

	// Returned slices are copies.
	hist[0].Content = "mutated"
	assert.Equal(t, "hello", s.History("u1")[0].Content)
}

func TestStore_AppendTrims(t *testing.T) {
	s := New(StoreLM, storage.NewMemoryBackend(), WithMaxMessages(10))
	for i := 0; i < 20; i++ {
		s.Append("u", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}
	hist := s.History("u")
	assert.Len(t, hist, 10)
	assert.Equal(t, "q15", hist[0].Content)

	conv, _ := s.Get("u")
	assert.Equal(t, 20, conv.TotalInteractions)
}

func TestStore_Clear(t *testing.T) {
	s := New(StoreLM, storage.NewMemoryBackend())
	assert.False(t, s.Clear("nobody"))

	s.Append("u", "q", "a")
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Clear("u"))
	assert.Zero(t, s.Len())
	assert.Nil(t, s.History("u"))
}

func TestStore_FlushAndLoadRoundTrip(t *testing.T) {
	backend, err := storage.NewJSONBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	s := New(StoreReason, backend)
	s.Append("u1", "why", "because")
	s.Append("u2", "what", "that")
	require.True(t, s.Dirty())
	require.NoError(t, s.Flush(ctx))
	assert.False(t, s.Dirty())

	reloaded := New(StoreReason, backend)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, 2, reloaded.Len())
	assert.Equal(t, s.History("u1"), reloaded.History("u1"))
}

type failingBackend struct {
	storage.Backend
	fail atomic.Bool
}

func (f *failingBackend) Save(ctx context.Context, store string, r storage.Records) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.Backend.Save(ctx, store, r)
}

func TestStore_FlushFailureStaysDirty(t *testing.T) {
	backend := &failingBackend{Backend: storage.NewMemoryBackend()}
	backend.fail.Store(true)

	s := New(StoreLM, backend)
	s.Append("u", "q", "a")

	err := s.Flush(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrPersistence))
	assert.True(t, s.Dirty())

	backend.fail.Store(false)
	require.NoError(t, s.Flush(context.Background()))
	assert.False(t, s.Dirty())
}

// =============================================================================
// LOCKING
// =============================================================================

func TestStore_SameUserSerializes(t *testing.T) {
	s := New(StoreLM, storage.NewMemoryBackend())
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := s.Acquire(ctx, "same")
			if err != nil {
				t.Error(err)
				return
			}
			defer release()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
	assert.False(t, s.Busy("same"))
}

func TestStore_DifferentUsersDoNotBlock(t *testing.T) {
	s := New(StoreLM, storage.NewMemoryBackend())
	ctx := context.Background()

	release, err := s.Acquire(ctx, "alice")
	require.NoError(t, err)
	defer release()
	assert.True(t, s.Busy("alice"))

	done := make(chan struct{})
	go func() {
		r, err := s.Acquire(ctx, "bob")
		if err == nil {
			r()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bob blocked on alice's lock")
	}

	// Snapshots are not blocked by a held command lock.
	s.Append("alice", "q", "a")
	assert.Len(t, s.History("alice"), 2)
}

func TestStore_AcquireHonorsContext(t *testing.T) {
	s := New(StoreLM, storage.NewMemoryBackend())
	release, err := s.Acquire(context.Background(), "u")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, "u")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second call is a no-op
	assert.Empty(t, s.locks.locks)
}

// =============================================================================
// SET
// =============================================================================

func TestSet_FlushWithinAndLoad(t *testing.T) {
	backend := storage.NewMemoryBackend()
	set := NewSet(backend, nil)
	set.LM.Append("u", "q", "a")
	set.Global.Append("u", "g", "h")

	require.NoError(t, set.FlushWithin(time.Second))

	fresh := NewSet(backend, nil)
	require.NoError(t, fresh.Load(context.Background()))
	assert.Equal(t, 1, fresh.LM.Len())
	assert.Zero(t, fresh.Reason.Len())
	assert.Equal(t, 1, fresh.Global.Len())
}

func TestSet_RunCheckpoints(t *testing.T) {
	backend := storage.NewMemoryBackend()
	set := NewSet(backend, nil)
	set.LM.Append("u", "q", "a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		set.RunCheckpoints(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return !set.LM.Dirty() }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	records, err := backend.Load(context.Background(), StoreLM)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
