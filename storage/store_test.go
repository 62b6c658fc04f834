package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"board-service/domain"
)

type fakeLoader struct {
	board *domain.Board
	err   error
	calls int
}

func (f *fakeLoader) LoadBoard(ctx context.Context, boardID string) (*domain.Board, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	if f.board == nil {
		return nil, false, nil
	}
	return f.board, true, nil
}

func content(s string) *string { return &s }

func TestGetOrCreateIsLazy(t *testing.T) {
	s := New(nil, nil)
	if _, ok := s.Get("b1"); ok {
		t.Fatal("board should not exist yet")
	}
	b := s.GetOrCreate(context.Background(), "b1")
	if b.ID != "b1" || b.Len() != 0 || b.Version != 0 {
		t.Fatalf("unexpected board %+v", b)
	}
	if again := s.GetOrCreate(context.Background(), "b1"); again != b {
		t.Fatal("expected same board state on second call")
	}
	if s.Boards() != 1 {
		t.Fatalf("expected 1 board, got %d", s.Boards())
	}
}

func TestGetOrCreateHydratesFromLoader(t *testing.T) {
	snap := domain.NewBoard("b1")
	snap.Version = 7
	snap.Notes["n1"] = domain.Note{ID: "n1", Content: "saved", Order: 1}
	loader := &fakeLoader{board: snap}
	s := New(loader, nil)

	b := s.GetOrCreate(context.Background(), "b1")
	if b.Version != 7 || b.Notes["n1"].Content != "saved" {
		t.Fatalf("expected hydrated board, got %+v", b)
	}
	s.GetOrCreate(context.Background(), "b1")
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
}

func TestGetOrCreateLoaderErrorStartsEmpty(t *testing.T) {
	s := New(&fakeLoader{err: errors.New("redis down")}, nil)
	b := s.GetOrCreate(context.Background(), "b1")
	if b.Len() != 0 || b.Version != 0 {
		t.Fatalf("expected empty board, got %+v", b)
	}
}

func TestCompareAndSwapRejectsStale(t *testing.T) {
	s := New(nil, nil)
	cur := s.GetOrCreate(context.Background(), "b1")
	first, _, _ := domain.Reduce(cur, domain.Mutation{Type: domain.NewNoteOrEdit, NoteID: "n1", Content: content("a")})
	second, _, _ := domain.Reduce(cur, domain.Mutation{Type: domain.NewNoteOrEdit, NoteID: "n1", Content: content("b")})

	if !s.CompareAndSwap("b1", cur, first) {
		t.Fatal("expected first swap to succeed")
	}
	if s.CompareAndSwap("b1", cur, second) {
		t.Fatal("expected stale swap to fail")
	}
	got, _ := s.Get("b1")
	if got != first {
		t.Fatal("state does not reflect the winning swap")
	}
	if s.CompareAndSwap("missing", cur, second) {
		t.Fatal("expected swap on unknown board to fail")
	}
}

func TestConcurrentSwapsLinearize(t *testing.T) {
	s := New(nil, nil)
	ctx := context.Background()
	s.GetOrCreate(ctx, "b1")

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				cur := s.GetOrCreate(ctx, "b1")
				id := "n" + string(rune('A'+i%26)) + string(rune('a'+i/26))
				next, _, err := domain.Reduce(cur, domain.Mutation{Type: domain.NewNoteOrEdit, NoteID: id, Content: content(id)})
				if err != nil {
					t.Errorf("reduce: %v", err)
					return
				}
				if s.CompareAndSwap("b1", cur, next) {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	b, _ := s.Get("b1")
	if b.Len() != writers {
		t.Fatalf("expected %d notes, got %d (lost update)", writers, b.Len())
	}
	if b.Version != writers {
		t.Fatalf("expected version %d, got %d", writers, b.Version)
	}
	orders := map[int]bool{}
	for _, n := range b.Notes {
		if orders[n.Order] {
			t.Fatalf("order %d assigned twice, mutations applied against a stale read", n.Order)
		}
		orders[n.Order] = true
	}
}

func TestDeliverRunsInVersionOrder(t *testing.T) {
	s := New(nil, nil)
	s.GetOrCreate(context.Background(), "b1")

	var mu sync.Mutex
	var got []uint64
	var wg sync.WaitGroup
	for v := uint64(5); v >= 1; v-- {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			s.Deliver("b1", v, func() {
				mu.Lock()
				got = append(got, v)
				mu.Unlock()
			})
		}(v)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	for i, v := range got {
		if v != uint64(i+1) {
			t.Fatalf("expected in-order delivery, got %v", got)
		}
	}
}

func TestDeliverDoesNotBlockOtherBoards(t *testing.T) {
	s := New(nil, nil)
	s.GetOrCreate(context.Background(), "b1")
	s.GetOrCreate(context.Background(), "b2")

	blocked := make(chan struct{})
	go s.Deliver("b1", 2, func() { close(blocked) })

	done := make(chan struct{})
	go s.Deliver("b2", 1, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delivery on b2 blocked by b1")
	}

	select {
	case <-blocked:
		t.Fatal("version 2 delivered before version 1")
	default:
	}
	s.Deliver("b1", 1, func() {})
	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("version 2 never delivered")
	}
}

func TestAttachWaitsForPendingDelivery(t *testing.T) {
	s := New(nil, nil)
	ctx := context.Background()
	cur := s.GetOrCreate(ctx, "b1")
	next, _, _ := domain.Reduce(cur, domain.Mutation{Type: domain.NewNoteOrEdit, NoteID: "n1", Content: content("a")})
	if !s.CompareAndSwap("b1", cur, next) {
		t.Fatal("swap failed")
	}

	attached := make(chan uint64, 1)
	go s.Attach(ctx, "b1", func(b *domain.Board) { attached <- b.Version })

	select {
	case <-attached:
		t.Fatal("attached before version 1 was delivered")
	case <-time.After(30 * time.Millisecond):
	}

	s.Deliver("b1", 1, func() {})
	select {
	case v := <-attached:
		if v != 1 {
			t.Fatalf("expected attach at version 1, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("attach never ran")
	}
}

func TestAttachBlocksLaterDelivery(t *testing.T) {
	s := New(nil, nil)
	ctx := context.Background()
	s.GetOrCreate(ctx, "b1")

	release := make(chan struct{})
	entered := make(chan struct{})
	go s.Attach(ctx, "b1", func(*domain.Board) {
		close(entered)
		<-release
	})
	<-entered

	delivered := make(chan struct{})
	go s.Deliver("b1", 1, func() { close(delivered) })
	select {
	case <-delivered:
		t.Fatal("delivery overtook attach")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("delivery never ran")
	}
}
