package task

import "testing"

func TestBacklogAverageIsPerKey(t *testing.T) {
	b := NewBacklog(4)
	b.Record("a", "b", 100)
	b.Record("a", "b", 200)
	b.Record("c", "d", 10)

	avg, ok := b.Average("a", "b")
	if !ok || avg != 150 {
		t.Fatalf("avg(a,b) = %v, %v; want 150, true", avg, ok)
	}
	avg, ok = b.Average("c", "d")
	if !ok || avg != 10 {
		t.Fatalf("avg(c,d) = %v, %v; want 10, true", avg, ok)
	}
}

func TestBacklogAverageMissingKey(t *testing.T) {
	b := NewBacklog(4)
	if _, ok := b.Average("x", "y"); ok {
		t.Fatal("expected no history for an unseen key")
	}
}

func TestBacklogDropsNonFiniteSamples(t *testing.T) {
	b := NewBacklog(4)
	b.Record("a", "b", 50)
	b.Record("a", "b", posInf())
	avg, ok := b.Average("a", "b")
	if !ok || avg != 50 {
		t.Fatalf("avg = %v, %v; want 50, true (Inf sample must be dropped)", avg, ok)
	}
}

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	b := NewBacklog(2)
	b.Record("a", "b", 10)
	b.Record("a", "b", 20)
	b.Record("a", "b", 30) // evicts 10
	avg, _ := b.Average("a", "b")
	if avg != 25 {
		t.Fatalf("avg = %v, want 25 (average of 20,30)", avg)
	}
}

func posInf() float64 {
	var zero float64
	return 1 / zero
}
