package buffer

import "testing"

func TestRingOverwritesOldest(t *testing.T) {
	ring := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		ring.Add(i)
	}

	got := ring.List()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestRingLastReturnsNewest(t *testing.T) {
	ring := NewRing[string](4)
	ring.Add("a")
	ring.Add("b")
	ring.Add("c")

	got := ring.Last(2)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected [b c], got %v", got)
	}
	if all := ring.Last(10); len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
}

func TestRingReset(t *testing.T) {
	ring := NewRing[int](2)
	ring.Add(1)
	ring.Reset()
	if ring.Len() != 0 {
		t.Fatalf("expected empty ring, got %d", ring.Len())
	}
	if ring.List() != nil {
		t.Fatalf("expected nil list after reset")
	}
	if ring.Cap() != 2 {
		t.Fatalf("expected capacity 2, got %d", ring.Cap())
	}
}
