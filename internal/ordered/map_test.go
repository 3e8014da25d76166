package ordered

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMapOrder(t *testing.T) {
	m := New[string, int]()
	m.Set("b", 1)
	m.Set("a", 2)
	m.Set("c", 3)
	m.Set("a", 20)

	if diff := cmp.Diff([]string{"b", "a", "c"}, m.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if v, ok := m.Get("a"); !ok || v != 20 {
		t.Errorf("expected a=20, got %d (%v)", v, ok)
	}
}

func TestMapDelete(t *testing.T) {
	m := New[string, int]()
	m.Set("x", 1)
	m.Set("y", 2)
	m.Set("z", 3)

	if !m.Delete("y") {
		t.Fatal("expected delete to report true")
	}
	if m.Delete("y") {
		t.Error("second delete should report false")
	}
	if m.Len() != 2 {
		t.Errorf("expected len 2, got %d", m.Len())
	}

	m.Set("y", 4)
	if diff := cmp.Diff([]string{"x", "z", "y"}, m.Keys()); diff != "" {
		t.Errorf("reinserted key should move to the end (-want +got):\n%s", diff)
	}
}

func TestMapCompact(t *testing.T) {
	m := New[int, string]()
	for i := 0; i < 100; i++ {
		m.Set(i, fmt.Sprint(i))
	}
	for i := 0; i < 90; i++ {
		m.Delete(i)
	}

	want := make([]int, 0, 10)
	for i := 90; i < 100; i++ {
		want = append(want, i)
	}
	if diff := cmp.Diff(want, m.Keys()); diff != "" {
		t.Errorf("keys after compaction (-want +got):\n%s", diff)
	}
	if len(m.keys) > 50 {
		t.Errorf("expected compaction to shrink storage, got %d slots", len(m.keys))
	}
	if v, ok := m.Get(95); !ok || v != "95" {
		t.Errorf("lookup after compaction failed: %q %v", v, ok)
	}
}

func TestMapRangeStops(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	var seen []string
	m.Range(func(k string, _ int) bool {
		seen = append(seen, k)
		return k != "b"
	})
	if diff := cmp.Diff([]string{"a", "b"}, seen); diff != "" {
		t.Errorf("range did not stop (-want +got):\n%s", diff)
	}
}

func TestGetOrInit(t *testing.T) {
	m := New[string, []int]()
	calls := 0
	init := func() []int {
		calls++
		return []int{}
	}
	m.GetOrInit("k", init)
	m.GetOrInit("k", init)
	if calls != 1 {
		t.Errorf("expected init once, got %d", calls)
	}
}
