package loadbalance

import "testing"

func TestRoundRobinCyclesInOrder(t *testing.T) {
	b := NewRoundRobin([]string{"a:1", "b:2", "c:3"})

	want := []string{"a:1", "b:2", "c:3", "a:1", "b:2"}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("call %d: got %q, want %q", i, got, w)
		}
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := NewRoundRobin(nil)
	if got := b.Next(); got != "" {
		t.Errorf("expected empty string for empty balancer, got %q", got)
	}
}

func TestRoundRobinSingleAddr(t *testing.T) {
	b := NewRoundRobin([]string{"only:1"})
	for i := 0; i < 5; i++ {
		if got := b.Next(); got != "only:1" {
			t.Errorf("call %d: got %q, want %q", i, got, "only:1")
		}
	}
}

func TestRoundRobinAddrsIsACopy(t *testing.T) {
	orig := []string{"a:1", "b:2"}
	b := NewRoundRobin(orig)
	got := b.Addrs()
	got[0] = "mutated"
	if b.Next() == "mutated" {
		t.Error("Addrs() should return a copy, not share storage with internal state")
	}
}
