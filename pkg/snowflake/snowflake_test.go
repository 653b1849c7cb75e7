package snowflake

import "testing"

func TestNewNodeRange(t *testing.T) {
	if _, err := NewNode(-1); err == nil {
		t.Fatal("expected error for negative node")
	}
	if _, err := NewNode(1024); err == nil {
		t.Fatal("expected error for node > 1023")
	}
	if _, err := NewNode(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerateMonotonicUnique(t *testing.T) {
	n, err := NewNode(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prev := int64(0)
	seen := make(map[int64]bool)
	for i := 0; i < 10000; i++ {
		id := n.Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
		prev = id
	}
}
