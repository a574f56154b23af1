package chat

import "testing"

func TestUnreadIncrementAndClear(t *testing.T) {
	u := NewUnreadIndex()

	if u.Has("a") {
		t.Fatal("fresh index should have no entries")
	}
	if n := u.Increment("a"); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	if n := u.Increment("a"); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}

	u.Clear("a")
	if u.Has("a") {
		t.Fatal("clear must remove the entry, not zero it")
	}
	if u.Count("a") != 0 {
		t.Fatal("cleared conversation should count 0")
	}
}

func TestUnreadDecrement(t *testing.T) {
	u := NewUnreadIndex()
	u.Increment("a")
	u.Increment("a")

	u.Decrement("a")
	if u.Count("a") != 1 {
		t.Fatalf("expected 1 after decrement, got %d", u.Count("a"))
	}

	u.Decrement("a")
	if u.Has("a") {
		t.Fatal("entry should disappear at zero")
	}

	// decrementing an absent entry is a no-op
	u.Decrement("b")
	if u.Has("b") {
		t.Fatal("decrement must not create entries")
	}
}

func TestUnreadSnapshotIsACopy(t *testing.T) {
	u := NewUnreadIndex()
	u.Increment("a")

	snap := u.Snapshot()
	snap["a"] = 99
	if u.Count("a") != 1 {
		t.Fatal("snapshot mutation leaked into the index")
	}
}
