package storage

import "testing"

func TestIDAllocator(t *testing.T) {
	a := NewIDAllocator("server-a")

	first := a.Next(KindUser)
	second := a.Next(KindUser)
	if first <= 0 || second <= first {
		t.Fatalf("ids not increasing: %d %d", first, second)
	}
	if first&nodeTagMask != a.Tag() {
		t.Errorf("id %d does not carry tag %d", first, a.Tag())
	}

	t.Run("kinds are independent", func(t *testing.T) {
		if got := a.Next(KindChannel); got != first {
			t.Errorf("first channel id = %d, want %d", got, first)
		}
	})

	t.Run("observe seeds counter", func(t *testing.T) {
		b := NewIDAllocator("server-a")
		b.Observe(KindUser, second)
		if got := b.Next(KindUser); got <= second {
			t.Errorf("next after observe = %d, want > %d", got, second)
		}
	})

	t.Run("foreign ids ignored", func(t *testing.T) {
		other := NewIDAllocator("server-b")
		if other.Tag() == a.Tag() {
			t.Skip("tags collide for these names")
		}
		b := NewIDAllocator("server-a")
		b.Observe(KindUser, other.Next(KindUser)+1<<20)
		if got := b.Next(KindUser); got != first {
			t.Errorf("next = %d, want %d", got, first)
		}
	})
}
