package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/chatmesh-go/internal/storage"
)

func TestEngine_GetSetDelete(t *testing.T) {
	e := New()
	ctx := context.Background()

	if _, err := e.Get(ctx, []byte("k")); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Fatalf("Get missing = %v, want ErrKeyNotFound", err)
	}
	if err := e.Set(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	got, err := e.Get(ctx, []byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	got[0] = 'x'
	if again, _ := e.Get(ctx, []byte("k")); string(again) != "v" {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}
	e.Delete(ctx, []byte("k"))
	if _, err := e.Get(ctx, []byte("k")); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestEngine_TTL(t *testing.T) {
	e := New()
	now := time.Unix(1000, 0)
	e.now = func() time.Time { return now }
	ctx := context.Background()

	e.SetWithTTL(ctx, []byte("a/1"), []byte("x"), time.Minute)
	if _, err := e.Get(ctx, []byte("a/1")); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := e.Get(ctx, []byte("a/1")); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Errorf("Get after expiry = %v", err)
	}

	n := 0
	e.Scan(ctx, []byte("a/"), func(_, _ []byte) bool { n++; return true })
	if n != 0 {
		t.Errorf("scan visited %d expired entries", n)
	}
	if e.Len() != 0 {
		t.Errorf("expired entry not swept, len = %d", e.Len())
	}
}

func TestEngine_ScanOrder(t *testing.T) {
	e := New()
	ctx := context.Background()
	for _, k := range []string{"p/3", "p/1", "q/0", "p/2"} {
		e.Set(ctx, []byte(k), nil)
	}

	var keys []string
	e.Scan(ctx, []byte("p/"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	want := []string{"p/1", "p/2", "p/3"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestEngine_Closed(t *testing.T) {
	e := New()
	e.Close()
	if err := e.Set(context.Background(), []byte("k"), nil); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Set after close = %v, want ErrClosed", err)
	}
}
