package shutdown

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"
)

func TestHandler_RunsStepsInOrder(t *testing.T) {
	h := NewHandler(5*time.Second, nil)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string, err error) StepFunc {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		}
	}
	h.Step("sessions", record("sessions", nil))
	h.Step("peers", record("peers", errors.New("link stuck")))
	h.Step("store", record("store", nil))

	err := h.Run()
	if err == nil || err.Error() != "peers: link stuck" {
		t.Errorf("Run() error = %v", err)
	}
	if len(order) != 3 || order[0] != "sessions" || order[1] != "peers" || order[2] != "store" {
		t.Errorf("order = %v", order)
	}

	// A second run is a no-op that returns the same result.
	if err2 := h.Run(); err2 != err {
		t.Errorf("second Run() = %v", err2)
	}
	if len(order) != 3 {
		t.Errorf("steps ran twice: %v", order)
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestHandler_WaitSignal(t *testing.T) {
	h := NewHandler(time.Second, nil)
	ran := make(chan struct{})
	h.Step("mark", func(context.Context) error {
		close(ran)
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	syscall.Kill(syscall.Getpid(), syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return")
	}
	<-ran
}

func TestHandler_WaitContext(t *testing.T) {
	h := NewHandler(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Wait(ctx); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestHandler_StepDeadline(t *testing.T) {
	h := NewHandler(20*time.Millisecond, nil)
	h.Step("grace", func(ctx context.Context) error {
		return Sleep(ctx, time.Minute)
	})
	start := time.Now()
	if err := h.Run(); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("grace step ignored the deadline")
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v", err)
	}
	if err := Sleep(context.Background(), 5*time.Millisecond); err != nil {
		t.Errorf("Sleep() = %v", err)
	}
}
