package eventloop

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func startLoop(t *testing.T, queue int) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(queue, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.done
	})
	return l, cancel
}

func TestDo_RunsJobsOneAtATime(t *testing.T) {
	l, _ := startLoop(t, 128)

	var (
		wg      sync.WaitGroup
		running int
		maxSeen int
		total   int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), func(context.Context) {
				running++
				if running > maxSeen {
					maxSeen = running
				}
				total++
				running--
			})
			if err != nil {
				t.Errorf("do: %v", err)
			}
		}()
	}
	wg.Wait()
	if maxSeen != 1 || total != 50 {
		t.Fatalf("max concurrent=%d total=%d", maxSeen, total)
	}
}

func TestCall_ReturnsResult(t *testing.T) {
	l, _ := startLoop(t, 4)
	got, err := Call(context.Background(), l, func(context.Context) int { return 42 })
	if err != nil || got != 42 {
		t.Fatalf("got %d, %v", got, err)
	}
}

func TestDo_RecoversPanic(t *testing.T) {
	l, _ := startLoop(t, 4)
	err := l.Do(context.Background(), func(context.Context) { panic("boom") })
	if err == nil {
		t.Fatalf("expected error from panicking job")
	}
	if err := l.Do(context.Background(), func(context.Context) {}); err != nil {
		t.Fatalf("loop dead after panic: %v", err)
	}
}

func TestDo_CanceledContextSkipsJob(t *testing.T) {
	l, _ := startLoop(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := l.Do(ctx, func(context.Context) { ran = true })
	if !errors.Is(err, context.Canceled) || ran {
		t.Fatalf("err=%v ran=%v", err, ran)
	}
}

func TestDo_AfterStop(t *testing.T) {
	l, cancel := startLoop(t, 4)
	cancel()
	<-l.done
	if err := l.Do(context.Background(), func(context.Context) {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v", err)
	}
}
