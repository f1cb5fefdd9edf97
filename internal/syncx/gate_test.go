package syncx

import (
	"context"
	"testing"
	"time"
)

func TestGateWaitResolvesImmediatelyWhenCountPositive(t *testing.T) {
	g := NewGate(1)
	ctx := context.Background()
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestGateWaitQueuesWhenExhausted(t *testing.T) {
	g := NewGate(1)
	ctx := context.Background()
	if err := g.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	resolved := make(chan struct{})
	go func() {
		if err := g.Wait(ctx); err != nil {
			t.Errorf("second Wait: %v", err)
		}
		close(resolved)
	}()

	select {
	case <-resolved:
		t.Fatal("second waiter resolved before a slot was released")
	case <-time.After(20 * time.Millisecond):
	}

	g.Increment()

	select {
	case <-resolved:
	case <-time.After(time.Second):
		t.Fatal("second waiter was not released by Increment")
	}
}

func TestGateUnboundedNeverBlocks(t *testing.T) {
	g := NewGate(0)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := g.Wait(ctx); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
}

func TestGateSetCountWakesMultipleWaiters(t *testing.T) {
	g := NewGate(0)
	g.unbounded = false // force bounded semantics for this test
	ctx := context.Background()

	released := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			if err := g.Wait(ctx); err == nil {
				released <- i
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	g.SetCount(2)

	count := 0
	for count < 2 {
		select {
		case <-released:
			count++
		case <-time.After(time.Second):
			t.Fatalf("only %d of 2 expected waiters released", count)
		}
	}

	select {
	case <-released:
		t.Fatal("third waiter released with only two slots granted")
	case <-time.After(20 * time.Millisecond):
	}
}
