package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"home-controller/internal/application"
)

func TestLoop_RunsTasksInOrder(t *testing.T) {
	loop := startLoop(t)

	var got []int
	for i := range 5 {
		loop.Post(func() { got = append(got, i) })
	}
	onLoop(t, loop, func() {})

	for i, v := range got {
		if v != i {
			t.Fatalf("task order = %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d tasks, want 5", len(got))
	}
}

func TestLoop_RecoversPanics(t *testing.T) {
	loop := startLoop(t)

	loop.Post(func() { panic("boom") })

	ran := false
	onLoop(t, loop, func() { ran = true })
	if !ran {
		t.Error("loop did not keep running after a panic")
	}
}

func TestLoop_StoppedRejectsWork(t *testing.T) {
	loop := application.NewLoop(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	if loop.Post(func() {}) {
		t.Error("Post succeeded on a stopped loop")
	}
	if err := loop.Do(context.Background(), func() {}); !errors.Is(err, application.ErrLoopStopped) {
		t.Errorf("Do = %v, want ErrLoopStopped", err)
	}
}
