package smoketest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/graftwork/livemigrate/pkg/migerr"
)

func TestRun_AllPass(t *testing.T) {
	var order []string
	checks := []Check{
		{Name: "a", Run: func(ctx context.Context) error { order = append(order, "a"); return nil }},
		{Name: "b", Run: func(ctx context.Context) error { order = append(order, "b"); return nil }},
	}
	r := Runner{Timeout: time.Second}
	if err := r.Run(context.Background(), checks); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected sequential a,b order, got %v", order)
	}
}

func TestRun_AbortsOnFirstFailure(t *testing.T) {
	var ran []string
	checks := []Check{
		{Name: "first", Run: func(ctx context.Context) error { ran = append(ran, "first"); return errors.New("boom") }},
		{Name: "second", Run: func(ctx context.Context) error { ran = append(ran, "second"); return nil }},
	}
	r := Runner{Timeout: time.Second}
	err := r.Run(context.Background(), checks)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !migerr.Is(err, migerr.SmokeFailed) {
		t.Fatalf("expected SmokeFailed, got %v", err)
	}
	if len(ran) != 1 {
		t.Fatalf("expected second check to be skipped, ran=%v", ran)
	}
}

func TestRun_TimesOutSlowCheck(t *testing.T) {
	checks := []Check{
		{Name: "slow", Run: func(ctx context.Context) error {
			select {
			case <-time.After(time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
	}
	r := Runner{Timeout: 10 * time.Millisecond}
	err := r.Run(context.Background(), checks)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !migerr.Is(err, migerr.SmokeFailed) {
		t.Fatalf("expected SmokeFailed, got %v", err)
	}
}

func TestRun_EmptySuiteSucceeds(t *testing.T) {
	r := Runner{}
	if err := r.Run(context.Background(), nil); err != nil {
		t.Fatalf("empty suite should succeed: %v", err)
	}
}
