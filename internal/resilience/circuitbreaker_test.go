package resilience

import (
	"errors"
	"testing"
)

func TestExecuteSuccess(t *testing.T) {
	cb := New(CombinationConfig("test"))
	result, err := cb.Execute(func() (any, error) { return 42, nil })
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.(int) != 42 {
		t.Fatalf("got %v, want 42", result)
	}
}

func TestExecuteWrapsError(t *testing.T) {
	cb := New(CombinationConfig("test"))
	boom := errors.New("boom")
	_, err := cb.Execute(func() (any, error) { return nil, boom })
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestChunkLoadTripsAfterTwoConsecutiveFailures(t *testing.T) {
	cb := New(ChunkLoadConfig("trip-test"))
	boom := errors.New("down")
	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, boom })
	}
	if cb.State().String() != "open" {
		t.Fatalf("expected breaker to be open after 2 consecutive failures, got %s", cb.State().String())
	}
}

func TestCombinationDoesNotTripOnMinorityFailures(t *testing.T) {
	cb := New(CombinationConfig("combo-minority"))
	boom := errors.New("one bad combo")
	for i := 0; i < 9; i++ {
		_, _ = cb.Execute(func() (any, error) { return i, nil })
	}
	_, _ = cb.Execute(func() (any, error) { return nil, boom })
	if cb.State().String() != "closed" {
		t.Fatalf("expected breaker to stay closed with a 1/10 failure ratio, got %s", cb.State().String())
	}
}

func TestCombinationTripsOnMajorityFailures(t *testing.T) {
	cb := New(CombinationConfig("combo-majority"))
	boom := errors.New("systemic failure")
	for i := 0; i < 10; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, boom })
	}
	if cb.State().String() != "open" {
		t.Fatalf("expected breaker to open after a majority of 10 requests failed, got %s", cb.State().String())
	}
}
