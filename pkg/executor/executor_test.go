package executor

import (
	"testing"

	"github.com/OpenCyphal-Garage/libuavcan/pkg/alloc"
)

func TestSpinOnceFiresDueCallbacksInOrder(t *testing.T) {
	e := New(nil)
	e.SetClock(func() TimePoint { return 100 })

	var order []string
	hA, err := e.Register(func(TimePoint) { order = append(order, "a") }, false)
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	hB, err := e.Register(func(TimePoint) { order = append(order, "b") }, false)
	if err != nil {
		t.Fatalf("register b: %v", err)
	}
	// b registered after a but armed for an earlier time; registration
	// order only breaks ties between equal times, and here times differ,
	// so b must fire first.
	hA.ScheduleAt(50)
	hB.ScheduleAt(10)

	e.SpinOnce()
	if len(order) != 2 || order[0] != "b" || order[1] != "a" {
		t.Fatalf("expected [b a], got %v", order)
	}
}

func TestSpinOnceTieBreaksByRegistrationOrder(t *testing.T) {
	e := New(nil)
	e.SetClock(func() TimePoint { return 5 })

	var order []string
	hA, _ := e.Register(func(TimePoint) { order = append(order, "a") }, false)
	hB, _ := e.Register(func(TimePoint) { order = append(order, "b") }, false)
	hB.ScheduleAt(5)
	hA.ScheduleAt(5)

	e.SpinOnce()
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected registration-order tie-break [a b], got %v", order)
	}
}

func TestAutoRemoveFiresOnce(t *testing.T) {
	e := New(nil)
	e.SetClock(func() TimePoint { return 0 })

	count := 0
	h, _ := e.Register(func(TimePoint) { count++ }, true)
	h.ScheduleAt(0)
	e.SpinOnce()
	if !h.ScheduleAt(1) {
		// already removed; rescheduling a gone callback must fail
	} else {
		t.Fatalf("expected ScheduleAt to fail after auto-remove")
	}
	e.SpinOnce()
	if count != 1 {
		t.Fatalf("expected exactly one firing, got %d", count)
	}
}

func TestRescheduleToNowWaitsForNextSpin(t *testing.T) {
	e := New(nil)
	now := TimePoint(0)
	e.SetClock(func() TimePoint { return now })

	var fires int
	var h *Handle
	h, _ = e.Register(func(TimePoint) {
		fires++
		h.ScheduleAt(now) // re-arm for "now"; must not fire again this tick
	}, false)
	h.ScheduleAt(0)

	e.SpinOnce()
	if fires != 1 {
		t.Fatalf("expected 1 fire in first spin, got %d", fires)
	}
	e.SpinOnce()
	if fires != 2 {
		t.Fatalf("expected 2 fires after second spin, got %d", fires)
	}
}

func TestCancelRemovesRegardlessOfArmingState(t *testing.T) {
	e := New(nil)
	e.SetClock(func() TimePoint { return 0 })
	fired := false
	h, _ := e.Register(func(TimePoint) { fired = true }, false)
	h.ScheduleAt(0)
	if !h.Cancel() {
		t.Fatalf("expected cancel to succeed")
	}
	if h.Cancel() {
		t.Fatalf("expected second cancel to report false")
	}
	e.SpinOnce()
	if fired {
		t.Fatalf("canceled callback must not fire")
	}
}

func TestRegisterChargesAndCancelReleasesBudget(t *testing.T) {
	res := alloc.New(alloc.Spec{General: callbackAccountingBytes}) // room for exactly one
	e := New(res)
	h1, err := e.Register(func(TimePoint) {}, false)
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := e.Register(func(TimePoint) {}, false); err == nil {
		t.Fatalf("expected second register to fail over budget")
	}
	h1.Cancel()
	if _, err := e.Register(func(TimePoint) {}, false); err != nil {
		t.Fatalf("expected register to succeed after release: %v", err)
	}
}
