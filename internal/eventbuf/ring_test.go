package eventbuf

import (
	"testing"

	"matchpulse/internal/model"
)

func ev(minute int) model.Event {
	return model.Event{FixtureID: "f1", Minute: minute, Type: model.EventShotOn, Team: model.SideHome}
}

func TestBuffer_AppendAndRead(t *testing.T) {
	b := New(50)
	b.Append("f1", ev(10), ev(12), ev(15))

	got := b.Events("f1")
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, want := range []int{10, 12, 15} {
		if got[i].Minute != want {
			t.Errorf("event %d: expected minute %d, got %d", i, want, got[i].Minute)
		}
	}

	if got := b.Events("unknown"); got != nil {
		t.Errorf("unknown fixture: expected nil, got %v", got)
	}
}

func TestBuffer_OverwritesOldestWhenFull(t *testing.T) {
	b := New(5)
	for minute := 1; minute <= 8; minute++ {
		b.Append("f1", ev(minute))
	}

	got := b.Events("f1")
	if len(got) != 5 {
		t.Fatalf("expected capacity-bounded 5 events, got %d", len(got))
	}
	for i, want := range []int{4, 5, 6, 7, 8} {
		if got[i].Minute != want {
			t.Errorf("event %d: expected minute %d, got %d", i, want, got[i].Minute)
		}
	}
}

func TestBuffer_SnapshotDoesNotAliasRing(t *testing.T) {
	b := New(10)
	b.Append("f1", ev(1))

	snap := b.Events("f1")
	b.Append("f1", ev(2))

	if len(snap) != 1 || snap[0].Minute != 1 {
		t.Errorf("reader copy mutated by later append: %v", snap)
	}
}

func TestBuffer_PerFixtureIsolation(t *testing.T) {
	b := New(10)
	b.Append("f1", ev(1))
	b.Append("f2", ev(2), ev(3))

	if n := len(b.Events("f1")); n != 1 {
		t.Errorf("f1: expected 1 event, got %d", n)
	}
	if n := len(b.Events("f2")); n != 2 {
		t.Errorf("f2: expected 2 events, got %d", n)
	}

	ids := b.Fixtures()
	if len(ids) != 2 {
		t.Errorf("expected 2 fixtures, got %v", ids)
	}
}

func TestBuffer_Drop(t *testing.T) {
	b := New(10)
	b.Append("f1", ev(1))
	b.Drop("f1")

	if got := b.Events("f1"); got != nil {
		t.Errorf("expected nil after drop, got %v", got)
	}
}
