package mapping

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/portfolio-skills/internal/domain"
)

func collectEmitter(limit int) (*emitter, *[]Event) {
	var got []Event
	em := &emitter{
		now: func() time.Time { return testTime },
		yield: func(ev Event) bool {
			got = append(got, ev)
			return limit <= 0 || len(got) < limit
		},
	}
	return em, &got
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func TestEmitterOrder(t *testing.T) {
	t.Parallel()

	em, got := collectEmitter(0)
	em.message("a")
	em.message("b")
	em.finish(domain.StateComplete, &domain.ContentSchema{Version: "1.0.0"}, map[string]any{"suggestedQuestions": []string{}})
	em.message("late")
	em.finish(domain.StateValidating, nil, nil)

	want := []EventType{EventMessage, EventMessage, EventStateChange, EventSchemaUpdate, EventComplete}
	if diff := cmp.Diff(want, eventTypes(*got)); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
	if (*got)[2].Data["state"] != domain.StateComplete {
		t.Fatalf("unexpected state data %v", (*got)[2].Data)
	}
	if (*got)[4].Data == nil {
		t.Fatal("expected summary on complete event")
	}
	for _, ev := range *got {
		if !ev.Timestamp.Equal(testTime) {
			t.Fatalf("timestamp not set on %s", ev.Type)
		}
	}
}

func TestEmitterWithoutSchema(t *testing.T) {
	t.Parallel()

	em, got := collectEmitter(0)
	em.finish(domain.StateDiscoveringEntities, nil, nil)

	want := []EventType{EventStateChange, EventComplete}
	if diff := cmp.Diff(want, eventTypes(*got)); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestEmitterStopsAfterConsumerQuits(t *testing.T) {
	t.Parallel()

	em, got := collectEmitter(1)
	if em.message("first") {
		t.Fatal("expected message to report stop")
	}
	if em.message("second") {
		t.Fatal("expected stopped emitter to stay stopped")
	}
	em.finish(domain.StateComplete, nil, nil)

	if len(*got) != 1 {
		t.Fatalf("expected 1 event after stop, got %d", len(*got))
	}
}
