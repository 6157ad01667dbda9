package event

import (
	"testing"
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	d := NewDispatcher(nil)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		d.Subscribe(TopicMessage, func(Topic, interface{}) {
			order = append(order, i)
		})
	}

	d.Publish(TopicMessage, nil)

	if len(order) != 5 {
		t.Fatalf("delivered to %d handlers, want 5", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("delivery order = %v", order)
		}
	}
}

func TestPublishIsTopicScoped(t *testing.T) {
	d := NewDispatcher(nil)

	var faults, restores int
	d.Subscribe(TopicZoneFault, func(Topic, interface{}) { faults++ })
	d.Subscribe(TopicZoneRestore, func(Topic, interface{}) { restores++ })

	d.Publish(TopicZoneFault, nil)
	d.Publish(TopicZoneFault, nil)

	if faults != 2 || restores != 0 {
		t.Fatalf("faults = %d, restores = %d, want 2, 0", faults, restores)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	d := NewDispatcher(nil)

	var kept, canceled int
	d.Subscribe(TopicMessage, func(Topic, interface{}) { kept++ })
	sub := d.Subscribe(TopicMessage, func(Topic, interface{}) { canceled++ })

	d.Publish(TopicMessage, nil)
	sub.Cancel()
	sub.Cancel() // safe to repeat
	d.Publish(TopicMessage, nil)

	if kept != 2 {
		t.Errorf("kept handler ran %d times, want 2", kept)
	}
	if canceled != 1 {
		t.Errorf("canceled handler ran %d times, want 1", canceled)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	d := NewDispatcher(nil)

	var errs []*HandlerError
	d.Subscribe(TopicHandlerError, func(_ Topic, payload interface{}) {
		errs = append(errs, payload.(*HandlerError))
	})

	var after bool
	d.Subscribe(TopicMessage, func(Topic, interface{}) { panic("boom") })
	d.Subscribe(TopicMessage, func(Topic, interface{}) { after = true })

	d.Publish(TopicMessage, nil)

	if !after {
		t.Fatal("handler after the panicking one did not run")
	}
	if len(errs) != 1 {
		t.Fatalf("got %d handler errors, want 1", len(errs))
	}
	if errs[0].Topic != TopicMessage || errs[0].Recovered != "boom" {
		t.Fatalf("handler error = %+v", errs[0])
	}
}

func TestHandlerErrorHandlerPanicDoesNotRecurse(t *testing.T) {
	d := NewDispatcher(nil)

	d.Subscribe(TopicHandlerError, func(Topic, interface{}) { panic("again") })
	d.Subscribe(TopicMessage, func(Topic, interface{}) { panic("boom") })

	// Must return rather than recurse or propagate.
	d.Publish(TopicMessage, nil)
}

func TestPayloadPassedThrough(t *testing.T) {
	d := NewDispatcher(nil)

	var got interface{}
	d.Subscribe(TopicPanelState, func(_ Topic, payload interface{}) { got = payload })

	want := "payload"
	d.Publish(TopicPanelState, want)

	if got != want {
		t.Fatalf("payload = %v, want %v", got, want)
	}
}
