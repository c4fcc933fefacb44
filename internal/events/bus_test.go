package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan StreamStartedEvent, 1)

	unsub := bus.Subscribe(func(e StreamStartedEvent) {
		received <- e
	})
	defer unsub()

	ev := StreamStartedEvent{
		SessionID:  "s1",
		DevicePath: "/dev/video0",
		Format:     "640x480 YUYV planes=1",
		Memory:     "mmap",
		Slots:      4,
	}
	bus.Publish(ev)

	if got := <-received; got != ev {
		t.Errorf("received %+v, want %+v", got, ev)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan StreamStoppedEvent, 1)
	received2 := make(chan StreamStoppedEvent, 1)

	unsub1 := bus.Subscribe(func(e StreamStoppedEvent) { received1 <- e })
	defer unsub1()
	unsub2 := bus.Subscribe(func(e StreamStoppedEvent) { received2 <- e })
	defer unsub2()

	bus.Publish(StreamStoppedEvent{SessionID: "s1", Reason: "canceled"})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan DeviceRemovedEvent, 1)

	unsub := bus.Subscribe(func(e DeviceRemovedEvent) { received <- e })

	bus.Publish(DeviceRemovedEvent{DevicePath: "/dev/video0"})
	<-received

	unsub()

	bus.Publish(DeviceRemovedEvent{DevicePath: "/dev/video1"})
	select {
	case <-received:
		t.Fatal("received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	dropped := make(chan bool, 1)
	removed := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(FrameDroppedEvent) { dropped <- true })
	defer unsub1()
	unsub2 := bus.Subscribe(func(DeviceRemovedEvent) { removed <- true })
	defer unsub2()

	bus.Publish(FrameDroppedEvent{Sequence: 10, Missed: 2})
	<-dropped

	select {
	case <-removed:
		t.Fatal("DeviceRemovedEvent subscriber received FrameDroppedEvent")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_UnknownHandler(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()

	var nilBus *Bus
	nilBus.Publish(StreamStartedEvent{})
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(FrameDroppedEvent) { receivedCh <- true })
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range eventsPerGoroutine {
				bus.Publish(FrameDroppedEvent{
					Sequence:  uint32(i),
					Missed:    1,
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestEventJSON(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		wantKeys []string
		noKeys   []string
	}{
		{
			name:     "started",
			event:    StreamStartedEvent{SessionID: "s", Slots: 4},
			wantKeys: []string{"session_id", "device_path", "format", "memory", "slots", "timestamp"},
		},
		{
			name:     "stopped without error",
			event:    StreamStoppedEvent{Reason: "canceled"},
			wantKeys: []string{"frames", "reason"},
			noKeys:   []string{"error"},
		},
		{
			name:     "dropped",
			event:    FrameDroppedEvent{Sequence: 9, Missed: 3},
			wantKeys: []string{"sequence", "missed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			var result map[string]any
			if err := json.Unmarshal(data, &result); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			for _, k := range tt.wantKeys {
				if _, ok := result[k]; !ok {
					t.Errorf("missing key %q in %s", k, data)
				}
			}
			for _, k := range tt.noKeys {
				if _, ok := result[k]; ok {
					t.Errorf("unexpected key %q in %s", k, data)
				}
			}
		})
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[DeviceRemovedEvent](bus, ch)
	defer unsub()

	bus.Publish(DeviceRemovedEvent{DevicePath: "/dev/video0", DevName: "video0"})

	received := <-ch
	ev, ok := received.(DeviceRemovedEvent)
	if !ok {
		t.Fatalf("received %T, want DeviceRemovedEvent", received)
	}
	if ev.DevName != "video0" {
		t.Errorf("DevName = %q, want video0", ev.DevName)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any)

	unsub := SubscribeToChannel[StreamStartedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(StreamStartedEvent{SessionID: "s"})
		done <- true
	}()

	<-done
}
