package ebus_test

import (
	"testing"
	"time"

	"github.com/ptcan/msdflash/pkg/ebus"
)

func TestPublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		value   float64
		wantErr bool
	}{
		{
			name:  "test",
			topic: "publish-test",
			value: 1.23,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotErr := ebus.Publish(tt.topic, tt.value)
			if gotErr != nil {
				if !tt.wantErr {
					t.Errorf("Publish() failed: %v", gotErr)
				}
				return
			}
			if tt.wantErr {
				t.Fatal("Publish() succeeded unexpectedly")
			}
		})
	}
}

func TestSubscribe(t *testing.T) {
	ch := ebus.Subscribe("subscribe-test")
	if ch == nil {
		t.Fatal("Subscribe() returned nil channel")
	}
	defer ebus.Unsubscribe(ch)
	if err := ebus.Publish("subscribe-test", 3.14); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-ch:
		if v != 3.14 {
			t.Errorf("got %v, want 3.14", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no value delivered")
	}
}

func TestSubscribeReplaysLastValue(t *testing.T) {
	if err := ebus.Publish("replay-test", 42); err != nil {
		t.Fatal(err)
	}
	// Give the bus goroutine time to cache it.
	time.Sleep(20 * time.Millisecond)
	ch := ebus.Subscribe("replay-test")
	defer ebus.Unsubscribe(ch)
	select {
	case v := <-ch:
		if v != 42 {
			t.Errorf("replayed %v, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("cached value not replayed")
	}
}

func TestSubscribeFunc(t *testing.T) {
	got := make(chan float64, 1)
	cleanup := ebus.SubscribeFunc("func-test", func(v float64) {
		select {
		case got <- v:
		default:
		}
	})
	defer cleanup()
	if err := ebus.Publish("func-test", 2.71); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-got:
		if v != 2.71 {
			t.Errorf("got %v, want 2.71", v)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestSubscribeAllCarriesTimestamp(t *testing.T) {
	ch := ebus.SubscribeAll()
	defer ebus.UnsubscribeAll(ch)
	before := time.Now()
	if err := ebus.Publish("all-test", 7); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-ch:
			if msg.Topic != "all-test" {
				continue // replayed value from another test
			}
			if msg.Value != 7 {
				t.Errorf("value = %v, want 7", msg.Value)
			}
			if msg.Time.Before(before.Add(-time.Second)) {
				t.Errorf("stale timestamp %v", msg.Time)
			}
			return
		case <-deadline:
			t.Fatal("message not delivered")
		}
	}
}

func TestDIFFAggregator(t *testing.T) {
	ebus.RegisterAggregator(ebus.DIFFAggregator("diff-a", "diff-b", "diff-out"))
	ch := ebus.Subscribe("diff-out")
	defer ebus.Unsubscribe(ch)
	if err := ebus.Publish("diff-a", 10); err != nil {
		t.Fatal(err)
	}
	if err := ebus.Publish("diff-b", 25); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-ch:
		if v != 15 {
			t.Errorf("diff = %v, want 15", v)
		}
	case <-time.After(time.Second):
		t.Fatal("aggregator never published")
	}
}
