package connect

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient() *Client {
	return NewClient(Options{
		SpotifyHostname: "spotify.com",
		DealerHost:      "dealer.spotify.com",
		SpClientHost:    "gae-spclient.spotify.com",
		DeviceName:      "test device",
		Cookie:          func() string { return "cookie" },
	})
}

func TestGeneratedDeviceID(t *testing.T) {
	c := newTestClient()
	id := c.DeviceID()
	if len(id) != len("spotwire_")+8 {
		t.Errorf("unexpected generated device id %q", id)
	}
	if id[:9] != "spotwire_" {
		t.Errorf("generated device id should carry the prefix, got %q", id)
	}
	if other := newTestClient().DeviceID(); other == id {
		t.Error("generated device ids must differ between clients")
	}

	pinned := NewClient(Options{
		SpotifyHostname: "spotify.com",
		DeviceID:        "pinned-1",
		Cookie:          func() string { return "" },
	})
	if pinned.DeviceID() != "pinned-1" {
		t.Errorf("pinned device id must survive, got %q", pinned.DeviceID())
	}
}

func TestHandlePayloadRoutesClusterUpdates(t *testing.T) {
	c := newTestClient()

	c.handlePayload(map[string]any{
		"update_reason": "DEVICE_STATE_CHANGED",
		"cluster": map[string]any{
			"active_device_id": "remote-1",
			"player_state":     map[string]any{"is_playing": true},
		},
	})

	current := c.Reconciler().Current()
	if current == nil {
		t.Fatal("cluster update should reach the reconciler")
	}
	if current.ActiveDeviceID != "remote-1" {
		t.Errorf("unexpected active device %q", current.ActiveDeviceID)
	}
	if current.UpdateReason != "DEVICE_STATE_CHANGED" {
		t.Errorf("unexpected update reason %q", current.UpdateReason)
	}
}

func TestHandlePayloadIgnoresUnrelated(t *testing.T) {
	c := newTestClient()
	c.handlePayload(map[string]any{"type": "broadcast"})
	c.handlePayload(map[string]any{"update_reason": "DEVICE_STATE_CHANGED"})

	if c.Reconciler().Current() != nil {
		t.Error("unrelated or bodyless payloads must not produce a snapshot")
	}
}

func TestOnReplaceStateConcurrentRegistration(t *testing.T) {
	c := newTestClient()

	const handlers = 16
	var fired atomic.Int32
	var wg sync.WaitGroup
	wg.Add(handlers)
	for i := 0; i < handlers; i++ {
		go func() {
			defer wg.Done()
			c.OnReplaceState(func(map[string]any) { fired.Add(1) })
			// Dispatch interleaves with registration; both must be safe.
			c.handlePayload(map[string]any{"type": "replace_state"})
		}()
	}
	wg.Wait()
	c.handlePayload(map[string]any{"type": "replace_state"})

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() < handlers {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d handlers fired", fired.Load(), handlers)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOnReplaceStateDispatch(t *testing.T) {
	c := newTestClient()

	var mu sync.Mutex
	var got map[string]any
	done := make(chan struct{})
	c.OnReplaceState(func(content map[string]any) {
		mu.Lock()
		got = content
		mu.Unlock()
		close(done)
	})

	// No cluster yet, so the simulator rejects the event; the registered
	// handler must still see it.
	c.handlePayload(map[string]any{
		"type":          "replace_state",
		"state_machine": map[string]any{"state_machine_id": "m1"},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replace_state handler was not dispatched")
	}
	mu.Lock()
	defer mu.Unlock()
	if got["type"] != "replace_state" {
		t.Errorf("handler received %v", got)
	}
	if c.Simulator().HasSession() {
		t.Error("no session should open without a cluster")
	}
}
