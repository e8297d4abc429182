package ws

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/CogniPilot/dendrite/pkg/models"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func newTestClient() *Client {
	return &Client{
		conn:   nil, // Not needed for hub tests
		send:   make(chan Message, ClientSendBuffer),
		logger: testLogger(),
	}
}

func newFilteredTestClient(id models.DeviceId) *Client {
	c := newTestClient()
	c.deviceFilter = id
	return c
}

func TestNewHub(t *testing.T) {
	hub := NewHub(testLogger())

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.clients == nil {
		t.Error("hub.clients map is nil")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}

func TestRegister(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient()

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	hub.mu.RLock()
	_, exists := hub.clients[client]
	hub.mu.RUnlock()

	if !exists {
		t.Error("client not found in hub.clients map")
	}
}

func TestRegisterMultipleClients(t *testing.T) {
	hub := NewHub(testLogger())

	for i := 0; i < 3; i++ {
		hub.Register(newTestClient())
		if hub.ClientCount() != i+1 {
			t.Errorf("ClientCount() = %d, want %d", hub.ClientCount(), i+1)
		}
	}
}

func TestUnregister(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient()

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}

	hub.mu.RLock()
	_, exists := hub.clients[client]
	hub.mu.RUnlock()
	if exists {
		t.Error("client still exists in hub.clients map after unregister")
	}

	if _, ok := <-client.send; ok {
		t.Error("client.send channel is not closed")
	}
}

func TestUnregisterNotRegistered(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Unregister() panicked: %v", r)
		}
	}()

	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}

	select {
	case _, ok := <-client.send:
		if !ok {
			t.Error("channel closed for unregistered client")
		}
	default:
	}
}

func TestBroadcast(t *testing.T) {
	hub := NewHub(testLogger())

	client1 := newTestClient()
	client2 := newTestClient()
	client3 := newTestClient()

	hub.Register(client1)
	hub.Register(client2)
	hub.Register(client3)

	msg := Message{
		Type:      MessageDeviceDiscovered,
		Timestamp: time.Now(),
		Device:    &models.Device{ID: "dev-1"},
	}

	hub.Broadcast(msg)

	for i, client := range []*Client{client1, client2, client3} {
		select {
		case received := <-client.send:
			if received.Type != MessageDeviceDiscovered {
				t.Errorf("client %d received Type = %v, want %v", i+1, received.Type, MessageDeviceDiscovered)
			}
			if received.Device == nil || received.Device.ID != "dev-1" {
				t.Errorf("client %d received Device = %+v", i+1, received.Device)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("client %d did not receive message", i+1)
		}
	}
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := NewHub(testLogger())

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Broadcast() to empty hub panicked: %v", r)
		}
	}()

	hub.Broadcast(Message{Type: MessageScanCompleted, Total: 5, Found: 3})
}

func TestBroadcastDropsMessagesWhenBufferFull(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient()
	hub.Register(client)

	for i := 0; i < 256; i++ {
		client.send <- Message{Type: MessageScanStarted, Timestamp: time.Now()}
	}

	if len(client.send) != 256 {
		t.Fatalf("client.send buffer length = %d, want 256", len(client.send))
	}

	hub.Broadcast(Message{Type: MessageDeviceRemoved, DeviceID: "dropped"})

	if len(client.send) != 256 {
		t.Errorf("client.send buffer length = %d, want 256 (message should have been dropped)", len(client.send))
	}

	received := <-client.send
	if received.DeviceID == "dropped" {
		t.Error("dropped message was unexpectedly received")
	}
}

func TestConcurrentRegisterUnregisterBroadcast(t *testing.T) {
	hub := NewHub(testLogger())

	var wg sync.WaitGroup
	numClients := 50
	numBroadcasts := 100

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			client := newTestClient()
			hub.Register(client)

			go func() {
				for range client.send {
				}
			}()

			time.Sleep(10 * time.Millisecond)
			hub.Unregister(client)
		}(i)
	}

	for i := 0; i < numBroadcasts; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			hub.Broadcast(Message{Type: MessageScanStarted, Timestamp: time.Now()})
		}(i)
	}

	wg.Wait()

	if hub.ClientCount() < 0 {
		t.Errorf("ClientCount() = %d, should not be negative", hub.ClientCount())
	}
}

func TestConcurrentClientCount(t *testing.T) {
	hub := NewHub(testLogger())

	var wg sync.WaitGroup
	var countSum int64

	for i := 0; i < 10; i++ {
		hub.Register(newTestClient())
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			atomic.AddInt64(&countSum, int64(hub.ClientCount()))
		}()
	}

	wg.Wait()

	expectedSum := int64(10 * 100)
	if countSum != expectedSum {
		t.Errorf("sum of all ClientCount() calls = %d, want %d", countSum, expectedSum)
	}
}

func TestBroadcastMessageTypes(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient()
	hub.Register(client)

	tests := []Message{
		{Type: MessageScanStarted, Timestamp: time.Now()},
		{Type: MessageScanCompleted, Timestamp: time.Now(), Found: 4, Total: 10},
		{Type: MessageDeviceDiscovered, Timestamp: time.Now(), Device: &models.Device{ID: "dev-1"}},
		{Type: MessageDeviceOffline, Timestamp: time.Now(), DeviceID: "dev-2"},
		{Type: MessagePong, Timestamp: time.Now()},
	}

	for _, msg := range tests {
		hub.Broadcast(msg)
		select {
		case received := <-client.send:
			if received.Type != msg.Type {
				t.Errorf("received Type = %v, want %v", received.Type, msg.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("did not receive message of type %v", msg.Type)
		}
	}
}

func TestClientChannelCapacity(t *testing.T) {
	client := newTestClient()
	if cap(client.send) != 256 {
		t.Errorf("client.send channel capacity = %d, want 256", cap(client.send))
	}
}

func TestBroadcastDeviceFilter(t *testing.T) {
	hub := NewHub(testLogger())

	interested := newFilteredTestClient("dev-1")
	other := newFilteredTestClient("dev-2")
	unfiltered := newTestClient()

	hub.Register(interested)
	hub.Register(other)
	hub.Register(unfiltered)

	hub.Broadcast(Message{
		Type:   MessageDeviceUpdated,
		Device: &models.Device{ID: "dev-1"},
	})

	select {
	case msg := <-interested.send:
		if msg.Device == nil || msg.Device.ID != "dev-1" {
			t.Errorf("interested client received %+v, want device dev-1", msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("interested client did not receive message for its device")
	}

	select {
	case msg := <-other.send:
		t.Errorf("client filtered to a different device received %+v", msg)
	default:
	}

	select {
	case msg := <-unfiltered.send:
		if msg.Device == nil || msg.Device.ID != "dev-1" {
			t.Errorf("unfiltered client received %+v, want device dev-1", msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("unfiltered client did not receive message")
	}
}

func TestBroadcastFanOutEventWithoutDeviceAlwaysPassesFilter(t *testing.T) {
	hub := NewHub(testLogger())
	client := newFilteredTestClient("dev-1")
	hub.Register(client)

	hub.Broadcast(Message{Type: MessageScanCompleted, Found: 2, Total: 5})

	select {
	case msg := <-client.send:
		if msg.Type != MessageScanCompleted {
			t.Errorf("received Type = %v, want %v", msg.Type, MessageScanCompleted)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("filtered client did not receive a fleet-wide scan_completed event")
	}
}

func TestUnregisterTwice(t *testing.T) {
	hub := NewHub(testLogger())
	client := newTestClient()

	hub.Register(client)
	hub.Unregister(client)

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("second Unregister() panicked: %v", r)
		}
	}()

	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}
