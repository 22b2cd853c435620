package handlers

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"netscope/internal/models"
)

type recordingClient struct {
	mu       sync.Mutex
	received []models.WSMessage
	fail     bool
}

func (c *recordingClient) SendMessage(msg models.WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return fmt.Errorf("send queue full")
	}
	c.received = append(c.received, msg)
	return nil
}

func (c *recordingClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub := NewHub()
	a := &recordingClient{}
	b := &recordingClient{}
	hub.Register(a)
	hub.Register(b)

	hub.Broadcast(models.WSMessage{Type: "capture_started"})

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	a := &recordingClient{}
	hub.Register(a)
	hub.Unregister(a)

	hub.Broadcast(models.WSMessage{Type: "packet"})

	assert.Zero(t, a.count())
}

func TestHubBroadcastSurvivesFailingClient(t *testing.T) {
	hub := NewHub()
	bad := &recordingClient{fail: true}
	good := &recordingClient{}
	hub.Register(bad)
	hub.Register(good)

	hub.Broadcast(models.WSMessage{Type: "packet"})
	hub.Broadcast(models.WSMessage{Type: "packet"})

	assert.Equal(t, 2, good.count())
}

func TestHubUnregisterUnknownClient(t *testing.T) {
	hub := NewHub()
	assert.NotPanics(t, func() {
		hub.Unregister(&recordingClient{})
	})
}

func TestHubConcurrentUse(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &recordingClient{}
			hub.Register(c)
			hub.Broadcast(models.WSMessage{Type: "packet"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
}
