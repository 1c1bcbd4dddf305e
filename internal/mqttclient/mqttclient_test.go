// internal/mqttclient/mqttclient_test.go
package mqttclient

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/hik-bridge/internal/core"
)

func newTestPublisher() *Publisher {
	return &Publisher{
		topics: NewTopics("hikvision_cameras", "homeassistant"),
		wake:   make(chan struct{}, 1),
	}
}

func TestTopicsScheme(t *testing.T) {
	topics := NewTopics("hikvision_cameras/", "homeassistant/")

	assert.Equal(t, "hikvision_cameras/portaria/1/VMD", topics.State("portaria", 1, "VMD"))
	assert.Equal(t, "hikvision_cameras/portaria/1/VMD/attributes", topics.Attributes("portaria", 1, "VMD"))
	assert.Equal(t, "hikvision_cameras/portaria/availability", topics.Availability("portaria"))
	assert.Equal(t, "hikvision_cameras/bridge/availability", topics.BridgeAvailability())
	assert.Equal(t, "hikvision_cameras/bridge/stats", topics.Stats())
	assert.Equal(t, "homeassistant/binary_sensor/portaria_1_VMD/config", topics.Discovery("portaria_1_VMD"))
	assert.Equal(t, "homeassistant/sensor/hik_bridge_cpu_percent/config", topics.StatsDiscovery("cpu_percent"))
}

func TestEnqueueIsFIFO(t *testing.T) {
	p := newTestPublisher()

	p.PublishState("portaria", 1, "VMD", true)
	p.PublishAvailability("portaria", core.AvailabilityOnline)
	p.PublishState("portaria", 1, "VMD", false)

	m1, ok := p.pop()
	require.True(t, ok)
	assert.Equal(t, "ON", string(m1.Payload))
	assert.True(t, m1.Retained)
	assert.Equal(t, byte(1), m1.QoS)

	m2, _ := p.pop()
	assert.Equal(t, "online", string(m2.Payload))

	m3, _ := p.pop()
	assert.Equal(t, "OFF", string(m3.Payload))

	_, ok = p.pop()
	assert.False(t, ok)
}

func TestEnqueueDropsOldestNonRetainedFirst(t *testing.T) {
	p := newTestPublisher()

	// enche a fila: uma retida antiga no fundo, resto não-retido
	p.Enqueue(Message{Topic: "keep/me", Retained: true, QoS: 1})
	for i := 1; i < queueCap; i++ {
		p.Enqueue(Message{Topic: fmt.Sprintf("attr/%d", i), QoS: 1})
	}
	require.Equal(t, queueCap, p.QueueLen())

	p.Enqueue(Message{Topic: "new/one", QoS: 1})
	assert.Equal(t, queueCap, p.QueueLen())
	assert.Equal(t, uint64(1), p.Dropped())

	// a retida do fundo sobreviveu; a não-retida mais antiga (attr/1) caiu
	first, _ := p.pop()
	assert.Equal(t, "keep/me", first.Topic)
	second, _ := p.pop()
	assert.Equal(t, "attr/2", second.Topic)
}

func TestEnqueueDropsRetainedOnlyAsLastResort(t *testing.T) {
	p := newTestPublisher()

	for i := 0; i < queueCap; i++ {
		p.Enqueue(Message{Topic: fmt.Sprintf("state/%d", i), Retained: true, QoS: 1})
	}
	p.Enqueue(Message{Topic: "state/new", Retained: true, QoS: 1})

	assert.Equal(t, queueCap, p.QueueLen())
	first, _ := p.pop()
	assert.Equal(t, "state/1", first.Topic) // state/0 foi sacrificada
}

func TestPushFrontRequeuesAtHead(t *testing.T) {
	p := newTestPublisher()
	p.Enqueue(Message{Topic: "a"})
	p.Enqueue(Message{Topic: "b"})

	m, _ := p.pop()
	require.Equal(t, "a", m.Topic)

	// publicação falhou: volta para a frente, a ordem não quebra
	p.pushFront(m)
	m, _ = p.pop()
	assert.Equal(t, "a", m.Topic)
}
