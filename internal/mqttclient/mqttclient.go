// internal/mqttclient/mqttclient.go
package mqttclient

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sua-org/hik-bridge/internal/core"
)

// queueCap limita a fila de saída. Broker fora do ar por muito tempo:
// descartamos as mensagens mais antigas não-retidas primeiro (estado e
// discovery retidos são os últimos a cair, e com ERROR no log).
const queueCap = 1024

const publishTimeout = 10 * time.Second

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string
}

// Message é uma publicação pendente na fila de saída.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
	QoS      byte
}

// Publisher é a única conexão MQTT do processo. Todas as publicações
// passam pela fila interna (FIFO), então a ordem relativa de emissão é a
// ordem de chegada no broker.
type Publisher struct {
	cli    mqtt.Client
	topics Topics

	mu    sync.Mutex
	queue []Message
	wake  chan struct{}

	onConnect   func()
	published   atomic.Uint64
	droppedMsgs atomic.Uint64
}

// New conecta ao broker e registra o LWT do bridge. Falha de conexão sobe
// para o chamador decidir (o main tenta algumas vezes antes de desistir).
func New(cfg Config, topics Topics) (*Publisher, error) {
	p := &Publisher{
		topics: topics,
		wake:   make(chan struct{}, 1),
	}

	broker := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	// LWT: se o processo morrer sem despedida, o broker avisa por nós
	opts.SetWill(topics.BridgeAvailability(), string(core.AvailabilityOffline), 1, true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// anula o LWT da sessão anterior e dispara o replay do bridge
		tok := c.Publish(topics.BridgeAvailability(), 1, true, string(core.AvailabilityOnline))
		tok.WaitTimeout(publishTimeout)
		p.mu.Lock()
		cb := p.onConnect
		p.mu.Unlock()
		if cb != nil {
			go cb()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[mqtt] connection lost: %v", err)
	})

	p.cli = mqtt.NewClient(opts)
	token := p.cli.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout (%s)", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}

	log.Printf("[mqtt] connected to %s as %s", broker, cfg.ClientID)
	return p, nil
}

// SetOnConnect registra o callback de (re)conexão. O bridge usa para
// republicar discovery, estados e availabilities retidos.
func (p *Publisher) SetOnConnect(fn func()) {
	p.mu.Lock()
	p.onConnect = fn
	p.mu.Unlock()
}

func (p *Publisher) Topics() Topics { return p.topics }

// Enqueue coloca a mensagem na fila de saída. Nunca bloqueia: com a fila
// cheia, descarta a mais antiga não-retida (retida só em último caso).
func (p *Publisher) Enqueue(msg Message) {
	p.mu.Lock()
	if len(p.queue) >= queueCap {
		p.dropOneLocked()
	}
	p.queue = append(p.queue, msg)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// dropOneLocked abre espaço na fila cheia. Chamar com p.mu preso.
func (p *Publisher) dropOneLocked() {
	for i, m := range p.queue {
		if !m.Retained {
			log.Printf("[mqtt] queue full, dropping oldest non-retained message (topic=%s)", m.Topic)
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			p.droppedMsgs.Add(1)
			return
		}
	}
	// só retidas na fila: perder uma corrompe o estado visível no broker
	log.Printf("[mqtt] ERROR: queue full of retained messages, dropping oldest (topic=%s)", p.queue[0].Topic)
	p.queue = p.queue[1:]
	p.droppedMsgs.Add(1)
}

// Run é o loop de despacho da fila. Bloqueia até o contexto morrer; antes
// de retornar tenta esvaziar o que sobrou (best effort, com timeout).
func (p *Publisher) Run(ctx context.Context) {
	for {
		msg, ok := p.pop()
		if !ok {
			select {
			case <-ctx.Done():
				p.flush()
				return
			case <-p.wake:
				continue
			}
		}

		if err := p.publish(msg); err != nil {
			log.Printf("[mqtt] publish to %s failed: %v (requeueing)", msg.Topic, err)
			p.pushFront(msg)
			select {
			case <-ctx.Done():
				p.flush()
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (p *Publisher) pop() (Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return Message{}, false
	}
	msg := p.queue[0]
	p.queue = p.queue[1:]
	return msg, true
}

func (p *Publisher) pushFront(msg Message) {
	p.mu.Lock()
	p.queue = append([]Message{msg}, p.queue...)
	p.mu.Unlock()
}

func (p *Publisher) publish(msg Message) error {
	token := p.cli.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
	if ok := token.WaitTimeout(publishTimeout); !ok {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return err
	}
	p.published.Add(1)
	return nil
}

// flush tenta entregar a fila restante no shutdown (OFFs forçados e
// offline das câmeras estão aqui; vale a espera curta).
func (p *Publisher) flush() {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg, ok := p.pop()
		if !ok {
			return
		}
		if err := p.publish(msg); err != nil {
			log.Printf("[mqtt] flush: publish to %s failed: %v", msg.Topic, err)
			return
		}
	}
}

// Published devolve o total de publicações confirmadas pelo broker.
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Dropped devolve o total de mensagens descartadas por fila cheia.
func (p *Publisher) Dropped() uint64 { return p.droppedMsgs.Load() }

func (p *Publisher) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close publica a despedida do bridge de forma síncrona e desconecta.
func (p *Publisher) Close() {
	if p.cli == nil || !p.cli.IsConnected() {
		return
	}
	tok := p.cli.Publish(p.topics.BridgeAvailability(), 1, true, string(core.AvailabilityOffline))
	tok.WaitTimeout(publishTimeout)
	p.cli.Disconnect(250)
}

// Atalhos tipados para os tópicos do esquema.

func (p *Publisher) PublishState(cameraID string, channelID int, eventType string, on bool) {
	payload := "OFF"
	if on {
		payload = "ON"
	}
	p.Enqueue(Message{
		Topic:    p.topics.State(cameraID, channelID, eventType),
		Payload:  []byte(payload),
		Retained: true,
		QoS:      1,
	})
}

func (p *Publisher) PublishAttributes(cameraID string, channelID int, eventType string, payload []byte) {
	p.Enqueue(Message{
		Topic:   p.topics.Attributes(cameraID, channelID, eventType),
		Payload: payload,
		QoS:     1,
	})
}

func (p *Publisher) PublishAvailability(cameraID string, av core.Availability) {
	p.Enqueue(Message{
		Topic:    p.topics.Availability(cameraID),
		Payload:  []byte(av),
		Retained: true,
		QoS:      1,
	})
}

func (p *Publisher) PublishDiscovery(uniqueID string, payload []byte) {
	p.Enqueue(Message{
		Topic:    p.topics.Discovery(uniqueID),
		Payload:  payload,
		Retained: true,
		QoS:      1,
	})
}

func (p *Publisher) PublishStatsDiscovery(key string, payload []byte) {
	p.Enqueue(Message{
		Topic:    p.topics.StatsDiscovery(key),
		Payload:  payload,
		Retained: true,
		QoS:      1,
	})
}

func (p *Publisher) PublishStats(payload []byte) {
	p.Enqueue(Message{
		Topic:    p.topics.Stats(),
		Payload:  payload,
		Retained: true,
		QoS:      1,
	})
}
