// internal/bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/sua-org/hik-bridge/internal/catalog"
	"github.com/sua-org/hik-bridge/internal/config"
	"github.com/sua-org/hik-bridge/internal/core"
	"github.com/sua-org/hik-bridge/internal/hikclient"
	"github.com/sua-org/hik-bridge/internal/mqttclient"
	"github.com/sua-org/hik-bridge/internal/supervisor"
)

const (
	statsInterval   = 60 * time.Second
	persistInterval = 60 * time.Second
)

// publisher é o que o bridge precisa do mqttclient. Interface para os
// testes injetarem um gravador em memória.
type publisher interface {
	SetOnConnect(fn func())
	Topics() mqttclient.Topics
	PublishDiscovery(uniqueID string, payload []byte)
	PublishState(cameraID string, channelID int, eventType string, on bool)
	PublishAttributes(cameraID string, channelID int, eventType string, payload []byte)
	PublishAvailability(cameraID string, av core.Availability)
	PublishStats(payload []byte)
	PublishStatsDiscovery(key string, payload []byte)
	Published() uint64
	Dropped() uint64
	QueueLen() int
}

// Bridge é o orquestrador: um supervisor por câmera, todos desaguando num
// canal único de updates que o loop principal traduz em publicações MQTT.
// O fan-in preserva a ordem de cada câmera (cada supervisor emite em ordem
// e o publisher despacha FIFO).
type Bridge struct {
	cfg     *config.Config
	pub     publisher
	catalog *catalog.Catalog
	snaps   supervisor.SnapshotSink

	cameras map[string]core.Camera

	// estado retido espelhado localmente, para o replay de reconexão
	mu           sync.Mutex
	entries      map[string]catalog.Entry // unique_id -> entry
	lastStates   map[string]bool          // unique_id -> ON?
	availability map[string]core.Availability
	devices      map[string]*hikclient.DeviceInfo

	proc      *process.Process // processo do bridge, para as métricas
	startedAt time.Time
}

func New(cfg *config.Config, pub publisher, cat *catalog.Catalog, snaps supervisor.SnapshotSink) *Bridge {
	cams := make(map[string]core.Camera)
	for _, cam := range cfg.CoreCameras() {
		cams[cam.ID] = cam
	}
	var procHandle *process.Process
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		procHandle = p
	}
	return &Bridge{
		cfg:          cfg,
		pub:          pub,
		catalog:      cat,
		snaps:        snaps,
		cameras:      cams,
		entries:      make(map[string]catalog.Entry),
		lastStates:   make(map[string]bool),
		availability: make(map[string]core.Availability),
		devices:      make(map[string]*hikclient.DeviceInfo),
		proc:         procHandle,
		startedAt:    time.Now(),
	}
}

// Run bloqueia até o contexto morrer e os supervisores drenarem.
func (b *Bridge) Run(ctx context.Context) error {
	b.pub.SetOnConnect(b.replayRetained)

	// catálogo de execuções anteriores: entidades renascem no HA antes de
	// qualquer câmera conectar, todas OFF (crash anterior pode ter deixado
	// ON retido no broker)
	b.replayCatalog()
	b.publishStatsDiscovery()

	updates := make(chan supervisor.Update, 256)

	var wg sync.WaitGroup
	for _, cam := range b.cameras {
		sup := supervisor.New(cam, hikclient.New(cam), b.catalog, b.snaps, updates)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sup.Run(ctx)
		}()
	}

	// quando todos os supervisores drenarem, o fan-in pode parar
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()
	persistTicker := time.NewTicker(persistInterval)
	defer persistTicker.Stop()

	for {
		select {
		case u := <-updates:
			b.handleUpdate(u)

		case <-statsTicker.C:
			b.publishStats()

		case <-persistTicker.C:
			b.persistCatalog(false)

		case <-done:
			// esvazia o que sobrou no canal antes de persistir e sair
			for {
				select {
				case u := <-updates:
					b.handleUpdate(u)
				default:
					b.persistCatalog(true)
					return nil
				}
			}
		}
	}
}

func (b *Bridge) handleUpdate(u supervisor.Update) {
	switch u.Kind {
	case supervisor.UpdateDiscovery:
		b.mu.Lock()
		if u.Device != nil {
			b.devices[u.CameraID] = u.Device
		}
		device := b.devices[u.CameraID]
		uid := u.Entry.UniqueID()
		b.entries[uid] = u.Entry
		b.mu.Unlock()

		b.pub.PublishDiscovery(uid, b.discoveryPayload(u.Entry, device))
		b.persistCatalog(false)

	case supervisor.UpdateState:
		b.mu.Lock()
		b.lastStates[u.Entry.UniqueID()] = u.On
		b.mu.Unlock()
		b.pub.PublishState(u.Entry.CameraID, u.Entry.ChannelID, u.Entry.EventType, u.On)

	case supervisor.UpdateAttributes:
		payload, err := json.Marshal(u.Attributes)
		if err != nil {
			log.Printf("[bridge] marshal attributes for %s: %v", u.Entry.UniqueID(), err)
			return
		}
		b.pub.PublishAttributes(u.Entry.CameraID, u.Entry.ChannelID, u.Entry.EventType, payload)

	case supervisor.UpdateAvailability:
		av := core.AvailabilityOffline
		if u.Online {
			av = core.AvailabilityOnline
		}
		b.mu.Lock()
		b.availability[u.CameraID] = av
		b.mu.Unlock()
		b.pub.PublishAvailability(u.CameraID, av)
	}
}

// replayCatalog publica discovery + OFF para tudo que o catálogo conhece
// de execuções anteriores (só câmeras ainda configuradas).
func (b *Bridge) replayCatalog() {
	n := 0
	for _, entry := range b.catalog.Snapshot() {
		if _, ok := b.cameras[entry.CameraID]; !ok {
			continue
		}
		uid := entry.UniqueID()
		b.mu.Lock()
		b.entries[uid] = entry
		b.lastStates[uid] = false
		b.mu.Unlock()

		b.pub.PublishDiscovery(uid, b.discoveryPayload(entry, nil))
		b.pub.PublishState(entry.CameraID, entry.ChannelID, entry.EventType, false)
		n++
	}
	if n > 0 {
		log.Printf("[bridge] replayed %d catalog entries", n)
	}
}

// replayRetained reenvia tudo que é retido depois de uma reconexão ao
// broker: um broker reiniciado sem persistência perdeu discovery, estados
// e availabilities. Roda na goroutine do OnConnect do paho.
func (b *Bridge) replayRetained() {
	b.mu.Lock()
	entries := make(map[string]catalog.Entry, len(b.entries))
	for uid, e := range b.entries {
		entries[uid] = e
	}
	states := make(map[string]bool, len(b.lastStates))
	for uid, on := range b.lastStates {
		states[uid] = on
	}
	avail := make(map[string]core.Availability, len(b.availability))
	for id, av := range b.availability {
		avail[id] = av
	}
	devices := make(map[string]*hikclient.DeviceInfo, len(b.devices))
	for id, d := range b.devices {
		devices[id] = d
	}
	b.mu.Unlock()

	log.Printf("[bridge] broker (re)connected, replaying %d entities", len(entries))

	for uid, entry := range entries {
		b.pub.PublishDiscovery(uid, b.discoveryPayload(entry, devices[entry.CameraID]))
	}
	for uid, on := range states {
		if entry, ok := entries[uid]; ok {
			b.pub.PublishState(entry.CameraID, entry.ChannelID, entry.EventType, on)
		}
	}
	for camID, av := range avail {
		b.pub.PublishAvailability(camID, av)
	}
	b.publishStatsDiscovery()
}

// persistCatalog grava o catálogo se houver novidade. Falha não é fatal:
// o catálogo é conforto de replay, não fonte de verdade.
func (b *Bridge) persistCatalog(force bool) {
	if !force && !b.catalog.Dirty() {
		return
	}
	if err := b.catalog.Persist(b.cfg.General.CatalogPath); err != nil {
		log.Printf("[bridge] catalog persist failed: %v", err)
	}
}
