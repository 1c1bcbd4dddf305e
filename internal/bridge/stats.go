// internal/bridge/stats.go
package bridge

import (
	"encoding/json"
	"log"
	"time"

	"github.com/sua-org/hik-bridge/internal/core"
)

// publishStats publica as métricas do processo e das câmeras no tópico de
// stats. CPU/memória vêm do gopsutil; zero quando o handle não existe.
func (b *Bridge) publishStats() {
	var (
		cpuPercent  float64
		memPercent  float64
		memRSSBytes uint64
	)
	if b.proc != nil {
		if cpu, err := b.proc.CPUPercent(); err == nil {
			cpuPercent = cpu
		}
		if memInfo, err := b.proc.MemoryInfo(); err == nil {
			memRSSBytes = memInfo.RSS
		}
		if memP, err := b.proc.MemoryPercent(); err == nil {
			memPercent = float64(memP)
		}
	}

	b.mu.Lock()
	connected := 0
	for _, av := range b.availability {
		if av == core.AvailabilityOnline {
			connected++
		}
	}
	entities := len(b.entries)
	b.mu.Unlock()

	payload := map[string]interface{}{
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":       int(time.Since(b.startedAt).Seconds()),
		"cameras_total":        len(b.cameras),
		"cameras_connected":    connected,
		"cameras_disconnected": len(b.cameras) - connected,
		"entities":             entities,
		"events_published":     b.pub.Published(),
		"messages_dropped":     b.pub.Dropped(),
		"publish_queue_size":   b.pub.QueueLen(),
		"cpu_percent":          cpuPercent,
		"memory_percent":       memPercent,
		"memory_rss_bytes":     memRSSBytes,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[bridge] marshal stats: %v", err)
		return
	}
	b.pub.PublishStats(data)
}

// publishStatsDiscovery cria os sensores de métrica do bridge no HA, todos
// lendo do mesmo tópico de stats via value_template.
func (b *Bridge) publishStatsDiscovery() {
	topics := b.pub.Topics()

	deviceObj := map[string]interface{}{
		"identifiers":  []string{b.cfg.MQTT.ClientID},
		"name":         "Hikvision Bridge",
		"manufacturer": "Hikvision",
		"model":        "hik-bridge",
	}

	sensors := []struct {
		key  string
		name string
		tmpl string
		unit string
		icon string
	}{
		{"cameras_connected", "Cameras Connected", "{{ value_json.cameras_connected }}", "", "mdi:cctv"},
		{"events_published", "Events Published", "{{ value_json.events_published }}", "", "mdi:counter"},
		{"cpu_percent", "CPU", "{{ value_json.cpu_percent | round(1) }}", "%", "mdi:chip"},
		{"memory_rss_bytes", "Memory RSS", "{{ (value_json.memory_rss_bytes / 1048576) | round(1) }}", "MB", "mdi:memory"},
	}

	for _, s := range sensors {
		cfg := map[string]interface{}{
			"name":               "Bridge " + s.name,
			"unique_id":          "hik_bridge_" + s.key,
			"state_topic":        topics.Stats(),
			"value_template":     s.tmpl,
			"availability_topic": topics.BridgeAvailability(),
			"device":             deviceObj,
		}
		if s.unit != "" {
			cfg["unit_of_measurement"] = s.unit
		}
		if s.icon != "" {
			cfg["icon"] = s.icon
		}
		payload, err := json.Marshal(cfg)
		if err != nil {
			log.Printf("[bridge] marshal stats discovery %s: %v", s.key, err)
			continue
		}
		b.pub.PublishStatsDiscovery(s.key, payload)
	}
}
