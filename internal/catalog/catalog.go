// internal/catalog/catalog.go
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sua-org/hik-bridge/internal/core"
)

// Entry é uma tupla (camera, canal, tipo de evento) já observada, com os
// derivados que o discovery precisa. A grafia do EventType é a da primeira
// observação (o firmware varia o case entre mensagens).
type Entry struct {
	CameraID    string `json:"camera_id"`
	ChannelID   int    `json:"channel_id"`
	EventType   string `json:"event_type"`
	Label       string `json:"label"`
	DeviceClass string `json:"device_class,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// UniqueID é o identificador de entidade usado em tópicos de discovery.
func (e Entry) UniqueID() string {
	return fmt.Sprintf("%s_%d_%s", e.CameraID, e.ChannelID, e.EventType)
}

type entryKey struct {
	cameraID  string
	channelID int
	eventType string // minúsculas
}

// Catalog é o conjunto de todas as tuplas já vistas, neste processo e em
// execuções anteriores (via Load). Append-only em runtime.
type Catalog struct {
	mu      sync.Mutex
	entries map[entryKey]Entry
	dirty   bool
}

func New() *Catalog {
	return &Catalog{entries: make(map[entryKey]Entry)}
}

func keyFor(cameraID string, channelID int, eventType string) entryKey {
	return entryKey{
		cameraID:  cameraID,
		channelID: channelID,
		eventType: strings.ToLower(eventType),
	}
}

// Observe registra a tupla se for inédita. Idempotente e seguro para uso
// concorrente; só a primeira observação devolve isNew=true.
func (c *Catalog) Observe(cameraID string, channelID int, eventType string) (Entry, bool) {
	key := keyFor(cameraID, channelID, eventType)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return e, false
	}
	class := core.Classify(eventType)
	e := Entry{
		CameraID:    cameraID,
		ChannelID:   channelID,
		EventType:   eventType,
		Label:       class.Label,
		DeviceClass: class.DeviceClass,
		Icon:        class.Icon,
	}
	c.entries[key] = e
	c.dirty = true
	return e, true
}

// Lookup devolve a entrada canônica para a tupla, se existir.
func (c *Catalog) Lookup(cameraID string, channelID int, eventType string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[keyFor(cameraID, channelID, eventType)]
	return e, ok
}

// Snapshot devolve as entradas ordenadas (ordem estável para persistência
// e para replay de discovery).
func (c *Catalog) Snapshot() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CameraID != out[j].CameraID {
			return out[i].CameraID < out[j].CameraID
		}
		if out[i].ChannelID != out[j].ChannelID {
			return out[i].ChannelID < out[j].ChannelID
		}
		return out[i].EventType < out[j].EventType
	})
	return out
}

// Dirty diz se houve observação nova desde o último Persist bem-sucedido.
func (c *Catalog) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

type catalogFile struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Persist grava o catálogo em disco: snapshot sob lock, escrita fora do
// lock, temp + rename atômico. Falha aqui nunca é fatal para o bridge.
func (c *Catalog) Persist(path string) error {
	snap := c.Snapshot()

	data, err := json.MarshalIndent(catalogFile{Version: 1, Entries: snap}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".catalog-*.json")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp catalog: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename catalog: %w", err)
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return nil
}

// Load reidrata o catálogo. O arquivo é consultivo: ausente, vazio ou
// ilegível vale como catálogo novo (as tuplas voltam conforme os eventos
// chegarem). Só erro de I/O de leitura sobe para o chamador.
func (c *Catalog) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read catalog: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		log.Printf("[catalog] ignoring unparsable catalog %s: %v", path, err)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range file.Entries {
		if e.CameraID == "" || e.EventType == "" {
			continue
		}
		if e.ChannelID == 0 {
			e.ChannelID = 1
		}
		// deriva o que faltar (drift de schema entre versões)
		if e.Label == "" || e.DeviceClass == "" {
			class := core.Classify(e.EventType)
			if e.Label == "" {
				e.Label = class.Label
			}
			if e.DeviceClass == "" {
				e.DeviceClass = class.DeviceClass
			}
			if e.Icon == "" {
				e.Icon = class.Icon
			}
		}
		key := keyFor(e.CameraID, e.ChannelID, e.EventType)
		if _, exists := c.entries[key]; !exists {
			c.entries[key] = e
		}
	}
	return nil
}
