// internal/core/types.go
package core

import (
	"strings"
	"time"
)

// DefaultEventTimeout é quanto tempo um evento ativo fica ON sem
// renovação antes do bridge forçar OFF.
const DefaultEventTimeout = 5 * time.Second

// Camera é uma câmera configurada no config.toml. O ID é estável e vira
// parte dos tópicos MQTT e dos unique_id de discovery.
type Camera struct {
	ID       string
	Host     string
	Port     int
	Username string
	Password string
	Name     string

	UseTLS         bool
	AllowBasicAuth bool

	// Tipos de evento que nunca geram catálogo/discovery/estado.
	IgnoredEventTypes []string

	// Timeout de expiração de evento ativo (0 = default do bridge).
	EventTimeout time.Duration
}

// DisplayName retorna o nome amigável (fallback: ID).
func (c Camera) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// IsIgnored diz se um eventType está na lista de ignorados da câmera.
// Hikvision é inconsistente com maiúsculas, então comparamos sem case.
func (c Camera) IsIgnored(eventType string) bool {
	for _, t := range c.IgnoredEventTypes {
		if strings.EqualFold(t, eventType) {
			return true
		}
	}
	return false
}

// Availability é o estado online/offline de uma câmera (ou do bridge).
// Os literais são publicados como payload e são case-sensitive.
type Availability string

const (
	AvailabilityOnline  Availability = "online"
	AvailabilityOffline Availability = "offline"
)
