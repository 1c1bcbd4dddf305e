// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/sua-org/hik-bridge/internal/core"
)

// Defaults usados quando o config.toml omite o campo.
const (
	DefaultCameraPort       = 80
	DefaultMQTTPort         = 1883
	DefaultEventTimeout     = core.DefaultEventTimeout
	DefaultBaseTopic        = "hikvision_cameras"
	DefaultDiscoveryPrefix  = "homeassistant"
	DefaultClientID         = "hik-bridge"
	DefaultCatalogPath      = "catalog.json"
)

type Config struct {
	General   General        `toml:"general"`
	MQTT      MQTT           `toml:"mqtt"`
	Cameras   []CameraEntry  `toml:"camera"`
	Snapshots Snapshots      `toml:"snapshots"`
}

type General struct {
	CatalogPath string `toml:"catalog_path"`
	LogLevel    string `toml:"log_level"`
}

type MQTT struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	BaseTopic       string `toml:"base_topic"`
	DiscoveryPrefix string `toml:"discovery_prefix"`
	ClientID        string `toml:"client_id"`
}

type CameraEntry struct {
	ID                  string   `toml:"id"`
	Name                string   `toml:"name"`
	Host                string   `toml:"host"`
	Port                int      `toml:"port"`
	Username            string   `toml:"username"`
	Password            string   `toml:"password"`
	UseTLS              bool     `toml:"use_tls"`
	AllowBasicAuth      bool     `toml:"allow_basic_auth"`
	IgnoredEventTypes   []string `toml:"ignored_event_types"`
	EventTimeoutSeconds int      `toml:"event_timeout_seconds"`
}

type Snapshots struct {
	Enabled       bool   `toml:"enabled"`
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	PublicBaseURL string `toml:"public_base_url"`
	UseSSL        bool   `toml:"use_ssl"`
}

// Load lê e valida o config.toml. Variáveis de ambiente (MQTT_HOST,
// MQTT_PORT, MQTT_USERNAME, MQTT_PASSWORD, MQTT_BASE_TOPIC, MQTT_CLIENT_ID)
// sobrescrevem a seção [mqtt] — mesmo esquema de env do resto da infra.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MQTT_HOST"); v != "" {
		c.MQTT.Host = v
	}
	if v := os.Getenv("MQTT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.MQTT.Port = p
		}
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_BASE_TOPIC"); v != "" {
		c.MQTT.BaseTopic = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
}

func (c *Config) applyDefaults() {
	if c.General.CatalogPath == "" {
		c.General.CatalogPath = DefaultCatalogPath
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = DefaultMQTTPort
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = DefaultBaseTopic
	}
	c.MQTT.BaseTopic = strings.TrimSuffix(c.MQTT.BaseTopic, "/")
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	c.MQTT.DiscoveryPrefix = strings.TrimSuffix(c.MQTT.DiscoveryPrefix, "/")
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if cam.ID == "" {
			cam.ID = GenerateID(cam.Name)
		}
		if cam.Port == 0 {
			cam.Port = DefaultCameraPort
		}
	}
}

func (c *Config) validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required")
	}
	if len(c.Cameras) == 0 {
		return fmt.Errorf("at least one [[camera]] entry is required")
	}
	seen := make(map[string]struct{}, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("camera %q: empty id (set id or name)", cam.Name)
		}
		if cam.Host == "" {
			return fmt.Errorf("camera %s: host is required", cam.ID)
		}
		if cam.Username == "" || cam.Password == "" {
			return fmt.Errorf("camera %s: username/password are required", cam.ID)
		}
		if _, dup := seen[cam.ID]; dup {
			return fmt.Errorf("camera %q has duplicate id %q", cam.Name, cam.ID)
		}
		seen[cam.ID] = struct{}{}
	}
	return nil
}

// CoreCameras converte as entradas validadas para o modelo do runtime.
func (c *Config) CoreCameras() []core.Camera {
	out := make([]core.Camera, 0, len(c.Cameras))
	for _, cam := range c.Cameras {
		timeout := DefaultEventTimeout
		if cam.EventTimeoutSeconds > 0 {
			timeout = time.Duration(cam.EventTimeoutSeconds) * time.Second
		}
		out = append(out, core.Camera{
			ID:                cam.ID,
			Host:              cam.Host,
			Port:              cam.Port,
			Username:          cam.Username,
			Password:          cam.Password,
			Name:              cam.Name,
			UseTLS:            cam.UseTLS,
			AllowBasicAuth:    cam.AllowBasicAuth,
			IgnoredEventTypes: cam.IgnoredEventTypes,
			EventTimeout:      timeout,
		})
	}
	return out
}

// GenerateID deriva um id estável a partir do nome: só minúsculas,
// dígitos e underscore (espaço vira underscore, o resto é descartado).
func GenerateID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r == ' ':
			b.WriteRune('_')
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	return b.String()
}
