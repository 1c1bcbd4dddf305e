// internal/mqttclient/topics.go
package mqttclient

import (
	"fmt"
	"strings"
)

// Topics centraliza o esquema de tópicos do bridge. Tudo que vira tópico
// passa por aqui — o esquema é contrato com o Home Assistant e com quem
// mais assina o broker.
//
//	<base>/<camera>/<canal>/<tipo>             estado ON/OFF (retained)
//	<base>/<camera>/<canal>/<tipo>/attributes  JSON cru do último alerta
//	<base>/<camera>/availability               online/offline da câmera
//	<base>/bridge/availability                 online/offline do processo (LWT)
//	<base>/bridge/stats                        métricas periódicas
//	<prefix>/binary_sensor/<unique_id>/config  discovery HA
type Topics struct {
	Base            string
	DiscoveryPrefix string
}

func NewTopics(base, discoveryPrefix string) Topics {
	return Topics{
		Base:            strings.TrimSuffix(base, "/"),
		DiscoveryPrefix: strings.TrimSuffix(discoveryPrefix, "/"),
	}
}

func (t Topics) State(cameraID string, channelID int, eventType string) string {
	return fmt.Sprintf("%s/%s/%d/%s", t.Base, cameraID, channelID, eventType)
}

func (t Topics) Attributes(cameraID string, channelID int, eventType string) string {
	return t.State(cameraID, channelID, eventType) + "/attributes"
}

func (t Topics) Availability(cameraID string) string {
	return fmt.Sprintf("%s/%s/availability", t.Base, cameraID)
}

func (t Topics) BridgeAvailability() string {
	return t.Base + "/bridge/availability"
}

func (t Topics) Stats() string {
	return t.Base + "/bridge/stats"
}

// Discovery é o tópico de config do binary_sensor de uma tupla.
func (t Topics) Discovery(uniqueID string) string {
	return fmt.Sprintf("%s/binary_sensor/%s/config", t.DiscoveryPrefix, uniqueID)
}

// StatsDiscovery é o tópico de config dos sensores de métrica do bridge.
func (t Topics) StatsDiscovery(key string) string {
	return fmt.Sprintf("%s/sensor/hik_bridge_%s/config", t.DiscoveryPrefix, key)
}
