// internal/bridge/discovery.go
package bridge

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/sua-org/hik-bridge/internal/catalog"
	"github.com/sua-org/hik-bridge/internal/hikclient"
)

// discoveryPayload monta o config de MQTT Discovery do binary_sensor de
// uma tupla. Campos vazios (device_class, icon) ficam de fora do JSON.
func (b *Bridge) discoveryPayload(entry catalog.Entry, device *hikclient.DeviceInfo) []byte {
	topics := b.pub.Topics()
	cam := b.cameras[entry.CameraID]

	deviceObj := map[string]interface{}{
		"identifiers":  []string{entry.CameraID},
		"name":         cam.DisplayName(),
		"manufacturer": "Hikvision",
	}
	if device != nil {
		if device.Model != "" {
			deviceObj["model"] = device.Model
		}
		if device.FirmwareVersion != "" {
			deviceObj["sw_version"] = device.FirmwareVersion
		}
	}

	cfg := map[string]interface{}{
		"name":                  fmt.Sprintf("%s CH%d %s", cam.DisplayName(), entry.ChannelID, entry.Label),
		"unique_id":             entry.UniqueID(),
		"state_topic":           topics.State(entry.CameraID, entry.ChannelID, entry.EventType),
		"payload_on":            "ON",
		"payload_off":           "OFF",
		"availability_topic":    topics.Availability(entry.CameraID),
		"json_attributes_topic": topics.Attributes(entry.CameraID, entry.ChannelID, entry.EventType),
		"device":                deviceObj,
	}
	if entry.DeviceClass != "" {
		cfg["device_class"] = entry.DeviceClass
	}
	if entry.Icon != "" {
		cfg["icon"] = entry.Icon
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		// mapa de tipos serializáveis; se falhar, é bug nosso
		log.Printf("[bridge] marshal discovery for %s: %v", entry.UniqueID(), err)
		return nil
	}
	return payload
}
