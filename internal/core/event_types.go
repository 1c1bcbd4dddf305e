// internal/core/event_types.go
package core

import "strings"

// EventClass descreve como um eventType Hikvision vira entidade de
// discovery: label humano, device_class do binary_sensor e ícone mdi.
type EventClass struct {
	Label       string
	DeviceClass string
	Icon        string
}

// Tabela de eventos Hikvision conhecidos, chaveada em minúsculas porque o
// firmware não é consistente com o case nem dentro do mesmo modelo.
// device_class segue https://www.home-assistant.io/integrations/binary_sensor/#device-class
var hikvisionEventClasses = map[string]EventClass{
	"io":                   {Label: "I/O Port", Icon: "mdi:electric-switch"},
	"vmd":                  {Label: "Motion", DeviceClass: "motion"},
	"linedetection":        {Label: "Line Crossing", DeviceClass: "motion"},
	"fielddetection":       {Label: "Field Detection", DeviceClass: "motion"},
	"regionentrance":       {Label: "Region Entering", DeviceClass: "motion", Icon: "mdi:import"},
	"regionexiting":        {Label: "Region Exiting", DeviceClass: "motion", Icon: "mdi:export"},
	"scenechangedetection": {Label: "Scene Change", DeviceClass: "motion"},
	"unattendedbaggage":    {Label: "Unattended Baggage", DeviceClass: "motion", Icon: "mdi:bag-suitcase"},
	"attendedbaggage":      {Label: "Attended Baggage", DeviceClass: "motion", Icon: "mdi:bag-suitcase"},
	"facedetection":        {Label: "Face Detection", DeviceClass: "motion", Icon: "mdi:face-recognition"},
	"facesnap":             {Label: "Face Snapshot", DeviceClass: "motion", Icon: "mdi:face-recognition"},
	"audioexception":       {Label: "Audio Exception", DeviceClass: "motion", Icon: "mdi:microphone"},
	"tamperdetection":      {Label: "Tamper", DeviceClass: "tamper"},
	"shelteralarm":         {Label: "Tamper", DeviceClass: "tamper"},
	"videoloss":            {Label: "Video Loss", DeviceClass: "connectivity", Icon: "mdi:camera-off"},
	"videomismatch":        {Label: "Video Mismatch", DeviceClass: "problem", Icon: "mdi:camera-off"},
	"badvideo":             {Label: "Bad Video", DeviceClass: "problem", Icon: "mdi:camera-off"},
	"storagedetection":     {Label: "Storage Detection", DeviceClass: "problem", Icon: "mdi:harddisk"},
	"recordingfailure":     {Label: "Recording Failure", DeviceClass: "problem", Icon: "mdi:harddisk"},
	"diskfull":             {Label: "Disk Full", DeviceClass: "problem", Icon: "mdi:harddisk"},
	"diskerror":            {Label: "Disk Error", DeviceClass: "problem", Icon: "mdi:harddisk"},
	"nicbroken":            {Label: "Network Card Broken", DeviceClass: "problem", Icon: "mdi:lan-disconnect"},
	"ipconflict":           {Label: "IP Address Conflict", DeviceClass: "problem", Icon: "mdi:lan-disconnect"},
	"illaccess":            {Label: "Illegal Access", DeviceClass: "problem", Icon: "mdi:account-alert"},
}

// Classify devolve label/device_class/ícone para um eventType. Tipos
// desconhecidos ainda rendem uma entidade usável (device_class=problem,
// label = o próprio tipo).
func Classify(eventType string) EventClass {
	if ec, ok := hikvisionEventClasses[strings.ToLower(eventType)]; ok {
		return ec
	}
	return EventClass{Label: eventType, DeviceClass: "problem"}
}
