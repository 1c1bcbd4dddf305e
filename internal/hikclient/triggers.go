// internal/hikclient/triggers.go
package hikclient

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Trigger é uma entrada de /ISAPI/Event/triggers: um evento que a câmera
// está configurada para disparar. Usado para semear o catálogo na conexão,
// antes do primeiro alerta chegar.
type Trigger struct {
	ID          string
	EventType   string
	ChannelID   int
	Description string
}

// O root pode ser <EventNotification> (NVR) ou o próprio
// <EventTriggerList> (câmera); os dois campos cobrem as duas formas.
type triggersDoc struct {
	Nested []rawTrigger `xml:"EventTriggerList>EventTrigger"`
	Direct []rawTrigger `xml:"EventTrigger"`
}

type rawTrigger struct {
	ID                     string `xml:"id"`
	EventType              string `xml:"eventType"`
	EventDescription       string `xml:"eventDescription"`
	VideoInputChannelID    string `xml:"videoInputChannelID"`
	DynVideoInputChannelID string `xml:"dynVideoInputChannelID"`
	InputIOPortID          string `xml:"inputIOPortID"`
	DynInputIOPortID       string `xml:"dynInputIOPortID"`
}

// FetchTriggers busca e decodifica a lista de triggers da câmera.
func (c *Client) FetchTriggers(ctx context.Context) ([]Trigger, error) {
	data, err := c.fetchXML(ctx, triggersPath)
	if err != nil {
		return nil, err
	}
	return parseTriggers(data)
}

func parseTriggers(data []byte) ([]Trigger, error) {
	var doc triggersDoc
	if err := xml.Unmarshal(stripXMLNamespace(data), &doc); err != nil {
		return nil, fmt.Errorf("parse triggers: %w", err)
	}
	raw := doc.Nested
	if len(raw) == 0 {
		raw = doc.Direct
	}

	out := make([]Trigger, 0, len(raw))
	for _, t := range raw {
		et := strings.TrimSpace(t.EventType)
		if et == "" {
			continue
		}
		out = append(out, Trigger{
			ID:          t.ID,
			EventType:   et,
			ChannelID:   firstChannel(t.VideoInputChannelID, t.DynVideoInputChannelID, t.InputIOPortID, t.DynInputIOPortID),
			Description: t.EventDescription,
		})
	}
	return out, nil
}

// firstChannel pega o primeiro campo de canal preenchido; ausência de
// canal vale 1 (convenção dos firmwares de câmera single-channel).
func firstChannel(candidates ...string) int {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if n, err := strconv.Atoi(c); err == nil && n > 0 {
			return n
		}
	}
	return 1
}
