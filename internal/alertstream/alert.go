// internal/alertstream/alert.go
package alertstream

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Alert é um <EventNotificationAlert> decodificado. O parse é permissivo:
// elementos desconhecidos ficam no bag Raw e campos ausentes ganham
// default — firmware Hikvision varia muito entre modelos.
type Alert struct {
	IPAddress   string
	ChannelID   int
	EventType   string
	Description string
	Active      bool
	Count       int
	Timestamp   time.Time

	// Raw preserva todo elemento-folha do XML, verbatim, para o tópico
	// de atributos.
	Raw map[string]string
}

var (
	ErrMissingEventType = errors.New("alert is missing eventType")
	ErrWrongRoot        = errors.New("root element is not EventNotificationAlert")
)

// DecodeAlert decodifica o corpo XML de uma parte do alert stream.
func DecodeAlert(data []byte) (*Alert, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	raw := make(map[string]string)
	var stack []string
	var sawRoot bool

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// com Strict=false só sobram erros estruturais de verdade
			if len(raw) == 0 {
				return nil, fmt.Errorf("invalid xml: %w", err)
			}
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !sawRoot {
				if t.Name.Local != "EventNotificationAlert" {
					return nil, ErrWrongRoot
				}
				sawRoot = true
			}
			stack = append(stack, t.Name.Local)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) < 2 {
				continue
			}
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			name := stack[len(stack)-1]
			// folhas repetidas (regiões, coordenadas): a última vence,
			// o bag é informativo e não estrutural.
			raw[name] = text
		}
	}
	if !sawRoot {
		return nil, ErrWrongRoot
	}

	eventType := raw["eventType"]
	if eventType == "" {
		return nil, ErrMissingEventType
	}

	a := &Alert{
		IPAddress:   raw["ipAddress"],
		EventType:   eventType,
		Description: raw["eventDescription"],
		Raw:         raw,
	}

	a.ChannelID = intOr(raw["channelID"], 0)
	if a.ChannelID == 0 {
		a.ChannelID = intOr(raw["dynChannelID"], 1)
	}
	a.Count = intOr(raw["activePostCount"], 0)

	// eventState ausente: alguns firmwares omitem o elemento; ativo se
	// activePostCount >= 1, inativo caso contrário.
	switch state, ok := raw["eventState"]; {
	case ok && state == "active":
		a.Active = true
	case ok && state == "inactive":
		a.Active = false
	case ok:
		return nil, fmt.Errorf("invalid eventState %q", state)
	default:
		a.Active = a.Count >= 1
	}

	a.Timestamp = parseDateTime(raw["dateTime"])
	return a, nil
}

func intOr(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return n
	}
	return def
}

// parseDateTime aceita RFC3339 e o formato sem timezone que algumas
// câmeras usam; fallback: agora (UTC).
func parseDateTime(s string) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
