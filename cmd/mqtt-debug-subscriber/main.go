// cmd/mqtt-debug-subscriber/main.go
//
// Assinante de debug: imprime tudo que o bridge publica (estados,
// atributos, availability, discovery, stats). Útil para conferir o
// esquema de tópicos sem subir o Home Assistant.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func main() {
	host := getenv("MQTT_HOST", "localhost")
	port := getenv("MQTT_PORT", "1883")
	baseTopic := getenv("MQTT_BASE_TOPIC", "hikvision_cameras")
	discoveryPrefix := getenv("MQTT_DISCOVERY_PREFIX", "homeassistant")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%s", host, port))
	opts.SetClientID("hik-bridge-debug-subscriber")
	opts.SetCleanSession(true)
	if user := os.Getenv("MQTT_USERNAME"); user != "" {
		opts.SetUsername(user)
		opts.SetPassword(os.Getenv("MQTT_PASSWORD"))
	}

	cli := mqtt.NewClient(opts)
	if tok := cli.Connect(); !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		log.Fatalf("erro ao conectar no MQTT: %v", tok.Error())
	}
	defer cli.Disconnect(250)

	subscribe(cli, baseTopic+"/#")
	subscribe(cli, discoveryPrefix+"/binary_sensor/#")
	subscribe(cli, discoveryPrefix+"/sensor/hik_bridge_+/config")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("[debug] sinal recebido, encerrando subscriber...")
}

func subscribe(cli mqtt.Client, topic string) {
	tok := cli.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handleMessage(msg.Topic(), msg.Payload(), msg.Retained())
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		log.Fatalf("erro ao assinar tópico %s: %v", topic, err)
	}
	log.Printf("[debug] subscribed to topic: %s", topic)
}

func handleMessage(topic string, payload []byte, retained bool) {
	flag := ""
	if retained {
		flag = " (retained)"
	}

	// payloads curtos (ON/OFF, online/offline) saem na mesma linha
	if !strings.HasPrefix(strings.TrimSpace(string(payload)), "{") {
		log.Printf("[debug] %s%s = %s", topic, flag, string(payload))
		return
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		log.Printf("[debug] %s%s: JSON inválido (%v): %s", topic, flag, err, string(payload))
		return
	}
	pretty, _ := json.MarshalIndent(raw, "", "  ")
	log.Printf("[debug] %s%s:\n%s", topic, flag, string(pretty))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
