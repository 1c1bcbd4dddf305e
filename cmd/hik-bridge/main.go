// cmd/hik-bridge/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sua-org/hik-bridge/internal/bridge"
	"github.com/sua-org/hik-bridge/internal/catalog"
	"github.com/sua-org/hik-bridge/internal/config"
	"github.com/sua-org/hik-bridge/internal/mqttclient"
	"github.com/sua-org/hik-bridge/internal/storage"
	"github.com/sua-org/hik-bridge/internal/supervisor"
)

// Códigos de saída: 1 = config inválida, 2 = falha de I/O na subida
// (catálogo ilegível, broker inacessível). Shutdown limpo sai com 0.
const (
	exitConfig  = 1
	exitStartup = 2
)

const (
	mqttConnectAttempts = 5
	mqttConnectDelay    = 2 * time.Second
	drainTimeout        = 5 * time.Second
)

func main() {
	// Carrega .env na raiz (se não existir, segue sem ele)
	if err := godotenv.Load(); err == nil {
		log.Printf("[main] .env carregado com sucesso")
	}

	defaultConfig := os.Getenv("HIKBRIDGE_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.toml"
	}
	configPath := flag.String("config", defaultConfig, "caminho do config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("[main] config inválida: %v", err)
		os.Exit(exitConfig)
	}
	if cfg.General.LogLevel == "debug" {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	log.Printf("[main] config carregada: %d câmera(s), broker %s:%d", len(cfg.Cameras), cfg.MQTT.Host, cfg.MQTT.Port)

	cat := catalog.New()
	if dir := filepath.Dir(cfg.General.CatalogPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("[main] não foi possível criar o diretório do catálogo: %v", err)
			os.Exit(exitStartup)
		}
	}
	if err := cat.Load(cfg.General.CatalogPath); err != nil {
		log.Printf("[main] não foi possível ler o catálogo: %v", err)
		os.Exit(exitStartup)
	}

	// Snapshots são opcionais; sem eles o bridge segue só com os eventos
	var snaps supervisor.SnapshotSink
	if cfg.Snapshots.Enabled {
		store, err := storage.NewMinioStore(cfg.Snapshots)
		if err != nil {
			log.Printf("[main] aviso: snapshots desabilitados: %v", err)
		} else {
			snaps = store
		}
	}

	topics := mqttclient.NewTopics(cfg.MQTT.BaseTopic, cfg.MQTT.DiscoveryPrefix)
	pub, err := connectMQTT(cfg, topics)
	if err != nil {
		log.Printf("[main] broker inacessível após %d tentativas: %v", mqttConnectAttempts, err)
		os.Exit(exitStartup)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pub.Run(ctx)

	br := bridge.New(cfg, pub, cat, snaps)
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		if err := br.Run(ctx); err != nil {
			log.Printf("[main] bridge terminou com erro: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("[main] sinal recebido, encerrando...")
	cancel()

	// espera os supervisores drenarem (OFFs forçados + offline das câmeras)
	select {
	case <-bridgeDone:
	case <-time.After(drainTimeout):
		log.Println("[main] drain não terminou no prazo, saindo mesmo assim")
	}

	pub.Close()
}

// connectMQTT tenta algumas vezes antes de desistir: broker e bridge
// costumam subir juntos (compose) e o broker pode demorar uns segundos.
func connectMQTT(cfg *config.Config, topics mqttclient.Topics) (*mqttclient.Publisher, error) {
	mqttCfg := mqttclient.Config{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		ClientID: cfg.MQTT.ClientID,
	}

	var lastErr error
	for attempt := 1; attempt <= mqttConnectAttempts; attempt++ {
		pub, err := mqttclient.New(mqttCfg, topics)
		if err == nil {
			return pub, nil
		}
		lastErr = err
		log.Printf("[main] mqtt connect (tentativa %d/%d): %v", attempt, mqttConnectAttempts, err)
		time.Sleep(mqttConnectDelay)
	}
	return nil, lastErr
}
