// internal/supervisor/supervisor.go
package supervisor

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/sua-org/hik-bridge/internal/alertstream"
	"github.com/sua-org/hik-bridge/internal/catalog"
	"github.com/sua-org/hik-bridge/internal/core"
	"github.com/sua-org/hik-bridge/internal/hikclient"
)

// stabilityWindow: tempo conectado mínimo para o backoff resetar. Sessões
// mais curtas que isso contam como falha (câmera que aceita e derruba).
const stabilityWindow = 30 * time.Second

// UpdateKind distingue os registros que o supervisor emite para o bridge.
type UpdateKind int

const (
	UpdateDiscovery UpdateKind = iota
	UpdateState
	UpdateAttributes
	UpdateAvailability
)

// Update é um registro do stream ordenado de saída do supervisor. O bridge
// traduz para tópicos MQTT; a ordem de emissão aqui É a ordem de publicação
// (Discovery de uma tupla sempre sai antes do primeiro State dela).
type Update struct {
	Kind     UpdateKind
	CameraID string

	// Discovery / State / Attributes
	Entry catalog.Entry

	// State
	On bool

	// Attributes
	Attributes map[string]string

	// Availability
	Online bool

	// Discovery: info do dispositivo (pode ser nil se o fetch falhou)
	Device *hikclient.DeviceInfo
}

// streamOpener é o que o supervisor precisa do hikclient. Interface para os
// testes injetarem streams sintéticos.
type streamOpener interface {
	OpenAlertStream(ctx context.Context) (io.ReadCloser, string, error)
	FetchDeviceInfo(ctx context.Context) (*hikclient.DeviceInfo, error)
	FetchTriggers(ctx context.Context) ([]hikclient.Trigger, error)
}

// SnapshotSink recebe as partes image/* do alert stream e devolve uma URL
// de acesso. nil = snapshots descartados.
type SnapshotSink interface {
	Store(ctx context.Context, cameraID string, channelID int, eventType, contentType string, data []byte) (string, error)
}

// Supervisor é o dono de uma câmera: mantém a conexão com o alert stream,
// normaliza eventos em transições ON/OFF e emite Updates para o bridge.
// Um supervisor por câmera, uma goroutine (Run) por supervisor.
type Supervisor struct {
	cam     core.Camera
	client  streamOpener
	catalog *catalog.Catalog
	updates chan<- Update
	snaps   SnapshotSink

	timeout time.Duration
	backoff *backoff

	// estado da sessão corrente (só a goroutine do Run toca)
	inflight  *inflightSet
	device    *hikclient.DeviceInfo
	preloaded bool
	online    bool

	// última tupla vista, para associar a parte image/* que vem depois
	lastEntry    catalog.Entry
	lastAttrs    map[string]string
	hasLastEntry bool
}

func New(cam core.Camera, client streamOpener, cat *catalog.Catalog, snaps SnapshotSink, updates chan<- Update) *Supervisor {
	timeout := cam.EventTimeout
	if timeout <= 0 {
		timeout = core.DefaultEventTimeout
	}
	return &Supervisor{
		cam:      cam,
		client:   client,
		catalog:  cat,
		updates:  updates,
		snaps:    snaps,
		timeout:  timeout,
		backoff:  newBackoff(),
		inflight: newInflightSet(),
	}
}

// Run é o loop de vida da câmera: conecta, consome o stream, drena e
// reconecta com backoff até o contexto morrer. Sempre retorna nil depois
// de drenar; erro de câmera nunca derruba o bridge.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Printf("[camera %s] supervisor started (host=%s timeout=%s)", s.cam.ID, s.cam.Host, s.timeout)

	for {
		if ctx.Err() != nil {
			s.drain(ctx)
			return nil
		}

		connectedAt := time.Now()
		err := s.session(ctx)

		// sessão acabou: fecha tudo que ficou em voo antes do offline
		s.drain(ctx)

		if ctx.Err() != nil {
			return nil
		}

		if time.Since(connectedAt) >= stabilityWindow {
			s.backoff.Reset()
		}
		delay := s.backoff.Next()
		log.Printf("[camera %s] stream ended (%v), reconnecting in %s", s.cam.ID, err, delay)

		select {
		case <-ctx.Done():
			s.drain(ctx)
			return nil
		case <-time.After(delay):
		}
	}
}

// session abre o stream e consome até o transporte fechar. Retorna o erro
// que encerrou a sessão (nunca nil, exceto por cancelamento).
func (s *Supervisor) session(ctx context.Context) error {
	body, boundary, err := s.client.OpenAlertStream(ctx)
	if err != nil {
		if errors.Is(err, hikclient.ErrAuthFailed) {
			log.Printf("[camera %s] authentication failed: %v", s.cam.ID, err)
		}
		return err
	}
	defer body.Close()

	log.Printf("[camera %s] alert stream connected (boundary=%q)", s.cam.ID, boundary)

	s.emit(ctx, Update{Kind: UpdateAvailability, CameraID: s.cam.ID, Online: true})
	s.online = true

	if s.device == nil {
		if info, err := s.client.FetchDeviceInfo(ctx); err != nil {
			log.Printf("[camera %s] deviceInfo fetch failed: %v", s.cam.ID, err)
		} else {
			s.device = info
			log.Printf("[camera %s] device: %s (%s, fw %s)", s.cam.ID, info.Model, info.SerialNumber, info.FirmwareVersion)
		}
	}
	if !s.preloaded {
		s.preloadTriggers(ctx)
		s.preloaded = true
	}

	reader := alertstream.NewReader(body, boundary, s.cam.ID)

	// o leitor bloqueia em rede; roda numa goroutine para o loop principal
	// poder acordar nos deadlines de expiry e no cancelamento
	type readResult struct {
		item *alertstream.Item
		err  error
	}
	items := make(chan readResult)
	readCtx, stopRead := context.WithCancel(ctx)
	defer stopRead()
	go func() {
		defer close(items)
		for {
			item, err := reader.Next()
			select {
			case items <- readResult{item, err}:
			case <-readCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	expiry := time.NewTimer(time.Hour)
	defer expiry.Stop()

	for {
		s.armExpiry(expiry)

		select {
		case <-ctx.Done():
			body.Close() // desbloqueia o leitor
			return ctx.Err()

		case <-expiry.C:
			s.expireEvents(ctx, time.Now())

		case res, ok := <-items:
			if !ok {
				return io.ErrUnexpectedEOF
			}
			if res.err != nil {
				return res.err
			}
			switch {
			case res.item.Alert != nil:
				s.handleAlert(ctx, res.item.Alert)
			case res.item.Snapshot != nil:
				s.handleSnapshot(ctx, res.item.Snapshot)
			}
		}
	}
}

func (s *Supervisor) armExpiry(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if deadline, ok := s.inflight.nextDeadline(); ok {
		t.Reset(time.Until(deadline))
	} else {
		t.Reset(time.Hour)
	}
}

// preloadTriggers consulta os triggers configurados no dispositivo para o
// discovery existir antes do primeiro evento real. Falha aqui é tolerada:
// as tuplas aparecem conforme os eventos chegarem.
func (s *Supervisor) preloadTriggers(ctx context.Context) {
	triggers, err := s.client.FetchTriggers(ctx)
	if err != nil {
		log.Printf("[camera %s] trigger preload failed: %v", s.cam.ID, err)
		return
	}
	n := 0
	for _, tr := range triggers {
		if tr.EventType == "" || s.cam.IsIgnored(tr.EventType) {
			continue
		}
		entry, isNew := s.catalog.Observe(s.cam.ID, tr.ChannelID, tr.EventType)
		if !isNew {
			continue
		}
		n++
		s.emit(ctx, Update{Kind: UpdateDiscovery, CameraID: s.cam.ID, Entry: entry, Device: s.device})
		// baseline OFF retido, para a entidade não nascer "unknown" no HA
		s.emit(ctx, Update{Kind: UpdateState, CameraID: s.cam.ID, Entry: entry, On: false})
	}
	if n > 0 {
		log.Printf("[camera %s] preloaded %d event types from device triggers", s.cam.ID, n)
	}
}

// handleAlert aplica um alerta ao estado em voo. As transições publicadas
// alternam estritamente por tupla: active repetido só renova o timer,
// inactive sem active anterior não emite nada (os heartbeats de videoloss
// inactive caem aqui).
func (s *Supervisor) handleAlert(ctx context.Context, a *alertstream.Alert) {
	if s.cam.IsIgnored(a.EventType) {
		return
	}

	entry, isNew := s.catalog.Observe(s.cam.ID, a.ChannelID, a.EventType)
	if isNew {
		s.emit(ctx, Update{Kind: UpdateDiscovery, CameraID: s.cam.ID, Entry: entry, Device: s.device})
	}

	key := keyOf(entry)
	now := time.Now()

	if a.Active {
		attrs := attributesOf(a)
		s.lastEntry, s.lastAttrs, s.hasLastEntry = entry, attrs, true

		if e, ok := s.inflight.get(key); ok {
			s.inflight.refresh(e, now.Add(s.timeout))
		} else {
			s.inflight.add(key, now.Add(s.timeout))
			s.emit(ctx, Update{Kind: UpdateState, CameraID: s.cam.ID, Entry: entry, On: true})
		}
		s.emit(ctx, Update{Kind: UpdateAttributes, CameraID: s.cam.ID, Entry: entry, Attributes: attrs})
		return
	}

	// inactive explícito
	if e, ok := s.inflight.get(key); ok {
		s.inflight.remove(e)
		s.emit(ctx, Update{Kind: UpdateState, CameraID: s.cam.ID, Entry: entry, On: false})
	}
}

// handleSnapshot guarda a parte image/* e anexa a URL aos atributos do
// último alerta visto (o firmware manda a imagem logo após o XML).
func (s *Supervisor) handleSnapshot(ctx context.Context, snap *alertstream.Snapshot) {
	if s.snaps == nil || !s.hasLastEntry {
		return
	}
	url, err := s.snaps.Store(ctx, s.cam.ID, s.lastEntry.ChannelID, s.lastEntry.EventType, snap.ContentType, snap.Data)
	if err != nil {
		log.Printf("[camera %s] snapshot store failed: %v", s.cam.ID, err)
		return
	}
	attrs := make(map[string]string, len(s.lastAttrs)+1)
	for k, v := range s.lastAttrs {
		attrs[k] = v
	}
	attrs["snapshot_url"] = url
	s.lastAttrs = attrs
	s.emit(ctx, Update{Kind: UpdateAttributes, CameraID: s.cam.ID, Entry: s.lastEntry, Attributes: attrs})
}

// expireEvents fecha tudo que venceu: muitos eventos Hikvision nunca mandam
// inactive, só param de mandar active.
func (s *Supervisor) expireEvents(ctx context.Context, now time.Time) {
	for _, e := range s.inflight.popExpired(now) {
		if entry, ok := s.catalog.Lookup(s.cam.ID, e.key.channelID, e.key.eventType); ok {
			s.emit(ctx, Update{Kind: UpdateState, CameraID: s.cam.ID, Entry: entry, On: false})
		}
	}
}

// drain fecha a sessão: OFF forçado para todo evento em voo e só DEPOIS o
// offline da câmera. A ordem importa — um sensor nunca pode ficar preso em
// ON com a câmera offline.
func (s *Supervisor) drain(ctx context.Context) {
	for _, e := range s.inflight.drain() {
		if entry, ok := s.catalog.Lookup(s.cam.ID, e.key.channelID, e.key.eventType); ok {
			s.emit(ctx, Update{Kind: UpdateState, CameraID: s.cam.ID, Entry: entry, On: false})
		}
	}
	if s.online {
		s.emit(ctx, Update{Kind: UpdateAvailability, CameraID: s.cam.ID, Online: false})
		s.online = false
	}
	s.hasLastEntry = false
}

// emit entrega um Update ao bridge. Durante o shutdown o bridge continua
// consumindo até os supervisores drenarem, então o send não trava; o
// timeout cobre o caso do consumidor já ter morrido.
func (s *Supervisor) emit(ctx context.Context, u Update) {
	select {
	case s.updates <- u:
	case <-time.After(5 * time.Second):
		log.Printf("[camera %s] update dropped, bridge not consuming", s.cam.ID)
	}
}

func keyOf(entry catalog.Entry) inflightKey {
	return inflightKey{channelID: entry.ChannelID, eventType: strings.ToLower(entry.EventType)}
}

func attributesOf(a *alertstream.Alert) map[string]string {
	attrs := make(map[string]string, len(a.Raw))
	for k, v := range a.Raw {
		attrs[k] = v
	}
	return attrs
}
