// internal/supervisor/backoff.go
package supervisor

import (
	"math/rand"
	"time"
)

// Política de reconexão: exponencial base 1s, fator 2, teto 60s, jitter
// ±20%. O reset só acontece depois de uma sessão estável (ver
// stabilityWindow no supervisor) — sessões curtas não contam.
const (
	backoffBase   = 1 * time.Second
	backoffCap    = 60 * time.Second
	backoffJitter = 0.2
)

type backoff struct {
	current time.Duration
	rng     *rand.Rand
}

func newBackoff() *backoff {
	return &backoff{
		current: backoffBase,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next devolve o delay atual com jitter (nunca acima do teto) e dobra o
// delay base para a próxima falha.
func (b *backoff) Next() time.Duration {
	d := b.current

	b.current *= 2
	if b.current > backoffCap {
		b.current = backoffCap
	}

	// jitter ±20%, com clamp no teto
	spread := float64(d) * backoffJitter
	jittered := float64(d) + (b.rng.Float64()*2-1)*spread
	if jittered < 0 {
		jittered = float64(backoffBase)
	}
	if jittered > float64(backoffCap) {
		jittered = float64(backoffCap)
	}
	return time.Duration(jittered)
}

func (b *backoff) Reset() {
	b.current = backoffBase
}
