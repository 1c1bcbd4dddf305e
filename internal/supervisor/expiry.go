// internal/supervisor/expiry.go
package supervisor

import (
	"container/heap"
	"time"
)

// inflightKey identifica um evento em voo dentro de uma câmera. O tipo é
// normalizado em minúsculas (case varia entre mensagens do mesmo modelo).
type inflightKey struct {
	channelID int
	eventType string
}

// inflightEntry é um evento ativo esperando inactive explícito ou expiry.
// Muitos eventos Hikvision nunca mandam inactive — eles só param.
type inflightEntry struct {
	key      inflightKey
	deadline time.Time
	seq      uint64 // ordem de criação, para drain determinístico
	index    int    // posição no heap
}

// expiryHeap é um min-heap por deadline: refresh de evento ativo é
// O(log n) via heap.Fix.
type expiryHeap []*inflightEntry

func (h expiryHeap) Len() int { return len(h) }

func (h expiryHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].seq < h[j].seq
}

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x interface{}) {
	e := x.(*inflightEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// inflightSet junta o heap com o índice por chave.
type inflightSet struct {
	heap    expiryHeap
	byKey   map[inflightKey]*inflightEntry
	nextSeq uint64
}

func newInflightSet() *inflightSet {
	s := &inflightSet{byKey: make(map[inflightKey]*inflightEntry)}
	heap.Init(&s.heap)
	return s
}

func (s *inflightSet) get(key inflightKey) (*inflightEntry, bool) {
	e, ok := s.byKey[key]
	return e, ok
}

func (s *inflightSet) add(key inflightKey, deadline time.Time) *inflightEntry {
	e := &inflightEntry{key: key, deadline: deadline, seq: s.nextSeq}
	s.nextSeq++
	s.byKey[key] = e
	heap.Push(&s.heap, e)
	return e
}

// refresh empurra o deadline de um evento já em voo (notificação active
// repetida não cria segunda instância, só renova o timer).
func (s *inflightSet) refresh(e *inflightEntry, deadline time.Time) {
	e.deadline = deadline
	heap.Fix(&s.heap, e.index)
}

func (s *inflightSet) remove(e *inflightEntry) {
	delete(s.byKey, e.key)
	heap.Remove(&s.heap, e.index)
}

// nextDeadline devolve o menor deadline, se houver evento em voo.
func (s *inflightSet) nextDeadline() (time.Time, bool) {
	if len(s.heap) == 0 {
		return time.Time{}, false
	}
	return s.heap[0].deadline, true
}

// popExpired remove e devolve as entradas vencidas em `now`.
func (s *inflightSet) popExpired(now time.Time) []*inflightEntry {
	var out []*inflightEntry
	for len(s.heap) > 0 && !s.heap[0].deadline.After(now) {
		e := heap.Pop(&s.heap).(*inflightEntry)
		delete(s.byKey, e.key)
		out = append(out, e)
	}
	return out
}

// drain esvazia tudo em ordem de criação (para o fechamento forçado no
// offline ser determinístico).
func (s *inflightSet) drain() []*inflightEntry {
	out := make([]*inflightEntry, 0, len(s.heap))
	for len(s.heap) > 0 {
		e := heap.Pop(&s.heap).(*inflightEntry)
		delete(s.byKey, e.key)
		out = append(out, e)
	}
	// heap sai em ordem de deadline; reordena por seq
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].seq < out[j-1].seq; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (s *inflightSet) len() int { return len(s.heap) }
