// internal/alertstream/reader.go
package alertstream

import (
	"errors"
	"io"
	"log"
	"strings"
)

// maxBadParts: uma sequência dessas de partes podres indica stream
// corrompido (boundary dessincronizado); melhor reconectar.
const maxBadParts = 16

// ErrStreamCorrupt é tratado pelo supervisor como transporte fechado.
var ErrStreamCorrupt = errors.New("alert stream corrupt: too many consecutive malformed parts")

// Item é o que o supervisor consome: ou um alerta decodificado, ou um
// snapshot (parte image/*) que acompanha o alerta anterior.
type Item struct {
	Alert    *Alert
	Snapshot *Snapshot
}

type Snapshot struct {
	ContentType string
	Data        []byte
}

// Reader combina o Scanner com o decoder e aplica a política de pulo de
// partes malformadas.
type Reader struct {
	sc     *Scanner
	camID  string // só para log
	badRun int
}

func NewReader(r io.Reader, boundary, cameraID string) *Reader {
	return &Reader{sc: NewScanner(r, boundary), camID: cameraID}
}

// Next devolve o próximo item do stream. Partes malformadas são puladas
// com warning; maxBadParts seguidas viram ErrStreamCorrupt. Erros de
// transporte (EOF incluso) sobem direto.
func (r *Reader) Next() (*Item, error) {
	for {
		part, err := r.sc.Next()
		if err != nil {
			return nil, err
		}

		ct := part.Header.Get("Content-Type")
		switch {
		case strings.HasPrefix(ct, "image/"):
			r.badRun = 0
			return &Item{Snapshot: &Snapshot{ContentType: ct, Data: part.Body}}, nil

		case ct == "" || strings.HasPrefix(ct, "application/xml") || strings.HasPrefix(ct, "text/xml") || strings.HasPrefix(ct, "text/plain"):
			alert, decErr := DecodeAlert(part.Body)
			if decErr != nil {
				r.badRun++
				log.Printf("[alertstream %s] skipping malformed part (%d/%d): %v", r.camID, r.badRun, maxBadParts, decErr)
				if r.badRun >= maxBadParts {
					return nil, ErrStreamCorrupt
				}
				continue
			}
			r.badRun = 0
			return &Item{Alert: alert}, nil

		default:
			// outros tipos (json de firmwares novos, etc.): descarta
			continue
		}
	}
}
