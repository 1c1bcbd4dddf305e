// internal/alertstream/scanner.go
package alertstream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

// Part é uma parte do stream multipart: headers + corpo cru.
type Part struct {
	Header textproto.MIMEHeader
	Body   []byte
}

// Scanner percorre o corpo multipart do alert stream. Não usa
// mime/multipart de propósito: os firmwares Hikvision emitem framing
// fora do padrão (boundary sem preâmbulo CRLF, corpo delimitado por
// Content-Length) que o leitor da stdlib rejeita.
type Scanner struct {
	r        *bufio.Reader
	tp       *textproto.Reader
	boundary []byte // "--" + boundary do Content-Type
	atPart   bool   // a linha de boundary da próxima parte já foi consumida
	done     bool
}

func NewScanner(r io.Reader, boundary string) *Scanner {
	br := bufio.NewReaderSize(r, 16*1024)
	return &Scanner{
		r:        br,
		tp:       textproto.NewReader(br),
		boundary: []byte("--" + boundary),
	}
}

// Next devolve a próxima parte. io.EOF (ou o erro de transporte) indica
// fim do stream; não é reiniciável.
func (s *Scanner) Next() (*Part, error) {
	if s.done {
		return nil, io.EOF
	}

	// 1) procura a linha de boundary (a menos que o corpo anterior já a
	// tenha consumido ao varrer até o delimitador).
	for !s.atPart {
		line, err := s.r.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}
		trimmed := bytes.TrimRight(line, "\r\n")
		if bytes.HasPrefix(trimmed, s.boundary) {
			if isFinalBoundary(trimmed, s.boundary) {
				s.done = true
				return nil, io.EOF
			}
			s.atPart = true
		}
		if err != nil && !s.atPart {
			return nil, err
		}
	}
	s.atPart = false

	// 2) headers até a linha em branco.
	hdr, err := s.tp.ReadMIMEHeader()
	if err != nil && len(hdr) == 0 {
		return nil, err
	}

	// 3) corpo: por Content-Length quando presente, senão até a próxima
	// linha de boundary.
	if cl := strings.TrimSpace(hdr.Get("Content-Length")); cl != "" {
		n, convErr := strconv.Atoi(cl)
		if convErr != nil || n < 0 {
			return nil, fmt.Errorf("invalid Content-Length %q", cl)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(s.r, body); err != nil {
			return nil, err
		}
		return &Part{Header: hdr, Body: body}, nil
	}

	var buf bytes.Buffer
	for {
		line, err := s.r.ReadBytes('\n')
		trimmed := bytes.TrimRight(line, "\r\n")
		if bytes.HasPrefix(trimmed, s.boundary) {
			if isFinalBoundary(trimmed, s.boundary) {
				s.done = true
			} else {
				s.atPart = true
			}
			break
		}
		buf.Write(line)
		if err != nil {
			if err == io.EOF && buf.Len() > 0 {
				// transporte caiu no meio: entrega o que temos, o EOF
				// aparece na próxima chamada.
				break
			}
			return nil, err
		}
	}
	return &Part{Header: hdr, Body: bytes.TrimRight(buf.Bytes(), "\r\n")}, nil
}

func isFinalBoundary(line, boundary []byte) bool {
	rest := bytes.TrimPrefix(line, boundary)
	return bytes.HasPrefix(rest, []byte("--"))
}
