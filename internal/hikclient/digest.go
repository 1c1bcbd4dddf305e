// internal/hikclient/digest.go
package hikclient

import (
	"crypto/md5" //nolint:gosec - exigido pelo RFC 7616 para câmeras
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
)

// digestState guarda o challenge da conexão atual. O contador nc é
// monotônico por conexão; zerar no reconnect é o comportamento correto.
type digestState struct {
	realm  string
	nonce  string
	qop    string
	opaque string
	nc     uint32
}

var digestKVRx = regexp.MustCompile(`(\w+)="?([^",]+)"?`)

func parseDigestChallenge(h string) (*digestState, error) {
	if !strings.HasPrefix(strings.ToLower(h), "digest ") {
		return nil, fmt.Errorf("WWW-Authenticate is not Digest: %q", h)
	}
	h = strings.TrimSpace(h[len("Digest "):])
	st := &digestState{}
	for _, kv := range digestKVRx.FindAllStringSubmatch(h, -1) {
		if len(kv) != 3 {
			continue
		}
		switch strings.ToLower(kv[1]) {
		case "realm":
			st.realm = kv[2]
		case "nonce":
			st.nonce = kv[2]
		case "qop":
			st.qop = kv[2]
		case "opaque":
			st.opaque = kv[2]
		}
	}
	if st.realm == "" || st.nonce == "" {
		return nil, fmt.Errorf("realm/nonce missing in WWW-Authenticate: %q", h)
	}
	// Alguns firmwares mandam qop="auth,auth-int"; só suportamos auth.
	if st.qop != "" && !strings.Contains(st.qop, "auth") {
		return nil, fmt.Errorf("unsupported qop %q", st.qop)
	}
	if st.qop != "" {
		st.qop = "auth"
	}
	return st, nil
}

// authorize monta o header Authorization para method+uri, incrementando nc.
func (d *digestState) authorize(username, password, method, uri string) string {
	d.nc++
	nc := fmt.Sprintf("%08x", d.nc)
	cnonce := randomHex(16)

	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", username, d.realm, password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))

	var response string
	if d.qop == "" {
		// RFC 2069 legado, sem qop.
		response = md5Hex(fmt.Sprintf("%s:%s:%s", ha1, d.nonce, ha2))
	} else {
		response = md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, d.nonce, nc, cnonce, d.qop, ha2))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", algorithm=MD5, response="%s"`,
		username, d.realm, d.nonce, uri, response)
	if d.qop != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce="%s"`, d.qop, nc, cnonce)
	}
	if d.opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, d.opaque)
	}
	return b.String()
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := crand.Read(b); err != nil {
		// fallback fraco, mas suficiente aqui
		for i := range b {
			b[i] = byte(rand.Intn(256))
		}
	}
	return hex.EncodeToString(b)
}
