// internal/hikclient/client_test.go
package hikclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/hik-bridge/internal/core"
)

const deviceInfoXML = `<?xml version="1.0" encoding="UTF-8"?>
<DeviceInfo version="2.0" xmlns="http://www.hikvision.com/ver20/XMLSchema">
<deviceName>Portaria</deviceName>
<deviceID>88</deviceID>
<model>DS-2CD2143G0-I</model>
<serialNumber>DS-2CD2143G0-I20190101AAWRC12345678</serialNumber>
<macAddress>c0:56:e3:aa:bb:cc</macAddress>
<firmwareVersion>V5.6.3</firmwareVersion>
<deviceType>IPCamera</deviceType>
</DeviceInfo>`

func camFor(t *testing.T, srv *httptest.Server, allowBasic bool) core.Camera {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return core.Camera{
		ID:             "portaria",
		Host:           host,
		Port:           port,
		Username:       "admin",
		Password:       "secret123",
		AllowBasicAuth: allowBasic,
	}
}

// parseAuth quebra o header Authorization num mapa chave->valor.
func parseAuth(h string) map[string]string {
	out := make(map[string]string)
	h = strings.TrimPrefix(h, "Digest ")
	for _, kv := range digestKVRx.FindAllStringSubmatch(h, -1) {
		out[strings.ToLower(kv[1])] = kv[2]
	}
	return out
}

// digestHandler valida o digest do jeito que uma câmera validaria.
func digestHandler(t *testing.T, realm, nonce string, requests *int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*requests++
		auth := r.Header.Get("Authorization")
		if auth == "" {
			w.Header().Set("WWW-Authenticate",
				fmt.Sprintf(`Digest qop="auth", realm="%s", nonce="%s"`, realm, nonce))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		fields := parseAuth(auth)
		ha1 := md5Hex("admin:" + realm + ":secret123")
		ha2 := md5Hex("GET:" + fields["uri"])
		want := md5Hex(fmt.Sprintf("%s:%s:%s:%s:auth:%s", ha1, nonce, fields["nc"], fields["cnonce"], ha2))
		if fields["response"] != want {
			t.Errorf("digest response errado: got %s want %s", fields["response"], want)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, body)
	}
}

func TestDigestHandshake(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(digestHandler(t, "testrealm", "abc123", &requests, deviceInfoXML))
	defer srv.Close()

	c := New(camFor(t, srv, false))
	info, err := c.FetchDeviceInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, requests) // 401 + retentativa autenticada
	assert.Equal(t, "DS-2CD2143G0-I", info.Model)
	assert.Equal(t, "V5.6.3", info.FirmwareVersion)
	assert.Equal(t, "IPCamera", info.DeviceType)
}

func TestDigestNonceReuseIncrementsNC(t *testing.T) {
	requests := 0
	var ncs []string
	handler := digestHandler(t, "realm", "nonce1", &requests, deviceInfoXML)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			ncs = append(ncs, parseAuth(auth)["nc"])
		}
		handler(w, r)
	}))
	defer srv.Close()

	c := New(camFor(t, srv, false))
	_, err := c.FetchDeviceInfo(context.Background())
	require.NoError(t, err)
	_, err = c.FetchDeviceInfo(context.Background())
	require.NoError(t, err)

	// segunda chamada reaproveita o challenge, sem novo 401
	assert.Equal(t, 3, requests)
	require.Len(t, ncs, 2)
	assert.Equal(t, "00000001", ncs[0])
	assert.Equal(t, "00000002", ncs[1])
}

func TestDigestRetriesExactlyOnce(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("WWW-Authenticate", `Digest qop="auth", realm="r", nonce="n"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(camFor(t, srv, false))
	_, err := c.FetchDeviceInfo(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, 2, requests)
}

func TestBasicFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok && user == "admin" && pass == "secret123" {
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, deviceInfoXML)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="cam"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	// sem allow_basic_auth: nunca manda credencial em claro
	c := New(camFor(t, srv, false))
	_, err := c.FetchDeviceInfo(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)

	c = New(camFor(t, srv, true))
	info, err := c.FetchDeviceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "DS-2CD2143G0-I", info.Model)
}

func TestForbiddenIsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(camFor(t, srv, false))
	_, err := c.FetchDeviceInfo(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(camFor(t, srv, false))
	_, err := c.FetchDeviceInfo(context.Background())
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
}

func TestOpenAlertStreamBoundary(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("Authorization") == "" {
			w.Header().Set("WWW-Authenticate", `Digest qop="auth", realm="r", nonce="n"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", `multipart/mixed; boundary="MIME_boundary"`)
		fmt.Fprint(w, "--MIME_boundary--\r\n")
	}))
	defer srv.Close()

	c := New(camFor(t, srv, false))
	body, boundary, err := c.OpenAlertStream(context.Background())
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, "MIME_boundary", boundary)
	assert.Equal(t, "/ISAPI/Event/notification/alertStream", alertStreamPath)
}

func TestParseDigestChallenge(t *testing.T) {
	st, err := parseDigestChallenge(`Digest qop="auth", realm="IP Camera(C1234)", nonce="4e6f6e6365", opaque="0815"`)
	require.NoError(t, err)
	assert.Equal(t, "IP Camera(C1234)", st.realm)
	assert.Equal(t, "4e6f6e6365", st.nonce)
	assert.Equal(t, "auth", st.qop)
	assert.Equal(t, "0815", st.opaque)

	// qop múltiplo: normaliza para auth
	st, err = parseDigestChallenge(`Digest realm="r", nonce="n", qop="auth,auth-int"`)
	require.NoError(t, err)
	assert.Equal(t, "auth", st.qop)

	// sem qop: modo RFC 2069
	st, err = parseDigestChallenge(`Digest realm="r", nonce="n"`)
	require.NoError(t, err)
	assert.Equal(t, "", st.qop)

	_, err = parseDigestChallenge(`Basic realm="r"`)
	assert.Error(t, err)

	_, err = parseDigestChallenge(`Digest realm="r"`)
	assert.Error(t, err) // nonce ausente

	_, err = parseDigestChallenge(`Digest realm="r", nonce="n", qop="auth-int"`)
	assert.Error(t, err)
}

func TestStripXMLNamespace(t *testing.T) {
	in := []byte("<ns:DeviceInfo>\n<ns:model>X</ns:model>\n</ns:DeviceInfo>")
	out := string(stripXMLNamespace(in))
	assert.Contains(t, out, "<DeviceInfo>")
	assert.Contains(t, out, "<model>X</model>")
	assert.Contains(t, out, "</DeviceInfo>")
}

func TestParseTriggersCameraRoot(t *testing.T) {
	xml := `<?xml version="1.0" encoding="UTF-8"?>
<EventTriggerList version="2.0" xmlns="http://www.hikvision.com/ver20/XMLSchema">
<EventTrigger>
<id>VMD-1</id>
<eventType>VMD</eventType>
<videoInputChannelID>1</videoInputChannelID>
</EventTrigger>
<EventTrigger>
<id>IO-1</id>
<eventType>IO</eventType>
<inputIOPortID>2</inputIOPortID>
</EventTrigger>
</EventTriggerList>`

	triggers, err := parseTriggers([]byte(xml))
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	assert.Equal(t, Trigger{ID: "VMD-1", EventType: "VMD", ChannelID: 1}, triggers[0])
	assert.Equal(t, Trigger{ID: "IO-1", EventType: "IO", ChannelID: 2}, triggers[1])
}

func TestParseTriggersNVRRoot(t *testing.T) {
	xml := `<EventNotification>
<EventTriggerList>
<EventTrigger>
<eventType>linedetection</eventType>
<dynVideoInputChannelID>3</dynVideoInputChannelID>
</EventTrigger>
<EventTrigger>
<eventType></eventType>
</EventTrigger>
</EventTriggerList>
</EventNotification>`

	triggers, err := parseTriggers([]byte(xml))
	require.NoError(t, err)
	require.Len(t, triggers, 1) // trigger sem eventType é descartado
	assert.Equal(t, "linedetection", triggers[0].EventType)
	assert.Equal(t, 3, triggers[0].ChannelID)
}

func TestFirstChannelDefaults(t *testing.T) {
	assert.Equal(t, 1, firstChannel())
	assert.Equal(t, 1, firstChannel("", "abc", "0"))
	assert.Equal(t, 4, firstChannel("", "4"))
}
