// internal/hikclient/client.go
package hikclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sua-org/hik-bridge/internal/core"
)

const (
	alertStreamPath = "/ISAPI/Event/notification/alertStream"
	deviceInfoPath  = "/ISAPI/System/deviceInfo"
	triggersPath    = "/ISAPI/Event/triggers"

	connectTimeout = 10 * time.Second
	requestTimeout = 10 * time.Second
)

// ErrConnect indica falha de transporte antes de qualquer resposta HTTP
// (dial, TLS, DNS). Recuperável via backoff.
var ErrConnect = errors.New("camera connection failed")

// ErrAuthFailed indica que o digest (e o fallback Basic, se permitido)
// foi rejeitado. Recuperável via backoff, mas logado com mais severidade.
var ErrAuthFailed = errors.New("camera authentication failed")

// HTTPStatusError é devolvido para respostas não-200 fora do handshake 401.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("camera returned http status %d", e.Code)
}

// Client fala ISAPI com uma câmera usando Digest (RFC 7616, qop=auth).
// O estado de nonce é por conexão e por câmera — nunca compartilhado.
type Client struct {
	cam  core.Camera
	http *http.Client
	auth *digestState
}

func New(cam core.Camera) *Client {
	tr := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: requestTimeout,
	}
	if cam.UseTLS {
		// Câmeras em rede interna quase sempre usam cert self-signed.
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{
		cam: cam,
		// Timeout zero: o alert stream é deliberadamente longo e fica em
		// silêncio entre eventos. Leitura é limitada pelo keep-alive TCP.
		http: &http.Client{Timeout: 0, Transport: tr},
	}
}

func (c *Client) baseURL() string {
	scheme := "http"
	if c.cam.UseTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.cam.Host, c.cam.Port)
}

// OpenAlertStream abre o GET longo do alert stream e devolve o corpo
// multipart junto com o boundary extraído do Content-Type.
func (c *Client) OpenAlertStream(ctx context.Context) (io.ReadCloser, string, error) {
	resp, err := c.get(ctx, alertStreamPath)
	if err != nil {
		return nil, "", err
	}
	ct := resp.Header.Get("Content-Type")
	mediatype, params, err := mime.ParseMediaType(ct)
	if err != nil {
		resp.Body.Close()
		return nil, "", fmt.Errorf("invalid Content-Type %q: %w", ct, err)
	}
	if !strings.HasPrefix(mediatype, "multipart/") {
		resp.Body.Close()
		return nil, "", fmt.Errorf("unexpected media type on alert stream: %s", mediatype)
	}
	boundary := params["boundary"]
	if boundary == "" {
		resp.Body.Close()
		return nil, "", fmt.Errorf("no boundary in Content-Type: %s", ct)
	}
	return resp.Body, boundary, nil
}

// get faz a dança do digest: 1ª tentativa sem Authorization só para pegar
// o WWW-Authenticate, depois exatamente uma retentativa autenticada.
func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	rawURL := c.baseURL() + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Connection", "keep-alive")
	if c.auth != nil {
		// Reaproveita o challenge da conexão atual, só incrementando nc.
		req.Header.Set("Authorization", c.auth.authorize(c.cam.Username, c.cam.Password, http.MethodGet, path))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return c.checkStatus(resp)
	}

	challenge := resp.Header.Get("WWW-Authenticate")
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()

	auth, err := parseDigestChallenge(challenge)
	if err != nil {
		if c.cam.AllowBasicAuth {
			return c.retryBasic(ctx, rawURL)
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	c.auth = auth

	req2, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req2.Header.Set("Connection", "keep-alive")
	req2.Header.Set("Authorization", c.auth.authorize(c.cam.Username, c.cam.Password, http.MethodGet, path))

	resp2, err := c.http.Do(req2)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if resp2.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp2.Body) //nolint:errcheck
		resp2.Body.Close()
		c.auth = nil
		return nil, fmt.Errorf("%w: username or password incorrect", ErrAuthFailed)
	}
	return c.checkStatus(resp2)
}

func (c *Client) retryBasic(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Connection", "keep-alive")
	req.SetBasicAuth(c.cam.Username, c.cam.Password)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()
		return nil, fmt.Errorf("%w: basic auth rejected", ErrAuthFailed)
	}
	return c.checkStatus(resp)
}

func (c *Client) checkStatus(resp *http.Response) (*http.Response, error) {
	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusForbidden:
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()
		// Permissão "Notify Surveillance Center" ausente no usuário.
		return nil, fmt.Errorf("%w: user lacks permissions (grant 'Notify Surveillance Center')", ErrAuthFailed)
	default:
		code := resp.StatusCode
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()
		return nil, &HTTPStatusError{Code: code}
	}
}

// fetchXML busca um endpoint curto (deviceInfo, triggers) com timeout
// próprio, independente do stream.
func (c *Client) fetchXML(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
