package wsconn

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Dial opens a websocket to relativeURL against baseURL (scheme http(s) is
// translated to ws(s)) and wraps the result in a *Conn. Grounded on the
// teacher's httpsecure.Client.DialWebSocket: a bounded-handshake dialer,
// an optional bearer token for relay authentication, and a translated
// scheme rather than requiring the caller to spell out ws://.
func Dial(baseURL, relativeURL, bearerToken string, tlsConfig *tls.Config) (*Conn, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("wsconn: parse base url: %w", err)
	}

	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	target := url.URL{Scheme: scheme, Host: u.Host, Path: relativeURL}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		TLSClientConfig:  tlsConfig,
	}

	hdr := http.Header{}
	if bearerToken != "" {
		hdr.Set("Authorization", "Bearer "+bearerToken)
	}

	ws, _, err := dialer.Dial(target.String(), hdr)
	if err != nil {
		return nil, fmt.Errorf("wsconn: dial %s: %w", target.String(), err)
	}
	return New(ws), nil
}
