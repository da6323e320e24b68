package fetch

import (
	"context"
	"net"
	"net/http"
	"time"
)

// deadlineConn applies a fresh read deadline before every Read, so a stalled
// peer fails after readTimeout of silence rather than after a whole-request
// budget.
type deadlineConn struct {
	net.Conn
	readTimeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

// newHTTPClient builds a client with a connect timeout and a socket read
// timeout. Pooled connections get no idle timeout of their own: the read
// deadline already closes a connection once it sits idle for readTimeout.
func newHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, readTimeout: readTimeout}, nil
		},
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConnsPerHost:   2,
	}

	return &http.Client{Transport: transport}
}
