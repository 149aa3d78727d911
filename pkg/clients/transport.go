package clients

import (
	"net"
	"net/http"
	"time"
)

// DefaultTransport bounds connections per collaborator host. A weekly
// pass fans out one asset fetch per client-channel pair; when the
// collaborator is slow or down, the retry traffic must queue on a capped
// pool instead of opening sockets until the process falls over.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxConnsPerHost:     100,
		MaxIdleConnsPerHost: 10,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
