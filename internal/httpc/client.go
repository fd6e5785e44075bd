// Package httpc builds the HTTP clients the speech, transcription and reply
// providers share. http.DefaultClient has no timeout, so nothing here uses it.
package httpc

import (
	"net"
	"net/http"
	"time"
)

// Transport limits.
const (
	DialTimeout      = 10 * time.Second
	HandshakeTimeout = 10 * time.Second
	IdleTimeout      = 90 * time.Second
)

var transport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	DialContext:           (&net.Dialer{Timeout: DialTimeout, KeepAlive: 30 * time.Second}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConnsPerHost:   4,
	IdleConnTimeout:       IdleTimeout,
	TLSHandshakeTimeout:   HandshakeTimeout,
	ExpectContinueTimeout: time.Second,
}

// NewClient returns a client bounded by timeout over the shared transport,
// so providers talking to the same host reuse connections. Request
// contexts carry the real deadlines; timeout is a backstop.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: transport}
}
