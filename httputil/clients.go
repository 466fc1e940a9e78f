package httputil

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"
)

// NewScrapingClient builds the client used against retailer sites. When a
// proxy is configured all storefront traffic goes through it, and HTTP/2
// is disabled because several proxy vendors mangle h2 streams.
func NewScrapingClient(proxyURL string, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			client.Transport = &http.Transport{
				Proxy:             http.ProxyURL(parsed),
				ForceAttemptHTTP2: false,
				TLSNextProto:      make(map[string]func(string, *tls.Conn) http.RoundTripper),
			}
		}
	}

	return client
}

// NewDirectClient is for our own infrastructure: never proxied.
func NewDirectClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
