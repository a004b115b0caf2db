package network

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/massmux/zapper/internal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// GetClient returns the client used for LNURL calls. It tunnels through the
// configured SOCKS proxy if there is one.
func GetClient() (*http.Client, error) {
	timeout := internal.Configuration.Network.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := http.Client{
		Timeout: timeout,
	}
	socks := internal.Configuration.Network.SocksProxy
	if socks != nil && socks.Host != "" {
		proxyURL, _ := url.Parse(socks.Host)
		specialTransport := &http.Transport{}
		specialTransport.Proxy = http.ProxyURL(proxyURL)
		var auth *proxy.Auth
		if socks.Username != "" && socks.Password != "" {
			auth = &proxy.Auth{User: socks.Username, Password: socks.Password}
		}
		d, err := proxy.SOCKS5("tcp", socks.Host, auth, &net.Dialer{
			Timeout:   20 * time.Second,
			KeepAlive: -1,
		})
		if err != nil {
			log.Errorln(err)
			return &client, nil
		}
		specialTransport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return d.Dial(network, addr)
		}
		client.Transport = specialTransport
	}
	return &client, nil
}
