package proxy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/reproserver/reproserver/pkg/connector"
	"github.com/reproserver/reproserver/pkg/log"
)

// Internal is the proxy that runs inside the worker pod, listening on
// ProxyPort. It only accepts requests carrying the shared secret and
// forwards to the container port named in the request.
type Internal struct {
	token     string
	forwarder *Forwarder
}

// NewInternal creates the in-pod proxy.
func NewInternal(token, version string) *Internal {
	p := &Internal{token: token}
	p.forwarder = NewForwarder(p.route, version)
	return p
}

func (p *Internal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.forwarder.ServeHTTP(w, r)
}

func (p *Internal) route(r *http.Request) (*Destination, error) {
	if r.Header.Get(connector.AuthHeader) != p.token {
		log.Info("Unauthenticated pod communication")
		return nil, fmt.Errorf("Unauthenticated pod communication")
	}

	port := r.Header.Get(PortHeader)
	if port == "" {
		// Legacy callers encode the port in the hostname,
		// <short-id>-<port>
		label := strings.SplitN(hostName(r.Host), ".", 2)[0]
		if dash := strings.LastIndex(label, "-"); dash >= 0 {
			port = label[dash+1:]
		}
	}
	if port == "" {
		return nil, fmt.Errorf("No target port")
	}

	headers := map[string]string{}
	return &Destination{
		Host:    "localhost:" + port,
		URI:     r.URL.RequestURI(),
		Headers: headers,
		// The external Host survives the hop so the app is unaware of
		// the proxy
		HostHeader: r.Host,
	}, nil
}
