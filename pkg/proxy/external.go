package proxy

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/reproserver/reproserver/pkg/connector"
	"github.com/reproserver/reproserver/pkg/log"
)

// PortHeader tells the in-pod proxy which container port the request is
// for.
const PortHeader = "X-Reproserver-Port"

// pathPattern matches the path addressing mode,
// /results/<run-short-id>/port/<port>.
var pathPattern = regexp.MustCompile(`^/?results/([^/]+)/port/([0-9]+)`)

// Decoder turns a run short id into the numeric run id.
type Decoder func(shortID string) (int64, error)

// TargetAddr resolves the upstream address for a run and container port.
// In cluster mode that is the run service on the in-pod proxy port; on a
// single host it is the published port itself.
type TargetAddr func(runID int64, port int) string

// K8sTargetAddr targets the run's service, where the sidecar proxy
// listens.
func K8sTargetAddr(namePrefix string) TargetAddr {
	return func(runID int64, port int) string {
		return fmt.Sprintf("%s%d:%d", namePrefix, runID, ProxyPort)
	}
}

// DockerTargetAddr targets the docker host, where run ports are published
// directly.
func DockerTargetAddr(host string) TargetAddr {
	return func(runID int64, port int) string {
		return fmt.Sprintf("%s:%d", host, port)
	}
}

// ProxyPort is the port the in-pod proxy listens on.
const ProxyPort = 5597

// External is the public-facing proxy. It addresses runs either by
// hostname (<short-id>-<port>.<domain>) or by path
// (/results/<short-id>/port/<port>), the latter with redirect rewriting
// for the service worker.
type External struct {
	decode     Decoder
	targetAddr TargetAddr
	token      string
	forwarder  *Forwarder
}

// NewExternal creates the external proxy. token is empty when the target
// is reached directly rather than through the in-pod proxy.
func NewExternal(decode Decoder, targetAddr TargetAddr, token, version string) *External {
	p := &External{
		decode:     decode,
		targetAddr: targetAddr,
		token:      token,
	}
	p.forwarder = NewForwarder(p.route, version)
	return p
}

func (p *External) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.forwarder.ServeHTTP(w, r)
}

func (p *External) route(r *http.Request) (*Destination, error) {
	if m := pathPattern.FindStringSubmatch(r.URL.Path); m != nil {
		return p.routePath(r, m)
	}
	return p.routeHost(r)
}

// routeHost extracts the run and port from the first hostname label,
// <short-id>-<port>.
func (p *External) routeHost(r *http.Request) (*Destination, error) {
	label := strings.SplitN(hostName(r.Host), ".", 2)[0]
	dash := strings.LastIndex(label, "-")
	if dash <= 0 || dash == len(label)-1 {
		log.Info("Invalid hostname")
		return nil, fmt.Errorf("Invalid hostname")
	}
	shortID, portStr := label[:dash], label[dash+1:]

	runID, err := p.decode(shortID)
	if err != nil {
		log.Info("Invalid run short id")
		return nil, fmt.Errorf("Invalid hostname")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Info("Invalid port in hostname")
		return nil, fmt.Errorf("Invalid hostname")
	}

	return p.destination(r, runID, port, r.URL.RequestURI(), false), nil
}

// routePath extracts the run and port from the path addressing mode and
// strips the prefix before forwarding.
func (p *External) routePath(r *http.Request, m []string) (*Destination, error) {
	runID, err := p.decode(m[1])
	if err != nil {
		log.Info("Invalid run short id")
		return nil, fmt.Errorf("Invalid path")
	}
	port, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("Invalid path")
	}

	uri := pathPattern.ReplaceAllString(r.URL.RequestURI(), "")
	if uri == "" {
		uri = "/"
	}
	return p.destination(r, runID, port, uri, true), nil
}

func (p *External) destination(r *http.Request, runID int64, port int, uri string, rewrite bool) *Destination {
	headers := map[string]string{}
	if p.token != "" {
		headers[connector.AuthHeader] = p.token
		headers[PortHeader] = strconv.Itoa(port)
	}
	return &Destination{
		Host:             p.targetAddr(runID, port),
		URI:              uri,
		Headers:          headers,
		HostHeader:       r.Host,
		RewriteRedirects: rewrite,
	}
}

// hostName strips the port from a Host header value.
func hostName(host string) string {
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[i:], "]") {
		return host[:i]
	}
	return host
}
