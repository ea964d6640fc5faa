package proxy

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/reproserver/reproserver/pkg/log"
	"github.com/reproserver/reproserver/pkg/metrics"
)

// Destination is where one request gets forwarded.
type Destination struct {
	// Host is the upstream host:port.
	Host string

	// URI is the path and query to request upstream.
	URI string

	// Headers are set on the upstream request (shared secret, target
	// port). The upstream Host header is taken from HostHeader.
	Headers map[string]string

	// HostHeader is sent as the upstream Host so the application behind
	// the proxy sees the address the browser used.
	HostHeader string

	// RewriteRedirects converts 3xx responses to 200 and moves the
	// redirect into x-redirect-* headers, for the service-worker path
	// addressing mode.
	RewriteRedirects bool
}

// Router maps a request to its Destination. A nil Destination with a nil
// error means the response was already written (auth failure, bad address).
type Router func(r *http.Request) (*Destination, error)

// Forwarder is the engine shared by the external and internal proxies. It
// relays plain HTTP requests and WebSocket upgrades to the Destination
// chosen by Route.
type Forwarder struct {
	Route   Router
	Version string

	client   *http.Client
	upgrader websocket.Upgrader
}

// NewForwarder creates a Forwarder around a Router.
func NewForwarder(route Router, version string) *Forwarder {
	return &Forwarder{
		Route:   route,
		Version: version,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Redirects belong to the browser, not the proxy
				return http.ErrUseLastResponse
			},
		},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", "ReproServer/"+f.Version)

	dest, err := f.Route(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	if dest == nil {
		return
	}

	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		f.forwardWebSocket(w, r, dest)
		return
	}
	f.forwardHTTP(w, r, dest)
}

func (f *Forwarder) forwardHTTP(w http.ResponseWriter, r *http.Request, dest *Destination) {
	upstream, err := http.NewRequestWithContext(
		r.Context(), r.Method, "http://"+dest.Host+dest.URI, r.Body,
	)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues("http", "error").Inc()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	copyRequestHeaders(upstream.Header, r.Header)
	for name, value := range dest.Headers {
		upstream.Header.Set(name, value)
	}
	if dest.HostHeader != "" {
		upstream.Host = dest.HostHeader
	}

	res, err := f.client.Do(upstream)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues("http", "error").Inc()
		log.Info("Host doesn't reply, sending 503")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(
			w,
			"This run is not responding, it might be starting up "+
				"or have already ended",
		)
		return
	}
	defer res.Body.Close()
	metrics.ProxyRequests.WithLabelValues("http", "success").Inc()

	copyResponseHeaders(w.Header(), res.Header)

	status := res.StatusCode
	if dest.RewriteRedirects && status >= 300 && status < 400 {
		// A same-origin service worker re-issues the redirect itself
		if location := w.Header().Get("Location"); location != "" {
			w.Header().Del("Location")
			w.Header().Set("x-orig-location", location)
		}
		w.Header().Set("x-redirect-status", fmt.Sprintf("%d", status))
		w.Header().Set("x-redirect-statusText", http.StatusText(status))
		status = http.StatusOK
	}
	w.WriteHeader(status)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := res.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func (f *Forwarder) forwardWebSocket(w http.ResponseWriter, r *http.Request, dest *Destination) {
	headers := make(http.Header)
	copyRequestHeaders(headers, r.Header)
	for _, name := range []string{
		"Upgrade", "Connection",
		"Sec-Websocket-Key", "Sec-Websocket-Version",
		"Sec-Websocket-Extensions", "Sec-Websocket-Protocol",
	} {
		headers.Del(name)
	}
	for name, value := range dest.Headers {
		headers.Set(name, value)
	}
	if dest.HostHeader != "" {
		headers.Set("Host", dest.HostHeader)
	}

	upstream, res, err := websocket.DefaultDialer.Dial("ws://"+dest.Host+dest.URI, headers)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues("ws", "error").Inc()
		if res != nil {
			// Relay the upstream's verdict as-is
			copyResponseHeaders(w.Header(), res.Header)
			w.WriteHeader(res.StatusCode)
			io.Copy(w, res.Body)
			res.Body.Close()
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(
			w,
			"This run is not responding, it might be starting up "+
				"or have already ended",
		)
		return
	}
	defer upstream.Close()

	client, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues("ws", "error").Inc()
		return
	}
	defer client.Close()
	metrics.ProxyRequests.WithLabelValues("ws", "success").Inc()

	done := make(chan struct{}, 2)
	relay := func(dst, src *websocket.Conn) {
		defer func() { done <- struct{}{} }()
		for {
			messageType, message, err := src.ReadMessage()
			if err != nil {
				return
			}
			if err := dst.WriteMessage(messageType, message); err != nil {
				return
			}
		}
	}
	go relay(upstream, client)
	go relay(client, upstream)

	// One side closing ends the relay; deferred closes unblock the other
	<-done
}

// copyRequestHeaders copies client headers onto the upstream request,
// dropping Host and connection management headers.
func copyRequestHeaders(dst, src http.Header) {
	for name, values := range src {
		switch http.CanonicalHeaderKey(name) {
		case "Host", "Connection", "Keep-Alive", "Proxy-Connection":
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}

// copyResponseHeaders copies upstream headers onto the response, minus the
// ones the server sets itself.
func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Connection", "Transfer-Encoding":
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}
