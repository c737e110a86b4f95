package pipingserver

import (
	"io"
	"log"
	"net/http"
)

// Server is the Path Router (§4.1) composed with the Rendezvous Engine. It
// implements http.Handler and can be mounted on any transport that can hand
// it a *http.Request — cleartext, TLS, HTTP/2, or HTTP/3 alike.
type Server struct {
	registry *Registry
	logger   *log.Logger
}

func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{registry: NewRegistry(), logger: logger}
}

var reservedPaths = map[string]bool{
	"":             true,
	"/":            true,
	"/noscript":    true,
	"/version":     true,
	"/help":        true,
	"/favicon.ico": true,
	"/robots.txt":  true,
}

func isReservedPath(path string) bool {
	return reservedPaths[path]
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.logger.Printf("%s %s %s", req.Method, req.URL, req.Proto)

	switch req.Method {
	case http.MethodOptions:
		writeCORSPreflight(w)
		return
	case http.MethodGet, http.MethodHead:
		if isReservedPath(req.URL.Path) {
			serveReserved(w, req)
			return
		}
		s.serveReceiver(w, req)
		return
	case http.MethodPost, http.MethodPut:
		if isReservedPath(req.URL.Path) {
			writeError(w, http.StatusBadRequest, "[ERROR] Cannot send to the reserved path '"+req.URL.Path+"'.\n")
			return
		}
		s.serveSender(w, req)
		return
	default:
		w.Header().Set("Allow", "GET, HEAD, POST, PUT, OPTIONS")
		writeError(w, http.StatusMethodNotAllowed, "[ERROR] Unsupported method: "+req.Method+".\n")
		return
	}
}

func writeCORSPreflight(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Disposition, X-Piping")
	h.Set("Access-Control-Max-Age", "86400")
	h.Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}

// serveReceiver handles GET/HEAD to a non-reserved path: attaches as a
// receiver, waits for Streaming, then relays bytes until EOF or abort.
func (s *Server) serveReceiver(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodGet && req.Header.Get("Service-Worker") == "script" {
		writeError(w, http.StatusBadRequest, "[ERROR] Service Worker registration is rejected.\n")
		return
	}

	n, err := parseReceiverCount(req.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path := req.URL.Path
	rv, receiver, err := s.registry.attachReceiver(path, n)
	if err != nil {
		writeError(w, http.StatusBadRequest, "[ERROR] "+err.Error()+"\n"+path+"\n")
		return
	}
	// rv is locked by attachReceiver; release before any wait.
	rv.mu.Unlock()

	select {
	case <-rv.streamingCh:
	case <-req.Context().Done():
		if s.registry.detachReceiver(rv, receiver) {
			return
		}
		// Streaming started concurrently with the cancellation, so the
		// detach was a no-op; join as a participant rather than leaving
		// this pipe wired into the multicast with nobody to drain it.
	}

	rv.mu.Lock()
	header := rv.sender.header
	rv.mu.Unlock()

	writeProjectedHeaders(w.Header(), header)
	w.WriteHeader(http.StatusOK)

	// A HEAD receiver still occupies a full slot in the n-contract and
	// must drain its share of the multicast so the sender-side copy (paced
	// by the slowest receiver) doesn't stall on it forever; it just never
	// writes the drained bytes to the client.
	dst := io.Writer(flushWriter{w})
	if req.Method == http.MethodHead {
		dst = io.Discard
	}

	_, copyErr := io.Copy(dst, receiver.pipeReader)
	if copyErr != nil {
		abortReceiverPipe(receiver, copyErr)
	}
}

// serveSender handles POST/PUT to a non-reserved path: attaches as the
// sender, waits for all n receivers, then performs the multicast and
// acknowledges with 200.
func (s *Server) serveSender(w http.ResponseWriter, req *http.Request) {
	if len(req.Header.Values("Content-Range")) != 0 {
		writeError(w, http.StatusBadRequest, "[ERROR] Content-Range is not supported for now in "+req.Method+"\n")
		return
	}

	n, err := parseReceiverCount(req.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	src := getTransferSource(req)
	header := projectHeaders(src.header)

	path := req.URL.Path
	rv, err := s.registry.attachSender(path, n, header, src.body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "[ERROR] "+err.Error()+"\n"+path+"\n")
		return
	}
	rv.mu.Unlock()

	select {
	case <-rv.streamingCh:
	case <-req.Context().Done():
		if s.registry.detachSender(rv) {
			return
		}
		// Streaming started concurrently with the cancellation, so the
		// detach was a no-op; fall through and run the multicast as normal.
	}

	streamErr := runMulticast(s.registry, rv, s.logger)
	if streamErr != nil {
		// Best-effort: no HTTP-level error can be surfaced mid-stream to a
		// peer whose headers were already sent (§7); the sender simply
		// never gets its 200. Aborting the handler closes the connection
		// instead of letting net/http send an implicit 200.
		panic(http.ErrAbortHandler)
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
}
