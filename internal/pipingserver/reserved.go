package pipingserver

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
)

//go:embed assets/index.html assets/noscript.html assets/help.txt
var assets embed.FS

// Version is reported by the /version reserved path and the CLI's
// --version flag.
const Version = "1.0.0"

var noscriptTmpl = template.Must(template.ParseFS(assets, "assets/noscript.html"))

// reservedResponse is a fully-materialized response, computed once so GET
// and HEAD can share it byte-for-byte (§4.1's HEAD-consistency rule, P5).
type reservedResponse struct {
	status      int
	contentType string
	body        []byte
}

// serveReserved dispatches GET/HEAD on a reserved path (§6). POST/PUT never
// reach here; the router rejects those before calling in.
func serveReserved(w http.ResponseWriter, req *http.Request) {
	resp := buildReservedResponse(req)

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	if resp.contentType != "" {
		h.Set("Content-Type", resp.contentType)
	}
	if resp.body != nil {
		h.Set("Content-Length", strconv.Itoa(len(resp.body)))
	}
	w.WriteHeader(resp.status)
	if req.Method == http.MethodHead {
		return
	}
	if resp.body != nil {
		w.Write(resp.body)
	}
}

func buildReservedResponse(req *http.Request) reservedResponse {
	switch req.URL.Path {
	case "", "/":
		body, _ := assets.ReadFile("assets/index.html")
		return reservedResponse{status: http.StatusOK, contentType: "text/html; charset=utf-8", body: body}
	case "/noscript":
		var buf bytes.Buffer
		noscriptTmpl.Execute(&buf, struct{ Path string }{Path: req.URL.Query().Get("path")})
		return reservedResponse{status: http.StatusOK, contentType: "text/html; charset=utf-8", body: buf.Bytes()}
	case "/version":
		return reservedResponse{status: http.StatusOK, contentType: "text/plain", body: []byte(Version + "\n")}
	case "/help":
		body, _ := assets.ReadFile("assets/help.txt")
		return reservedResponse{status: http.StatusOK, contentType: "text/plain", body: body}
	case "/favicon.ico":
		return reservedResponse{status: http.StatusNoContent}
	case "/robots.txt":
		return reservedResponse{status: http.StatusNotFound, contentType: "text/plain", body: []byte("404 not found\n")}
	}
	panic(fmt.Sprintf("unreachable: %s is not a reserved path", req.URL.Path))
}
