package pipingserver

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// transferSource is the header/body pair the Header Projector reads from:
// either the sender's request verbatim, or the first part of a
// multipart/form-data body when the sender posted a form.
type transferSource struct {
	header textproto.MIMEHeader
	body   io.ReadCloser
}

// getTransferSource unwraps a multipart/form-data sender body to its first
// part, per §4.3 "Multipart unwrapping". Any other content type, or a
// multipart body that fails to parse, is passed through unchanged.
func getTransferSource(req *http.Request) transferSource {
	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err == nil && mediaType == "multipart/form-data" {
		mr := multipart.NewReader(req.Body, params["boundary"])
		part, err := mr.NextPart()
		if err == nil {
			return transferSource{header: part.Header, body: part}
		}
	}
	return transferSource{header: textproto.MIMEHeader(req.Header), body: req.Body}
}

// projectedHeaders is the deterministic mapping from sender headers to the
// headers every receiver sees, per §4.3's table.
type projectedHeaders struct {
	contentType           string
	hasContentType        bool
	contentLength         string
	hasContentLength      bool
	contentDisposition    string
	hasContentDisposition bool
	xPiping               []string
}

func projectHeaders(src textproto.MIMEHeader) projectedHeaders {
	var p projectedHeaders

	if values := src.Values("Content-Type"); len(values) == 1 {
		p.contentType, p.hasContentType = rewriteContentType(values[0]), true
	}
	if values := src.Values("Content-Length"); len(values) == 1 {
		p.contentLength, p.hasContentLength = values[0], true
	}
	if values := src.Values("Content-Disposition"); len(values) == 1 {
		p.contentDisposition, p.hasContentDisposition = values[0], true
	}
	p.xPiping = src.Values("X-Piping")

	return p
}

// rewriteContentType rewrites a text/html media type to text/plain while
// preserving any parameters (e.g. charset=utf-8); every other value passes
// through verbatim, including values that fail to parse as a media type.
func rewriteContentType(raw string) string {
	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil || mediaType != "text/html" {
		return raw
	}
	if len(params) == 0 {
		return "text/plain"
	}
	return mime.FormatMediaType("text/plain", params)
}

// writeProjectedHeaders applies the projection to a receiver's response
// header set, in the order described in §4.3's table.
func writeProjectedHeaders(h http.Header, p projectedHeaders) {
	h["Content-Type"] = nil // never let the transport sniff a content-type
	if p.hasContentType {
		h.Set("Content-Type", p.contentType)
	}
	if p.hasContentLength {
		h.Set("Content-Length", p.contentLength)
	}
	if p.hasContentDisposition {
		h.Set("Content-Disposition", p.contentDisposition)
	}
	if len(p.xPiping) != 0 {
		h["X-Piping"] = p.xPiping
		h.Set("Access-Control-Expose-Headers", "X-Piping")
	}
	h.Set("X-Robots-Tag", "none")
	h.Set("Access-Control-Allow-Origin", "*")
}
