package pipingserver

import (
	"net/http"
	"net/textproto"
	"testing"

	"gotest.tools/v3/assert"
)

func TestRewriteContentTypeHTMLToPlain(t *testing.T) {
	assert.Equal(t, rewriteContentType("text/html"), "text/plain")
}

func TestRewriteContentTypePreservesParams(t *testing.T) {
	assert.Equal(t, rewriteContentType("text/html; charset=utf-8"), "text/plain; charset=utf-8")
}

func TestRewriteContentTypeLeavesOthersAlone(t *testing.T) {
	assert.Equal(t, rewriteContentType("application/json"), "application/json")
}

func TestRewriteContentTypePassesThroughUnparsable(t *testing.T) {
	assert.Equal(t, rewriteContentType("not a media type;;;"), "not a media type;;;")
}

func TestProjectHeadersXPipingPreservesOrderAndMultiplicity(t *testing.T) {
	src := textproto.MIMEHeader{}
	src.Add("X-Piping", "a")
	src.Add("X-Piping", "b")
	p := projectHeaders(src)
	assert.DeepEqual(t, p.xPiping, []string{"a", "b"})

	w := httptestHeader()
	writeProjectedHeaders(w, p)
	assert.Equal(t, w.Get("Access-Control-Expose-Headers"), "X-Piping")
	assert.DeepEqual(t, w.Values("X-Piping"), []string{"a", "b"})
}

func TestProjectHeadersNoXPipingOmitsExposeHeaders(t *testing.T) {
	p := projectHeaders(textproto.MIMEHeader{})
	w := httptestHeader()
	writeProjectedHeaders(w, p)
	assert.Equal(t, w.Get("Access-Control-Expose-Headers"), "")
}

func TestProjectHeadersContentLengthEchoed(t *testing.T) {
	src := textproto.MIMEHeader{}
	src.Set("Content-Length", "17")
	p := projectHeaders(src)
	w := httptestHeader()
	writeProjectedHeaders(w, p)
	assert.Equal(t, w.Get("Content-Length"), "17")
}

func TestProjectHeadersAbsentContentTypeStaysAbsent(t *testing.T) {
	p := projectHeaders(textproto.MIMEHeader{})
	w := httptestHeader()
	writeProjectedHeaders(w, p)
	assert.Equal(t, w.Get("Content-Type"), "")
}

func TestProjectHeadersAlwaysSetsRobotsTagAndCORS(t *testing.T) {
	p := projectHeaders(textproto.MIMEHeader{})
	w := httptestHeader()
	writeProjectedHeaders(w, p)
	assert.Equal(t, w.Get("X-Robots-Tag"), "none")
	assert.Equal(t, w.Get("Access-Control-Allow-Origin"), "*")
}

func httptestHeader() http.Header {
	return http.Header{}
}
