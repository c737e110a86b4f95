package pipingserver

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"gotest.tools/v3/assert"
)

func TestGetTransferSourceUnwrapsFirstMultipartPart(t *testing.T) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("dummy form name", "myfile.txt")
	assert.NilError(t, err)
	_, err = part.Write([]byte("this is a content"))
	assert.NilError(t, err)
	assert.NilError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/id", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())

	src := getTransferSource(req)
	content, err := io.ReadAll(src.body)
	assert.NilError(t, err)
	assert.Equal(t, string(content), "this is a content")

	disposition := src.header.Get("Content-Disposition")
	assert.Equal(t, disposition, `form-data; name="dummy form name"; filename="myfile.txt"`)
}

func TestGetTransferSourcePassesThroughNonMultipart(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/id", bytes.NewBufferString("hello"))
	req.Header.Set("Content-Type", "text/plain")

	src := getTransferSource(req)
	assert.Equal(t, src.header.Get("Content-Type"), "text/plain")
}
