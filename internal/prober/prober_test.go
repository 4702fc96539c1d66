package prober

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/prometeo/internal/httpclient"
)

func TestValidate(t *testing.T) {
	assert.True(t, Validate("https://example.com/file.bin"))
	assert.True(t, Validate("http://example.com/file.bin?x=1"))
	assert.False(t, Validate("not a url"))
	assert.False(t, Validate("/relative/path"))
	assert.False(t, Validate("ftp://example.com/file.bin"))
}

func newProbeServer(t *testing.T, headers map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestGetDataParsesHeaders(t *testing.T) {
	srv := newProbeServer(t, map[string]string{
		"Content-Length":      "12345",
		"Accept-Ranges":       "bytes",
		"Content-Type":        "application/zip; charset=binary",
		"Content-Disposition": `attachment; filename="archive.zip"`,
	})
	defer srv.Close()

	client := httpclient.New(httpclient.Config{})
	md, err := GetData(client, srv.URL+"/download")
	require.NoError(t, err)

	assert.Equal(t, int64(12345), md.Size)
	assert.True(t, md.AcceptRange)
	assert.Equal(t, "application/zip", md.ContentType)
	assert.Equal(t, "archive.zip", md.FileName)
	assert.Equal(t, ".zip", md.FileType)
}

func TestGetDataReportsNonRangeCapableOrigin(t *testing.T) {
	srv := newProbeServer(t, map[string]string{
		"Content-Length": "100",
		"Accept-Ranges":  "none",
	})
	defer srv.Close()

	client := httpclient.New(httpclient.Config{})
	md, err := GetData(client, srv.URL+"/f")
	require.NoError(t, err)
	assert.False(t, md.AcceptRange)
}

func TestGetDataSanitizesWeirdFilename(t *testing.T) {
	srv := newProbeServer(t, map[string]string{
		"Content-Length":      "10",
		"Content-Disposition": `attachment; filename="weird name!.bin"`,
	})
	defer srv.Close()

	client := httpclient.New(httpclient.Config{})
	md, err := GetData(client, srv.URL+"/f")
	require.NoError(t, err)

	assert.Regexp(t, `^[0-9a-f]{32}\.bin$`, md.FileName)
}

func TestGetDataFailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := httpclient.New(httpclient.Config{})
	_, err := GetData(client, srv.URL+"/missing")
	require.Error(t, err)
}

func TestExtensionFallbackToMimeSubtype(t *testing.T) {
	ext := extensionFor("https://example.com/download", "video/mp4")
	assert.Equal(t, ".mp4", ext)
}

func TestExtensionFallbackToUnknow(t *testing.T) {
	ext := extensionFor("https://example.com/download", "")
	assert.Equal(t, ".unknow", ext)
}
