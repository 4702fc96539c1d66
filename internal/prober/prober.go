// Package prober implements the URL metadata prober contract of spec.md
// §4.5, generalized from the teacher's getFileInfo (in
// downloaders/http/initial.go) into the full
// {file_type, size, accept_range, file_name, content_type} result.
package prober

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/tanq16/prometeo/internal/httpclient"
)

// Metadata is the result of probing a URL, per spec.md §4.5.
type Metadata struct {
	FileType     string // dotted extension, e.g. ".bin"
	Size         int64
	AcceptRange  bool
	FileName     string
	ContentType  string
}

var validFilename = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Validate reports whether rawURL is a syntactically valid absolute http or
// https URL with a host; other schemes are rejected.
func Validate(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.IsAbs() && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// GetData issues a HEAD request against rawURL and extracts the metadata
// spec.md §4.5 names. It fails if the response status is not 2xx.
func GetData(client *httpclient.Client, rawURL string) (Metadata, error) {
	req, err := http.NewRequest(http.MethodHead, rawURL, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("prober: building HEAD request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("prober: HEAD request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Metadata{}, fmt.Errorf("prober: HEAD returned status %d", resp.StatusCode)
	}

	md := Metadata{
		AcceptRange: resp.Header.Get("Accept-Ranges") == "bytes",
	}

	contentType := resp.Header.Get("Content-Type")
	if ct, _, err := mime.ParseMediaType(contentType); err == nil {
		md.ContentType = ct
	} else {
		md.ContentType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if size, err := strconv.ParseInt(cl, 10, 64); err == nil {
			md.Size = size
		}
	}

	md.FileName = filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	if md.FileName == "" {
		md.FileName = lastPathSegment(rawURL)
	}

	md.FileType = extensionFor(rawURL, md.ContentType)

	if !validFilename.MatchString(md.FileName) {
		// Keep the unsafe name's own extension when it is itself safe;
		// otherwise fall back to the derived FileType.
		ext := path.Ext(md.FileName)
		if !validFilename.MatchString(ext) {
			ext = md.FileType
		}
		md.FileName = randomName() + ext
	}

	return md, nil
}

func filenameFromDisposition(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return fn
	}
	if fn, ok := params["filename*"]; ok && fn != "" {
		if strings.HasPrefix(fn, "UTF-8''") {
			if unescaped, err := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''")); err == nil {
				return unescaped
			}
		}
	}
	return ""
}

func lastPathSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

// extensionFor derives the dotted file extension from the URL path if
// present, else from the MIME subtype, else ".unknow" (spec.md §4.5 —
// the misspelling is the spec's, preserved as the documented sentinel).
func extensionFor(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return ext
		}
	}
	if contentType != "" {
		if slash := strings.IndexByte(contentType, '/'); slash >= 0 {
			subtype := contentType[slash+1:]
			if subtype != "" {
				return "." + subtype
			}
		}
	}
	return ".unknow"
}

func randomName() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is
		// unreadable; there is no sane fallback, so surface a fixed
		// placeholder rather than panic mid-download.
		return "00000000000000000000000000000000"
	}
	return hex.EncodeToString(buf) // 32 hex characters
}
