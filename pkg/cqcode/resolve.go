package cqcode

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/h2non/filetype"

	"github.com/mkixlab/mkxi/pkg/errs"
)

// fetchClient performs the synchronous GETs for http(s) resources referenced
// by incoming segments.
var fetchClient = &http.Client{Timeout: 30 * time.Second}

// ResolveResource loads the resource behind a segment "file" reference.
// Accepted schemes: base64://, file:, schemeless local paths, and http(s).
// With b64Output the result is wrapped as a data:<mime>;base64 URI;
// otherwise the raw bytes are returned as an uninterpreted string.
func ResolveResource(file string, b64Output bool) (string, error) {
	if rest, ok := strings.CutPrefix(file, "base64://"); ok {
		decoded, err := base64.StdEncoding.Strict().DecodeString(rest)
		if err != nil {
			return "", errs.Wrap(errs.Usage, err, "decode base64 resource")
		}
		if b64Output {
			return encodeDataURI(decoded, "application/octet-stream"), nil
		}
		return string(decoded), nil
	}

	parsed, err := url.Parse(file)
	if err != nil {
		return "", errs.Wrap(errs.Usage, err, "parse resource reference")
	}

	switch parsed.Scheme {
	case "", "file":
		path := parsed.Path
		if path == "" {
			path = file
		}
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", errs.New(errs.NotFound, "file not found: %s", path)
			}
			return "", errs.Wrap(errs.IO, err, "read resource")
		}
		if b64Output {
			return encodeDataURI(content, sniffMime(content)), nil
		}
		return string(content), nil

	case "http", "https":
		res, err := fetchClient.Get(file)
		if err != nil {
			return "", errs.Wrap(errs.IO, err, "fetch resource")
		}
		defer res.Body.Close()
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return "", errs.New(errs.Protocol, "HTTP %d fetching %s", res.StatusCode, file)
		}
		content, err := io.ReadAll(res.Body)
		if err != nil {
			return "", errs.Wrap(errs.IO, err, "read resource body")
		}
		if b64Output {
			mime := res.Header.Get("Content-Type")
			if mime == "" {
				mime = sniffMime(content)
			}
			return encodeDataURI(content, mime), nil
		}
		return string(content), nil
	}

	return "", errs.New(errs.Usage, "invalid URI / URL / base64: %s", file)
}

func encodeDataURI(content []byte, mime string) string {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(content)
}

func sniffMime(content []byte) string {
	kind, err := filetype.Match(content)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}
