package utils

import (
	"io"
	"net/http"
	"os"

	"github.com/mkixlab/mkxi/pkg/errs"
	"github.com/mkixlab/mkxi/pkg/logger"
)

// DownloadToFile streams an HTTP response body to dest in small chunks, so
// peak memory stays constant regardless of attachment size. maxBytes caps
// the download; 0 means no limit. On any error the partial file is removed.
func DownloadToFile(client *http.Client, req *http.Request, dest string, maxBytes int64) (int64, error) {
	res, err := client.Do(req)
	if err != nil {
		return 0, errs.Wrap(errs.IO, err, "fetch "+req.URL.String())
	}
	defer res.Body.Close()

	if res.StatusCode >= 500 {
		return 0, errs.New(errs.Server, "HTTP %d from %s", res.StatusCode, req.URL)
	}
	if res.StatusCode >= 300 {
		head := make([]byte, 512)
		n, _ := io.ReadFull(res.Body, head)
		return 0, errs.New(errs.Protocol, "HTTP %d detail=%s", res.StatusCode, head[:n])
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, errs.Wrap(errs.IO, err, "create "+dest)
	}

	cleanup := func() {
		out.Close()
		os.Remove(dest)
	}

	var src io.Reader = res.Body
	if maxBytes > 0 {
		src = io.LimitReader(res.Body, maxBytes+1) // +1 to detect overflow
	}

	written, err := io.Copy(out, src)
	if err != nil {
		cleanup()
		return 0, errs.Wrap(errs.IO, err, "write "+dest)
	}
	if maxBytes > 0 && written > maxBytes {
		cleanup()
		return 0, errs.New(errs.IO, "download too large: %d bytes (max %d)", written, maxBytes)
	}

	if err := out.Close(); err != nil {
		os.Remove(dest)
		return 0, errs.Wrap(errs.IO, err, "close "+dest)
	}

	logger.DebugCF("download", "Download complete", map[string]interface{}{
		"url":   req.URL.String(),
		"path":  dest,
		"bytes": written,
	})
	return written, nil
}
