package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/mkixlab/mkxi/pkg/errs"
	"github.com/mkixlab/mkxi/pkg/logger"
	"github.com/mkixlab/mkxi/pkg/utils"
)

// downloadDir is created on demand next to the working directory.
const downloadDir = "./downloads"

// recordMaxBytes bounds one audio download.
const recordMaxBytes = 64 << 20

var dataURIImage = regexp.MustCompile(`data:image/(\w+);base64`)

func saveDownload(name string, data []byte) (string, error) {
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return "", errs.Wrap(errs.IO, err, "create download dir")
	}
	path := filepath.Join(downloadDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errs.Wrap(errs.IO, err, "write download")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errs.Wrap(errs.IO, err, "resolve download path")
	}
	return abs, nil
}

// Record downloads an audio attachment. Only URLs under the configured
// server origin are accepted.
func (c *Client) Record(ctx context.Context, fileURL string) (map[string]interface{}, error) {
	origin := strings.TrimRight(c.cfg.ServerURL, "/") + "/v1"
	if !strings.HasPrefix(fileURL, origin) {
		return nil, errs.New(errs.Usage, "unknown download domain: %s", fileURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Protocol, err, "build request")
	}
	req.Header.Set("Authorization", c.cfg.Token)

	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.IO, err, "create download dir")
	}
	name := fileURL[strings.LastIndex(fileURL, "/")+1:] + ".mp3"
	path := filepath.Join(downloadDir, name)

	if _, err := utils.DownloadToFile(c.http, req, path, recordMaxBytes); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "resolve download path")
	}

	logger.DebugCF("api", "Record saved", map[string]interface{}{
		"url":  fileURL,
		"path": abs,
	})
	return map[string]interface{}{"file": abs}, nil
}

// Image persists a base64:// data-URI sent by the client and returns the
// local path. The extension comes from the data-URI mime, defaulting to png.
func (c *Client) Image(_ context.Context, file string) (map[string]interface{}, error) {
	if !strings.HasPrefix(file, "base64://") {
		return nil, errs.New(errs.Usage, "invalid base64: must start with base64://")
	}

	_, b64, found := strings.Cut(file, ",")
	if !found {
		return nil, errs.New(errs.Usage, "invalid base64: no payload separator")
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errs.Wrap(errs.Usage, err, "decode base64")
	}

	ext := "png"
	if m := dataURIImage.FindStringSubmatch(file); m != nil {
		ext = m[1]
	}

	name := strings.ReplaceAll(uuid.New().String(), "-", "") + "." + ext
	abs, err := saveDownload(name, data)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"file": abs}, nil
}
