package imessage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	// maxImageEdge bounds the long side of a downscaled image.
	maxImageEdge = 2048
	// downloadHeadroom lets oversized images download so they can be shrunk.
	downloadHeadroom = 4
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".tif": true, ".tiff": true}

// preparedMedia is a local file ready for the send RPC.
type preparedMedia struct {
	Path    string
	cleanup []string
}

func (m *preparedMedia) Close() {
	for _, p := range m.cleanup {
		os.Remove(p)
	}
}

// prepareMedia resolves mediaURL to a local file no larger than maxBytes.
// Remote URLs are downloaded; oversized images are downscaled and
// re-encoded as JPEG; other oversized files are rejected.
func prepareMedia(ctx context.Context, client *http.Client, mediaURL string, maxBytes int64) (*preparedMedia, error) {
	m := &preparedMedia{}
	path, err := localPath(ctx, client, mediaURL, maxBytes, m)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.Path = path

	if maxBytes <= 0 {
		return m, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("stat media: %w", err)
	}
	if info.Size() <= maxBytes {
		return m, nil
	}
	if !imageExts[strings.ToLower(filepath.Ext(path))] {
		m.Close()
		return nil, fmt.Errorf("media too large: %d bytes (max %d)", info.Size(), maxBytes)
	}

	shrunk, err := downscaleImage(path, maxBytes)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.cleanup = append(m.cleanup, shrunk)
	m.Path = shrunk
	return m, nil
}

func localPath(ctx context.Context, client *http.Client, raw string, maxBytes int64, m *preparedMedia) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path (a one-letter scheme is a Windows drive).
		return raw, nil
	}
	switch u.Scheme {
	case "file":
		return u.Path, nil
	case "http", "https":
		p, err := download(ctx, client, raw, maxBytes)
		if err != nil {
			return "", err
		}
		m.cleanup = append(m.cleanup, p)
		return p, nil
	default:
		return "", fmt.Errorf("unsupported media url scheme %q", u.Scheme)
	}
}

func download(ctx context.Context, client *http.Client, mediaURL string, maxBytes int64) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", fmt.Errorf("build media request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	ext := filepath.Ext(resp.Request.URL.Path)
	if ext == "" {
		ext = ".bin"
	}
	tmpFile, err := os.CreateTemp("", "imsgclaw_media_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer tmpFile.Close()

	limit := int64(-1)
	if maxBytes > 0 {
		limit = maxBytes * downloadHeadroom
	}
	var src io.Reader = resp.Body
	if limit > 0 {
		src = io.LimitReader(resp.Body, limit+1)
	}
	written, err := io.Copy(tmpFile, src)
	if err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("save media: %w", err)
	}
	if limit > 0 && written > limit {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("media exceeds max size during download: %d bytes", written)
	}
	return tmpFile.Name(), nil
}

// downscaleImage re-encodes path as JPEG, shrinking the long edge and the
// quality until the result fits maxBytes.
func downscaleImage(path string, maxBytes int64) (string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	edge := maxImageEdge
	quality := 85
	for attempt := 0; attempt < 5; attempt++ {
		resized := imaging.Fit(img, edge, edge, imaging.Lanczos)

		out, err := os.CreateTemp("", "imsgclaw_img_*.jpg")
		if err != nil {
			return "", fmt.Errorf("create temp file: %w", err)
		}
		name := out.Name()
		err = imaging.Encode(out, resized, imaging.JPEG, imaging.JPEGQuality(quality))
		out.Close()
		if err != nil {
			os.Remove(name)
			return "", fmt.Errorf("encode image: %w", err)
		}
		if info, err := os.Stat(name); err == nil && info.Size() <= maxBytes {
			return name, nil
		}
		os.Remove(name)
		edge /= 2
		if quality > 50 {
			quality -= 15
		}
	}
	return "", fmt.Errorf("image still exceeds %d bytes after downscaling", maxBytes)
}
