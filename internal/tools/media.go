package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

// maxMediaBytes caps media inputs, both decoded and downloaded.
const maxMediaBytes = 50 << 20

var dataURIPattern = regexp.MustCompile(`^data:(image|audio|video)/([a-zA-Z0-9.+-]+);base64,(.+)$`)

var extensionByContentType = map[string]string{
	"image/png":       "png",
	"image/jpeg":      "jpg",
	"image/jpg":       "jpg",
	"image/gif":       "gif",
	"image/bmp":       "bmp",
	"image/webp":      "webp",
	"audio/mpeg":      "mp3",
	"audio/mp3":       "mp3",
	"audio/wav":       "wav",
	"audio/x-wav":     "wav",
	"audio/flac":      "flac",
	"audio/ogg":       "ogg",
	"video/mp4":       "mp4",
	"video/webm":      "webm",
	"video/quicktime": "mov",
}

var mediaHTTPClient = &http.Client{Timeout: 60 * time.Second}

// resolveMedia turns a tool's media argument into file bytes. Three input
// shapes are accepted: a base64 data URI, an http(s) URL to download, or a
// raw base64 string.
func resolveMedia(ctx context.Context, input, kind string) (string, []byte, error) {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return "", nil, fmt.Errorf("%s input is empty", kind)

	case strings.HasPrefix(input, "data:"):
		m := dataURIPattern.FindStringSubmatch(input)
		if m == nil {
			return "", nil, fmt.Errorf("malformed %s data URI", kind)
		}
		if m[1] != kind {
			return "", nil, fmt.Errorf("expected %s data, got %s", kind, m[1])
		}
		data, err := decodeBase64(m[3])
		if err != nil {
			return "", nil, fmt.Errorf("failed to decode %s data URI: %w", kind, err)
		}
		return kind + "." + normalizeExtension(m[2]), data, nil

	case strings.HasPrefix(input, "http://"), strings.HasPrefix(input, "https://"):
		return fetchMedia(ctx, input, kind)

	default:
		data, err := decodeBase64(input)
		if err != nil {
			return "", nil, fmt.Errorf("%s input is neither a data URI, a URL nor base64 data", kind)
		}
		return kind + "." + defaultExtension(kind), data, nil
	}
}

func fetchMedia(ctx context.Context, mediaURL, kind string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("invalid %s URL: %w", kind, err)
	}
	resp, err := mediaHTTPClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to download %s from %s: %w", kind, mediaURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", nil, fmt.Errorf("failed to download %s from %s: HTTP %d", kind, mediaURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("failed to download %s from %s: %w", kind, mediaURL, err)
	}
	if len(data) > maxMediaBytes {
		return "", nil, fmt.Errorf("%s at %s exceeds the %d MB limit", kind, mediaURL, maxMediaBytes>>20)
	}

	ext := extensionFromResponse(resp, mediaURL)
	if ext == "" {
		ext = defaultExtension(kind)
	}
	return kind + "." + ext, data, nil
}

func extensionFromResponse(resp *http.Response, mediaURL string) string {
	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			if ext, ok := extensionByContentType[mediaType]; ok {
				return ext
			}
		}
	}
	if u, err := url.Parse(mediaURL); err == nil {
		if ext := strings.TrimPrefix(path.Ext(u.Path), "."); ext != "" {
			return normalizeExtension(ext)
		}
	}
	return ""
}

func decodeBase64(s string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(ext)
	if ext == "jpeg" {
		return "jpg"
	}
	return ext
}

func defaultExtension(kind string) string {
	switch kind {
	case "image":
		return "png"
	case "audio":
		return "mp3"
	case "video":
		return "mp4"
	default:
		return "bin"
	}
}
