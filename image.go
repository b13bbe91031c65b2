package postscraper

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"

	"github.com/docutag/postscraper/models"
)

// ProbeImage downloads the post image and records its size, format and EXIF hints
func (e *Extractor) ProbeImage(ctx context.Context, imageURL string) (*models.PostImageMeta, error) {
	ctx, span := tracer.Start(ctx, "extractor.ProbeImage")
	defer span.End()

	data, contentType, err := e.downloadImage(ctx, imageURL)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	width, height, err := getImageDimensions(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	meta := &models.PostImageMeta{
		Width:       width,
		Height:      height,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}
	if info := extractEXIF(data); info != nil {
		meta.TakenAt = info.TakenAt
		meta.Artist = info.Artist
	}
	return meta, nil
}

// downloadImage downloads an image from a URL with size and timeout limits
func (e *Extractor) downloadImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.ImageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}
	if resp.ContentLength > e.config.MaxImageSizeBytes {
		return nil, "", fmt.Errorf("image too large: %d bytes (max: %d)", resp.ContentLength, e.config.MaxImageSizeBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxImageSizeBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > e.config.MaxImageSizeBytes {
		return nil, "", fmt.Errorf("image too large: exceeds %d bytes", e.config.MaxImageSizeBytes)
	}

	contentType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// getImageDimensions decodes only the image header
func getImageDimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

type exifInfo struct {
	TakenAt *time.Time
	Artist  string
}

// extractEXIF returns capture time and artist, or nil when the image carries no EXIF
func extractEXIF(data []byte) *exifInfo {
	if len(data) == 0 {
		return nil
	}
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	info := &exifInfo{}
	if t, err := x.DateTime(); err == nil && !t.IsZero() {
		info.TakenAt = &t
	}
	if tag, err := x.Get(exif.Artist); err == nil {
		if s, err := tag.StringVal(); err == nil {
			info.Artist = strings.TrimSpace(s)
		}
	}
	if info.TakenAt == nil && info.Artist == "" {
		return nil
	}
	return info
}
