package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"listing-ingest/storage"
	"listing-ingest/utils"
)

// DefaultMaxImageBytes bounds a single downloaded image.
const DefaultMaxImageBytes = 15 << 20

// ArchiveKey identifies the listing whose images are archived.
type ArchiveKey struct {
	City      string
	Title     string
	SourceURL string
}

// ArchiverConfig tunes the image archiver.
type ArchiverConfig struct {
	MaxImages int
	Timeout   time.Duration
	Workers   int
	UserAgent string
	// MaxBytes rejects larger images. Zero means DefaultMaxImageBytes.
	MaxBytes int64
}

// ImageArchiver copies remote listing images into owned storage.
type ImageArchiver struct {
	store     storage.ImageStore
	client    *http.Client
	maxImages int
	timeout   time.Duration
	workers   int
	userAgent string
	maxBytes  int64
	logger    *utils.Logger
}

func NewImageArchiver(store storage.ImageStore, cfg ArchiverConfig, logger *utils.Logger) *ImageArchiver {
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 15
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxImageBytes
	}
	return &ImageArchiver{
		store:     store,
		client:    &http.Client{Timeout: cfg.Timeout},
		maxImages: cfg.MaxImages,
		timeout:   cfg.Timeout,
		workers:   cfg.Workers,
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		logger:    logger,
	}
}

// Archive downloads up to MaxImages urls and returns one URL per slot, in
// order: the owned copy when download and upload worked, the original otherwise.
func (a *ImageArchiver) Archive(ctx context.Context, key ArchiveKey, urls []string) []string {
	if len(urls) > a.maxImages {
		urls = urls[:a.maxImages]
	}
	out := make([]string, len(urls))
	copy(out, urls)
	if a.store == nil || len(urls) == 0 {
		return out
	}

	pool := utils.NewWorkerPool(a.workers, 0)
	for i, src := range urls {
		i, src := i, src
		pool.Submit(func() {
			owned, err := a.archiveOne(ctx, key, i, src)
			if err != nil {
				a.logger.Warn("[archiver] Keeping original image %s: %v", src, err)
				return
			}
			out[i] = owned
		})
	}
	pool.Wait()

	return out
}

// archiveOne downloads and uploads one image. Each leg gets its own timeout.
func (a *ImageArchiver) archiveOne(ctx context.Context, key ArchiveKey, index int, src string) (string, error) {
	data, contentType, err := a.download(ctx, src)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.store.Upload(ctx, ArchivePath(key, index, src, contentType), data, contentType)
}

func (a *ImageArchiver) download(ctx context.Context, src string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	res, err := a.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, "", fmt.Errorf("status code %d", res.StatusCode)
	}
	if res.ContentLength > a.maxBytes {
		return nil, "", fmt.Errorf("image is %d bytes, limit is %d", res.ContentLength, a.maxBytes)
	}

	// One byte past the limit tells a too-large body apart from one that fits exactly.
	data, err := io.ReadAll(io.LimitReader(res.Body, a.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > a.maxBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", a.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty body")
	}

	contentType := res.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	} else {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("not an image: %s", contentType)
	}
	return data, contentType, nil
}

// ArchivePath is the deterministic storage path for image index of a listing:
// listings/<city>/<title>-<shortid>/<nn>-<hash>.<ext>.
func ArchivePath(key ArchiveKey, index int, src, contentType string) string {
	return fmt.Sprintf("listings/%s/%s-%s/%02d-%s.%s",
		slugify(key.City, "unknown"),
		slugify(key.Title, "listing"),
		shortHash(key.SourceURL, 8),
		index+1,
		shortHash(src, 10),
		imageExt(contentType, src),
	)
}

func shortHash(s string, n int) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}

func imageExt(contentType, src string) string {
	switch contentType {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/avif":
		return "avif"
	}
	u, _, _ := strings.Cut(src, "?")
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(u)), "."); ext != "" && len(ext) <= 4 {
		return ext
	}
	return "jpg"
}

// slugify folds accents and keeps [a-z0-9-], at most 60 characters.
func slugify(s, fallback string) string {
	decomposed := norm.NFKD.String(strings.ToLower(s))
	var b strings.Builder
	dash := false
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	if slug == "" {
		return fallback
	}
	return slug
}
