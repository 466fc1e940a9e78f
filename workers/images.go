package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"pricebasket/httputil"
	"pricebasket/models"
	"pricebasket/storage"
)

// ImageWorker mirrors product images into our own bucket so product pages
// never hotlink a retailer CDN. Runs beside the scraper on its own ticker.
type ImageWorker struct {
	store      *storage.PostgresStore
	httpClient *http.Client
	uploader   Uploader
}

// Uploader is the S3-compatible upload surface.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	PublicURL(key string) string
}

func NewImageWorker(store *storage.PostgresStore, uploader Uploader) *ImageWorker {
	return &ImageWorker{
		store:      store,
		httpClient: httputil.NewDirectClient(60 * time.Second),
		uploader:   uploader,
	}
}

// Run starts the mirror loop. Each tick drains one batch of products
// whose image is still pending.
func (w *ImageWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Image worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx, batchSize)
		}
	}
}

func (w *ImageWorker) processBatch(ctx context.Context, batchSize int) {
	products, err := w.store.GetProductsPendingImages(ctx, batchSize)
	if err != nil {
		log.Printf("Image worker: query error: %v", err)
		return
	}
	if len(products) == 0 {
		return
	}

	log.Printf("Image worker: processing %d images", len(products))

	var mirrored, failed int
	for i := range products {
		p := &products[i]

		key, err := w.mirror(ctx, p.ImageURL)
		if err != nil {
			log.Printf("Image worker: failed %s: %v", p.ImageURL, err)
			failed++
			if err := w.store.UpdateProductImage(ctx, p.ID, "", models.ImageStatusFailed); err != nil {
				log.Printf("Image worker: failed to mark %s: %v", p.ID, err)
			}
			continue
		}

		publicURL := w.uploader.PublicURL(key)
		if err := w.store.UpdateProductImage(ctx, p.ID, publicURL, models.ImageStatusMirrored); err != nil {
			log.Printf("Image worker: failed to update %s: %v", p.ID, err)
			failed++
			continue
		}
		mirrored++

		// Be gentle with the retailer CDN.
		time.Sleep(200 * time.Millisecond)
	}

	if mirrored > 0 || failed > 0 {
		log.Printf("Image worker: mirrored %d, failed %d", mirrored, failed)
	}
}

// mirror downloads one image, content-addresses it and uploads it. The
// hash key makes re-mirroring the same image a cheap overwrite.
func (w *ImageWorker) mirror(ctx context.Context, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	hash := sha256.Sum256(data)
	contentHash := hex.EncodeToString(hash[:])

	contentType := resp.Header.Get("Content-Type")
	ext := guessExtension(imageURL, contentType)
	key := storage.ImageKey(contentHash, ext)

	if contentType == "" {
		contentType = "image/jpeg"
	}
	if err := w.uploader.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	return key, nil
}

// guessExtension determines file extension from URL or content-type
func guessExtension(url, contentType string) string {
	ext := strings.ToLower(path.Ext(url))
	if i := strings.IndexByte(ext, '?'); i >= 0 {
		ext = ext[:i]
	}
	if isImageExt(ext) {
		return ext
	}

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

// NoOpUploader skips the actual upload. Used when no bucket is configured
// and in tests.
type NoOpUploader struct{}

func NewNoOpUploader() *NoOpUploader {
	return &NoOpUploader{}
}

func (u *NoOpUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	io.Copy(io.Discard, data)
	return nil
}

func (u *NoOpUploader) PublicURL(key string) string {
	return ""
}
