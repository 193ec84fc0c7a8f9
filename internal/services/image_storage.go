package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ImageStorageService re-hosts card images locally so listings do not hot
// link an upstream CDN that may throttle or disappear.
type ImageStorageService struct {
	storageDir string
	client     *http.Client
}

// NewImageStorageService creates a new image storage service
func NewImageStorageService() *ImageStorageService {
	storageDir := os.Getenv("CARD_IMAGES_DIR")
	if storageDir == "" {
		storageDir = "./data/card_images"
	}

	// Ensure the storage directory exists
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		// Log error but don't fail - will fail on actual writes
		fmt.Printf("Warning: could not create card images directory: %v\n", err)
	}

	return &ImageStorageService{
		storageDir: storageDir,
		client: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// MirrorCardImage downloads srcURL and stores it named after the card's
// ID, returning the public path the router serves it under.
func (s *ImageStorageService) MirrorCardImage(ctx context.Context, cardID, srcURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create image request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	filename := cardID + imageExtension(srcURL)
	filePath := filepath.Join(s.storageDir, filename)

	out, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}

	return "/images/cards/" + filename, nil
}

// GetStorageDir returns the storage directory path
func (s *ImageStorageService) GetStorageDir() string {
	return s.storageDir
}

func imageExtension(srcURL string) string {
	ext := strings.ToLower(path.Ext(strings.SplitN(srcURL, "?", 2)[0]))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif":
		return ext
	default:
		return ".jpg"
	}
}
