package infra

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// IconDownloader downloads and caches currency icons on disk.
type IconDownloader struct {
	basePath string
	baseURL  string
	client   *http.Client
}

// NewIconDownloader creates a downloader writing into dir and fetching from baseURL.
func NewIconDownloader(dir, baseURL string) (*IconDownloader, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create assets directory: %w", err)
	}

	// Optimize HTTP Transport to prevent connection leaks
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &IconDownloader{
		basePath: dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}, nil
}

// DownloadIcon downloads the icon for a currency code if it is not cached yet
// and returns the local file path. Images are resized to 24x24.
func (d *IconDownloader) DownloadIcon(ctx context.Context, code string) (string, error) {
	// Security: Sanitize code to prevent path traversal
	safeCode := sanitizeSymbol(code)
	if safeCode == "" {
		return "", fmt.Errorf("invalid currency code: %q", code)
	}

	filePath := d.GetIconPath(safeCode)
	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil // Cache hit
	}

	url := fmt.Sprintf("%s/%s@2x.png", d.baseURL, strings.ToLower(safeCode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	srcImg, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	resizedImg := imaging.Resize(srcImg, 24, 24, imaging.Lanczos)

	if err := imaging.Save(resizedImg, filePath); err != nil {
		return "", fmt.Errorf("failed to save resized image: %w", err)
	}

	return filePath, nil
}

// GetIconPath returns the local path for a currency icon
func (d *IconDownloader) GetIconPath(code string) string {
	return filepath.Join(d.basePath, strings.ToLower(sanitizeSymbol(code))+".png")
}

// DefaultUserAgent is sent with outbound asset requests.
const DefaultUserAgent = "trade-desk/1.0"

func sanitizeSymbol(symbol string) string {
	res := make([]rune, 0, len(symbol))
	for _, r := range symbol {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			res = append(res, r)
		}
	}
	return string(res)
}
