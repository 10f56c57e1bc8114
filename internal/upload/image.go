package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/weiawesome/wes-io-talk/internal/config"
	"github.com/weiawesome/wes-io-talk/pkg/storage"
)

var (
	ErrEmptyImage       = errors.New("empty image")
	ErrImageTooLarge    = errors.New("image too large")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrMalformedImage   = errors.New("malformed image data")
)

var allowedTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

const jpegQuality = 85

var resizableFormats = map[string]imaging.Format{
	"image/png":  imaging.PNG,
	"image/jpeg": imaging.JPEG,
}

// ImageUploader stores an inline image and returns the URL it is served from.
type ImageUploader interface {
	Upload(ctx context.Context, data string) (string, error)
}

// StorageUploader writes images to a storage.Storage under images/.
type StorageUploader struct {
	store        storage.Storage
	maxBytes     int64
	maxDimension int
	urlExpiry    time.Duration
}

// NewStorageUploader returns an uploader writing images to store.
func NewStorageUploader(store storage.Storage, cfg config.UploadConfig) *StorageUploader {
	return &StorageUploader{
		store:        store,
		maxBytes:     cfg.MaxImageBytes,
		maxDimension: cfg.MaxDimension,
		urlExpiry:    cfg.URLExpiry,
	}
}

// Upload accepts a data URL ("data:image/png;base64,...") or bare base64.
// The content type is sniffed from the bytes, not trusted from the prefix.
func (u *StorageUploader) Upload(ctx context.Context, data string) (string, error) {
	raw, err := decode(data)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", ErrEmptyImage
	}
	if u.maxBytes > 0 && int64(len(raw)) > u.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(raw))
	}

	mtype := mimetype.Detect(raw)
	ext, ok := allowedTypes[mtype.String()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mtype.String())
	}

	raw, err = u.downscale(raw, mtype.String())
	if err != nil {
		return "", err
	}

	key := "images/" + uuid.New().String() + ext
	if err := u.store.Write(ctx, key, bytes.NewReader(raw), int64(len(raw)), mtype.String()); err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}

	url, err := u.store.GetURL(ctx, key, u.urlExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to resolve image url: %w", err)
	}
	return url, nil
}

// downscale re-encodes png and jpeg images whose longer side exceeds
// maxDimension. Other formats are stored as sent.
func (u *StorageUploader) downscale(raw []byte, contentType string) ([]byte, error) {
	format, ok := resizableFormats[contentType]
	if !ok || u.maxDimension <= 0 {
		return raw, nil
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}

	b := img.Bounds()
	if b.Dx() <= u.maxDimension && b.Dy() <= u.maxDimension {
		return raw, nil
	}

	resized := imaging.Fit(img, u.maxDimension, u.maxDimension, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "data:") {
		comma := strings.IndexByte(data, ',')
		if comma < 0 || !strings.HasSuffix(data[:comma], ";base64") {
			return nil, ErrMalformedImage
		}
		data = data[comma+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
		}
	}
	return raw, nil
}
