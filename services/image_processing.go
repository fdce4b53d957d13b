package services

import (
	"bytes"
	"context"
	"fmt"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	_ "golang.org/x/image/webp"

	"wardrobeapi/combinations"
)

// DefaultMaxEdge bounds the longest side of reference images sent to the model.
const DefaultMaxEdge = 1536

// NormalizeReferenceImage applies EXIF orientation, downscales so the longest
// edge is at most maxEdge and re-encodes as PNG.
func NormalizeReferenceImage(data []byte, maxEdge int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	bounds := img.Bounds()
	if maxEdge > 0 && (bounds.Dx() > maxEdge || bounds.Dy() > maxEdge) {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image to png: %w", err)
	}
	return buf.Bytes(), nil
}

// ImageLoader resolves storage keys into normalised image bytes. Bytes are
// cached by key, so tasks of one run sharing the body and accessory sets
// download them once.
type ImageLoader struct {
	urls    URLCacheServiceProvider
	cache   *cache.Cache[[]byte]
	fetch   func(ctx context.Context, url string) ([]byte, error)
	MaxEdge int
}

func NewImageLoader(urls URLCacheServiceProvider) (*ImageLoader, error) {
	ristrettoStore, err := newRistrettoStore(1 << 28)
	if err != nil {
		return nil, err
	}
	return &ImageLoader{
		urls:    urls,
		cache:   cache.New[[]byte](ristrettoStore),
		fetch:   ReadFileFromUrl,
		MaxEdge: DefaultMaxEdge,
	}, nil
}

func (l *ImageLoader) Resolve(ctx context.Context, img combinations.Image) (combinations.Image, error) {
	if len(img.Data) > 0 {
		return img, nil
	}
	if img.Key == "" {
		return img, fmt.Errorf("image has neither key nor data")
	}

	if data, err := l.cache.Get(ctx, img.Key); err == nil && len(data) > 0 {
		img.Data = data
		img.MIMEType = "image/png"
		return img, nil
	}

	url, err := l.urls.GetReadURL(ctx, img.Key)
	if err != nil {
		return img, fmt.Errorf("failed to presign %s: %w", img.Key, err)
	}
	raw, err := l.fetch(ctx, url)
	if err != nil {
		return img, fmt.Errorf("failed to download %s: %w", img.Key, err)
	}
	data, err := NormalizeReferenceImage(raw, l.MaxEdge)
	if err != nil {
		return img, fmt.Errorf("invalid image %s: %w", img.Key, err)
	}
	if err := l.cache.Set(ctx, img.Key, data, store.WithCost(int64(len(data)))); err != nil {
		fmt.Printf("[ImageLoader] failed to cache %s: %v\n", img.Key, err)
	}

	img.Data = data
	img.MIMEType = "image/png"
	return img, nil
}
