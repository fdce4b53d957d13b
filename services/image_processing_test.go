package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wardrobeapi/combinations"
)

func imageSize(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeReferenceImageDownscales(t *testing.T) {
	data, err := NormalizeReferenceImage(pngBytes(t, 400, 200), 100)
	require.NoError(t, err)

	width, height, err := imageSize(data)
	require.NoError(t, err)
	assert.Equal(t, 100, width)
	assert.Equal(t, 50, height)
}

func TestNormalizeReferenceImageKeepsSmallImages(t *testing.T) {
	data, err := NormalizeReferenceImage(pngBytes(t, 40, 60), 100)
	require.NoError(t, err)

	width, height, err := imageSize(data)
	require.NoError(t, err)
	assert.Equal(t, 40, width)
	assert.Equal(t, 60, height)
}

func TestNormalizeReferenceImageRejectsNonImages(t *testing.T) {
	_, err := NormalizeReferenceImage([]byte("not an image"), 100)
	assert.Error(t, err)
}

type staticURLCache struct {
	url string
	err error
}

func (c staticURLCache) GetReadURL(ctx context.Context, objectKey string) (string, error) {
	return c.url + "/" + objectKey, c.err
}

func TestImageLoaderResolve(t *testing.T) {
	var hits atomic.Int32
	source := pngBytes(t, 300, 300)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(source)
	}))
	defer server.Close()

	loader, err := NewImageLoader(staticURLCache{url: server.URL})
	require.NoError(t, err)
	loader.MaxEdge = 150

	resolved, err := loader.Resolve(context.Background(), combinations.Image{Key: "wardrobe/top.png"})
	require.NoError(t, err)
	assert.Equal(t, "wardrobe/top.png", resolved.Key)
	assert.Equal(t, "image/png", resolved.MIMEType)

	width, _, err := imageSize(resolved.Data)
	require.NoError(t, err)
	assert.Equal(t, 150, width)
	assert.GreaterOrEqual(t, hits.Load(), int32(1))
}

func TestImageLoaderPassesThroughData(t *testing.T) {
	loader, err := NewImageLoader(staticURLCache{err: errors.New("must not be called")})
	require.NoError(t, err)

	img := combinations.Image{Data: []byte("inline"), MIMEType: "image/jpeg"}
	resolved, err := loader.Resolve(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, img, resolved)
}

func TestImageLoaderDownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	loader, err := NewImageLoader(staticURLCache{url: server.URL})
	require.NoError(t, err)

	_, err = loader.Resolve(context.Background(), combinations.Image{Key: "wardrobe/gone.png"})
	assert.ErrorContains(t, err, "status code: 404")

	_, err = loader.Resolve(context.Background(), combinations.Image{})
	assert.Error(t, err)
}
