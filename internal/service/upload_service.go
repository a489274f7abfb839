package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"projecthub/internal/classify"
	"projecthub/internal/models"
	"projecthub/internal/storage"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	DefaultUploadMaxSizeMB = 10
	MasterMaxSize          = 2048
	JPEGQuality            = 82
	WebPQuality            = 70
)

// thumbnailLadder lists the WebP thumbnail widths produced below the master size.
var thumbnailLadder = []int{256, 640}

type UploadInput struct {
	UserID      models.UserID
	Filename    string
	ContentType string
	Content     []byte
}

// UploadResult points at the stored master image and its variants. Every
// URL starts with the uploads prefix, which marks a project image as a
// genuine upload.
type UploadResult struct {
	Hash         string            `json:"hash"`
	URL          string            `json:"url"`
	WebPURL      string            `json:"webpUrl"`
	Variants     map[string]string `json:"variants"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	Bytes        int               `json:"bytes"`
	Deduplicated bool              `json:"deduplicated"`
}

type storedObject struct {
	key  string
	body []byte
}

type UploadService struct {
	store              storage.Store
	prefix             string
	maxUploadSizeBytes int64
}

func NewUploadService(store storage.Store, uploadsPrefix string, maxUploadSizeMB int) *UploadService {
	if maxUploadSizeMB <= 0 {
		maxUploadSizeMB = DefaultUploadMaxSizeMB
	}
	if uploadsPrefix == "" {
		uploadsPrefix = classify.DefaultUploadsPrefix
	}
	if !strings.HasSuffix(uploadsPrefix, "/") {
		uploadsPrefix += "/"
	}
	return &UploadService{
		store:              store,
		prefix:             uploadsPrefix,
		maxUploadSizeBytes: int64(maxUploadSizeMB) * 1024 * 1024,
	}
}

// MaxUploadBytes is the largest accepted upload.
func (s *UploadService) MaxUploadBytes() int64 { return s.maxUploadSizeBytes }

// Upload validates, normalizes and stores an image. Identical content from
// the same user maps to the same key and is stored once.
func (s *UploadService) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	if !in.UserID.IsNative() {
		return nil, models.NewValidationError("Invalid user")
	}
	if len(in.Content) == 0 {
		return nil, models.NewFieldError("image", "No file uploaded")
	}
	if int64(len(in.Content)) > s.maxUploadSizeBytes {
		return nil, models.NewFieldError("image", fmt.Sprintf("File too large (max %dMB)", s.maxUploadSizeBytes/(1024*1024)))
	}

	detectedType := http.DetectContentType(in.Content)
	if !isAllowedImageMIME(detectedType) {
		return nil, models.NewFieldError("image", "Invalid image type")
	}

	decoded, format, err := image.Decode(bytes.NewReader(in.Content))
	if err != nil {
		return nil, models.NewFieldError("image", "Invalid image file")
	}
	if !isSupportedDecodedFormat(format) {
		return nil, models.NewFieldError("image", "Unsupported image format")
	}
	sourceMimeType := decodedFormatToMime(format)
	if provided := normalizeContentType(in.ContentType); strings.HasPrefix(provided, "image/") && !isMatchingContentType(provided, sourceMimeType) {
		return nil, models.NewFieldError("image", "Image content type mismatch")
	}

	master := resizeToFit(flatten(decoded), MasterMaxSize, MasterMaxSize)
	encodedJPG, err := encodeJPEG(master, JPEGQuality)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	hash := buildDeterministicImageHash(in.UserID, encodedJPG)
	mb := master.Bounds()
	result := &UploadResult{
		Hash:     hash,
		URL:      s.URL(hash, "master.jpg"),
		WebPURL:  s.URL(hash, "master.webp"),
		Variants: map[string]string{},
		Width:    mb.Dx(),
		Height:   mb.Dy(),
		Bytes:    len(encodedJPG),
	}

	masterKey := path.Join(hash, "master.jpg")
	exists, err := s.store.Exists(ctx, masterKey)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	// The master JPEG goes last; its presence marks a complete upload.
	var objects []storedObject
	if !exists {
		encodedWebP, err := encodeWebP(master, WebPQuality)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		objects = append(objects, storedObject{path.Join(hash, "master.webp"), encodedWebP})
	}

	for _, size := range thumbnailLadder {
		if mb.Dx() <= size && mb.Dy() <= size {
			continue
		}
		name := fmt.Sprintf("%d.webp", size)
		result.Variants[fmt.Sprintf("%d_webp", size)] = s.URL(hash, name)
		if exists {
			continue
		}
		thumb, err := encodeWebP(resizeToFit(master, size, size), WebPQuality)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		objects = append(objects, storedObject{path.Join(hash, name), thumb})
	}

	if exists {
		result.Deduplicated = true
		return result, nil
	}
	objects = append(objects, storedObject{masterKey, encodedJPG})

	written := make([]string, 0, len(objects))
	for _, obj := range objects {
		if err := s.store.Put(ctx, obj.key, obj.body, contentTypeForKey(obj.key)); err != nil {
			s.cleanup(ctx, written)
			return nil, models.NewInternalError(err)
		}
		written = append(written, obj.key)
	}
	logger().InfoContext(ctx, "image uploaded",
		slog.String("hash", hash),
		slog.String("backend", s.store.Backend()),
		slog.Int("bytes", len(encodedJPG)),
	)
	return result, nil
}

// cleanup removes the objects of a failed upload.
func (s *UploadService) cleanup(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			logger().WarnContext(ctx, "upload cleanup failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}

// URL builds the public URL of an object.
func (s *UploadService) URL(hash, file string) string {
	return s.prefix + hash + "/" + file
}

// Open streams a stored object. The key is validated before reaching the backend.
func (s *UploadService) Open(ctx context.Context, hash, file string) (io.ReadCloser, int64, string, error) {
	key := hash + "/" + file
	if !storage.ValidKey(key) {
		return nil, 0, "", models.NewNotFoundError("Image", key)
	}
	rc, size, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, 0, "", models.NewNotFoundError("Image", key)
		}
		return nil, 0, "", models.NewInternalError(err)
	}
	return rc, size, contentTypeForKey(key), nil
}

func contentTypeForKey(key string) string {
	if strings.HasSuffix(key, ".webp") {
		return "image/webp"
	}
	return "image/jpeg"
}

// flatten draws src over white so transparent pixels survive JPEG encoding.
func flatten(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w <= maxWidth && h <= maxHeight {
		return src
	}

	scaleW := float64(maxWidth) / float64(w)
	scaleH := float64(maxHeight) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isAllowedImageMIME(contentType string) bool {
	switch normalizeContentType(contentType) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func isMatchingContentType(provided, detected string) bool {
	p := normalizeContentType(provided)
	d := normalizeContentType(detected)
	if p == d {
		return true
	}
	return (p == "image/jpg" && d == "image/jpeg") || (p == "image/jpeg" && d == "image/jpg")
}

func isSupportedDecodedFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg", "png", "gif", "webp":
		return true
	default:
		return false
	}
}

func decodedFormatToMime(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return ""
	}
}

func buildDeterministicImageHash(userID models.UserID, content []byte) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s:", userID)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
