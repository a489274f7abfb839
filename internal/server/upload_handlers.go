package server

import (
	"io"

	"projecthub/internal/models"
	"projecthub/internal/service"

	"github.com/gofiber/fiber/v2"
)

// UploadImage handles POST /api/uploads
// The multipart field "image" carries the file. The returned URLs carry the
// uploads prefix, so a project using them is classified as genuine.
func (s *Server) UploadImage(c *fiber.Ctx) error {
	if s.uploadService == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewValidationError("Uploads are not configured"))
	}

	file, err := c.FormFile("image")
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewFieldError("image", "No file uploaded"))
	}
	if file.Size > s.uploadService.MaxUploadBytes() {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewFieldError("image", "Image exceeds the maximum upload size"))
	}

	src, err := file.Open()
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewFieldError("image", "Unable to read uploaded file"))
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(src)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewFieldError("image", "Unable to read uploaded file"))
	}

	uploaded, err := s.uploadService.Upload(c.UserContext(), service.UploadInput{
		UserID:      currentUser(c),
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		return s.respondServiceError(c, err)
	}

	status := fiber.StatusCreated
	if uploaded.Deduplicated {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(uploaded)
}

// ServeUpload handles GET <uploads prefix>/:hash/:file
// Objects are content addressed, so they are cached as immutable.
func (s *Server) ServeUpload(c *fiber.Ctx) error {
	if s.uploadService == nil {
		return models.RespondWithError(c, fiber.StatusNotFound,
			models.NewNotFoundError("Image", c.Params("hash")))
	}

	rc, size, contentType, err := s.uploadService.Open(c.UserContext(), c.Params("hash"), c.Params("file"))
	if err != nil {
		return s.respondServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	// fasthttp closes the reader once the body is written.
	if size > 0 {
		return c.SendStream(rc, int(size))
	}
	return c.SendStream(rc)
}
