package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"middleman/internal/apperr"
	"middleman/internal/config"
)

// CloudinaryService stores the files sellers put up for sale.
type CloudinaryService struct {
	cld    *cloudinary.Cloudinary
	folder string
	logger *slog.Logger
	now    func() time.Time
}

// NewCloudinaryService returns an error wrapping apperr.ErrUnavailable when
// credentials are missing so callers can run without uploads.
func NewCloudinaryService(cfg *config.Config, logger *slog.Logger) (*CloudinaryService, error) {
	if !cfg.CloudinaryEnabled() {
		return nil, fmt.Errorf("%w: Cloudinary credentials not set in environment variables", apperr.ErrUnavailable)
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}

	return &CloudinaryService{
		cld:    cld,
		folder: cfg.CloudinaryFolder,
		logger: logger,
		now:    time.Now,
	}, nil
}

type UploadResult struct {
	URL      string `json:"fileURL"`
	PublicID string `json:"publicId"`
	FileName string `json:"fileName"`
	Bytes    int    `json:"bytes"`
}

// UploadFile uploads a multipart file to the configured folder.
func (s *CloudinaryService) UploadFile(ctx context.Context, file *multipart.FileHeader) (*UploadResult, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	return s.Upload(ctx, src, file.Filename)
}

// Upload stores r under a timestamped public id derived from fileName.
func (s *CloudinaryService) Upload(ctx context.Context, r io.Reader, fileName string) (*UploadResult, error) {
	base := filepath.Base(fileName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	publicID := fmt.Sprintf("%d_%s", s.now().Unix(), stem)

	result, err := s.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		Folder:       s.folder,
		PublicID:     publicID,
		ResourceType: "auto",
	})
	if err != nil {
		s.logger.Error("cloudinary upload failed", "fileName", base, "error", err)
		return nil, fmt.Errorf("%w: failed to upload to Cloudinary", apperr.ErrUpstream)
	}
	if result.Error.Message != "" {
		s.logger.Error("cloudinary rejected upload", "fileName", base, "error", result.Error.Message)
		return nil, fmt.Errorf("%w: failed to upload to Cloudinary", apperr.ErrUpstream)
	}

	s.logger.Info("file uploaded", "publicId", result.PublicID, "bytes", result.Bytes)
	return &UploadResult{
		URL:      result.SecureURL,
		PublicID: result.PublicID,
		FileName: base,
		Bytes:    result.Bytes,
	}, nil
}
