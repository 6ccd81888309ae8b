package infrastructure

import (
	"bytes"
	"context"
	"fmt"

	"dermabot/internal/entities"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog/log"
)

// CloudinaryRelay publishes downloaded images so the agent can read them by URL.
type CloudinaryRelay struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryRelay(cloudName, apiKey, apiSecret, folder string) (*CloudinaryRelay, error) {
	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary init: %w", err)
	}
	cld.Config.URL.Secure = true
	return &CloudinaryRelay{cld: cld, folder: folder}, nil
}

func (r *CloudinaryRelay) Publish(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", entities.ErrRelay)
	}

	log.Debug().Int("bytes", len(data)).Str("folder", r.folder).Msg("Uploading image to Cloudinary")
	result, err := r.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		Folder: r.folder,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", entities.ErrRelay, err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("%w: %s", entities.ErrRelay, result.Error.Message)
	}
	if result.SecureURL == "" {
		return "", fmt.Errorf("%w: upload returned no secure_url", entities.ErrRelay)
	}
	return result.SecureURL, nil
}
