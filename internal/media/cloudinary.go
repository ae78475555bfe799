package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/sirupsen/logrus"
)

// CloudinaryConfig holds Cloudinary credentials
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// CloudinaryStore uploads to and deletes from a Cloudinary account.
type CloudinaryStore struct {
	cld     *cloudinary.Cloudinary
	timeout time.Duration
	logger  *logrus.Entry
}

// NewCloudinaryStore creates a Cloudinary-backed media store
func NewCloudinaryStore(cfg CloudinaryConfig, logger *logrus.Entry) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("media: configure cloudinary: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	return &CloudinaryStore{
		cld:     cld,
		timeout: timeout,
		logger:  logger.WithField("component", "cloudinary"),
	}, nil
}

// Upload streams file to Cloudinary and returns its secure URL and public ID.
func (s *CloudinaryStore) Upload(ctx context.Context, file io.Reader, opts UploadOptions) (*Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.cld.Upload.Upload(ctx, file, uploadParams(opts))
	if err != nil {
		return nil, fmt.Errorf("media: upload to %s: %w", opts.Folder, err)
	}
	if res.Error.Message != "" {
		return nil, fmt.Errorf("media: upload to %s: %s", opts.Folder, res.Error.Message)
	}
	if res.SecureURL == "" {
		return nil, errors.New("media: upload returned no URL")
	}

	s.logger.WithFields(logrus.Fields{
		"public_id": res.PublicID,
		"folder":    opts.Folder,
		"bytes":     res.Bytes,
		"elapsed":   time.Since(start).String(),
	}).Info("Uploaded asset")

	return &Asset{URL: res.SecureURL, PublicID: res.PublicID}, nil
}

// uploadParams names the asset after the client's filename, with Cloudinary's
// random suffix so re-uploads of the same name do not collide.
func uploadParams(opts UploadOptions) uploader.UploadParams {
	params := uploader.UploadParams{
		Folder:       opts.Folder,
		ResourceType: string(opts.ResourceType),
	}
	if opts.Filename != "" {
		params.UseFilename = api.Bool(true)
		params.UniqueFilename = api.Bool(true)
		params.FilenameOverride = opts.Filename
	}
	return params
}

// Delete destroys an asset. A "not found" result is treated as success.
func (s *CloudinaryStore) Delete(ctx context.Context, publicID string, resourceType ResourceType) error {
	if publicID == "" {
		return errors.New("media: empty public id")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: string(resourceType),
	})
	if err != nil {
		return fmt.Errorf("media: destroy %s: %w", publicID, err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("media: destroy %s: %s", publicID, res.Error.Message)
	}
	if res.Result != "ok" && res.Result != "not found" {
		return fmt.Errorf("media: destroy %s: unexpected result %q", publicID, res.Result)
	}
	return nil
}
