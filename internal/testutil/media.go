package testutil

import (
	"context"
	"fmt"
	"io"

	"github.com/liamwears/reelstream/internal/media"
	"github.com/stretchr/testify/mock"
)

// MockMediaStore is a testify mock of the media store. Upload drains the
// reader so callers see the same consumption as with the real client.
type MockMediaStore struct {
	mock.Mock
}

func (m *MockMediaStore) Upload(ctx context.Context, file io.Reader, opts media.UploadOptions) (*media.Asset, error) {
	if file != nil {
		_, _ = io.Copy(io.Discard, file)
	}
	args := m.Called(ctx, file, opts)
	asset, _ := args.Get(0).(*media.Asset)
	return asset, args.Error(1)
}

func (m *MockMediaStore) Delete(ctx context.Context, publicID string, resourceType media.ResourceType) error {
	args := m.Called(ctx, publicID, resourceType)
	return args.Error(0)
}

// CloudinaryAsset builds an asset shaped like a Cloudinary upload result.
func CloudinaryAsset(folder, name, ext string, rt media.ResourceType) *media.Asset {
	publicID := folder + "/" + name
	return &media.Asset{
		URL:      fmt.Sprintf("https://res.cloudinary.com/demo/%s/upload/v1700000000/%s.%s", rt, publicID, ext),
		PublicID: publicID,
	}
}

// InFolder matches UploadOptions by folder and resource type.
func InFolder(folder string, rt media.ResourceType) interface{} {
	return mock.MatchedBy(func(o media.UploadOptions) bool {
		return o.Folder == folder && o.ResourceType == rt
	})
}
