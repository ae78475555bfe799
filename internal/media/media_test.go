package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublicIDFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "cloudinary image with version and folder",
			url:  "https://res.cloudinary.com/demo/image/upload/v1712345678/movie-posters/abc123.jpg",
			want: "movie-posters/abc123",
		},
		{
			name: "cloudinary video without version",
			url:  "https://res.cloudinary.com/demo/video/upload/movie-videos/xyz.mp4",
			want: "movie-videos/xyz",
		},
		{
			name: "cloudinary without folder",
			url:  "https://res.cloudinary.com/demo/image/upload/v1/sample.png",
			want: "sample",
		},
		{
			name: "folder named like a word starting with v",
			url:  "https://res.cloudinary.com/demo/image/upload/videos/clip.mp4",
			want: "videos/clip",
		},
		{
			name: "plain url uses last segment",
			url:  "https://cdn.example.com/a/b/poster.webp",
			want: "poster",
		},
		{
			name: "no extension",
			url:  "https://cdn.example.com/a/b/poster",
			want: "poster",
		},
		{
			name: "empty",
			url:  "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicIDFromURL(tt.url))
		})
	}
}

func TestUploadParams(t *testing.T) {
	params := uploadParams(UploadOptions{Folder: PosterFolder, ResourceType: ResourceImage, Filename: "nova.jpg"})
	assert.Equal(t, PosterFolder, params.Folder)
	assert.Equal(t, "image", params.ResourceType)
	assert.Equal(t, "nova.jpg", params.FilenameOverride)
	if assert.NotNil(t, params.UseFilename) {
		assert.True(t, *params.UseFilename)
	}
	if assert.NotNil(t, params.UniqueFilename) {
		assert.True(t, *params.UniqueFilename)
	}

	anonymous := uploadParams(UploadOptions{Folder: VideoFolder, ResourceType: ResourceVideo})
	assert.Nil(t, anonymous.UseFilename)
	assert.Empty(t, anonymous.FilenameOverride)
}
