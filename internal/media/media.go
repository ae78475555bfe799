// Package media talks to the hosted media store that keeps posters and videos.
package media

import (
	"net/url"
	"path"
	"strings"
)

// ResourceType is the media store's asset category.
type ResourceType string

const (
	ResourceImage ResourceType = "image"
	ResourceVideo ResourceType = "video"
)

// Folders that ingestion uploads into.
const (
	PosterFolder = "movie-posters"
	VideoFolder  = "movie-videos"
)

// UploadOptions describes where an asset lands.
type UploadOptions struct {
	Folder       string
	ResourceType ResourceType
	Filename     string
}

// Asset is a stored object.
type Asset struct {
	URL      string
	PublicID string
}

// PublicIDFromURL derives the media store identifier of an asset from its
// delivery URL. For Cloudinary URLs this is everything after "/upload/",
// minus the optional "v<digits>/" version segment and the file extension,
// so folder prefixes survive. Any other URL yields its last path segment
// without extension. Returns "" if nothing usable is found.
func PublicIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return ""
	}
	p := u.Path

	if i := strings.Index(p, "/upload/"); i >= 0 {
		p = p[i+len("/upload/"):]
		if first, rest, ok := strings.Cut(p, "/"); ok && isVersion(first) {
			p = rest
		}
	} else {
		p = path.Base(p)
	}

	p = strings.TrimSuffix(p, path.Ext(p))
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return p
}

func isVersion(seg string) bool {
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for _, c := range seg[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
