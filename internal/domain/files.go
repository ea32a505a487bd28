package domain

import (
	"io"
	"strings"
)

const (
	MinFileIdentifierLength = 10
	DefaultFilename         = "download.apk"
	DefaultContentType      = "application/vnd.android.package-archive"
)

// FileIdentifier is the opaque Telegram file_id supplied by the caller.
type FileIdentifier string

// ResolvedPath is the file_path returned by getFile, relative to the content host.
type ResolvedPath string

// Base returns the last segment of the path, or "" when the path ends with a slash.
func (p ResolvedPath) Base() string {
	s := string(p)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}

type DownloadRequest struct {
	FileID FileIdentifier `form:"file_id" validate:"required,min=10"`
	Name   string         `form:"name"`
}

// Download is a resolved file whose Body must be closed by the caller.
type Download struct {
	Filename      string
	ContentType   string
	ContentLength int64
	Path          ResolvedPath
	Body          io.ReadCloser
}
