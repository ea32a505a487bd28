//go:generate go run go.uber.org/mock/mockgen -source=content.go -destination=../mocks/mock_content.go -package=mocks
package content

import (
	"context"
	"io"

	"github.com/ondrasimku/tg-file-relay/internal/domain"
)

type FileInfo struct {
	Path        domain.ResolvedPath
	ContentType string
	// Size is -1 when the content host did not announce a length.
	Size int64
}

// Source streams file bytes from the content host.
type Source interface {
	Open(ctx context.Context, path domain.ResolvedPath) (io.ReadCloser, FileInfo, error)
}
