package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/ondrasimku/tg-file-relay/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type Downloader interface {
	Download(ctx context.Context, req domain.DownloadRequest) (*domain.Download, error)
}

type DownloadHandler struct {
	relay       Downloader
	allowOrigin string
	logger      *slog.Logger
}

func NewDownloadHandler(relay Downloader, allowOrigin string, logger *slog.Logger) *DownloadHandler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}

	return &DownloadHandler{
		relay:       relay,
		allowOrigin: allowOrigin,
		logger:      logger,
	}
}

func (h *DownloadHandler) Download(c *gin.Context) {
	var req domain.DownloadRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query",
			Details: err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	dl, err := h.relay.Download(ctx, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer dl.Body.Close()

	c.Header("Content-Disposition", contentDisposition(dl.Filename))
	c.Header("Access-Control-Allow-Origin", h.allowOrigin)
	c.Header("X-Accel-Buffering", "no")
	c.DataFromReader(http.StatusOK, dl.ContentLength, dl.ContentType, dl.Body, nil)

	if err := c.Errors.Last(); err != nil {
		h.logger.Warn("Download stream interrupted", "path", dl.Path, "error", err.Err)
		return
	}

	h.logger.Info("File relayed", "path", dl.Path, "filename", dl.Filename, "size", dl.ContentLength)
}

func (h *DownloadHandler) writeError(c *gin.Context, err error) {
	var (
		timeoutErr *domain.TimeoutError
		metaErr    *domain.MetadataError
		contentErr *domain.ContentError
		unreachErr *domain.UnreachableError
	)

	switch {
	case c.Request.Context().Err() != nil:
		h.logger.Info("Client closed request", "path", c.Request.URL.Path, "error", err)
		c.Abort()
	case errors.Is(err, domain.ErrInvalidIdentifier):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Missing or invalid file_id",
			Details: validationDetails(err),
		})
	case errors.As(err, &timeoutErr):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{
			Error:   "Telegram request timed out",
			Details: string(timeoutErr.Stage),
		})
	case errors.As(err, &unreachErr):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "Telegram unreachable",
			Details: string(unreachErr.Stage),
		})
	case errors.As(err, &metaErr):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: "Telegram getFile failed",
		})
	case errors.Is(err, domain.ErrMissingResolvedPath):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: "Telegram getFile returned no file path",
		})
	case errors.As(err, &contentErr):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "Failed to fetch file from Telegram CDN",
			Details: fmt.Sprintf("upstream status %d", contentErr.StatusCode),
		})
	default:
		h.logger.Error("Download failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Server error",
			Details: err.Error(),
		})
	}
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ""
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}

// contentDisposition keeps a plain ASCII filename for old clients and adds the
// RFC 5987 filename* form when the name has non-ASCII characters.
func contentDisposition(name string) string {
	ascii := strings.Map(func(r rune) rune {
		if r >= utf8.RuneSelf {
			return '_'
		}
		return r
	}, name)
	if ascii == name {
		return fmt.Sprintf(`attachment; filename="%s"`, name)
	}

	encoded := strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, ascii, encoded)
}
