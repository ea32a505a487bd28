package cdn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ondrasimku/tg-file-relay/internal/content"
	"github.com/ondrasimku/tg-file-relay/internal/domain"
)

const maxErrorBodyDrain = 4096

// CDNSource reads files from the Telegram file host, e.g.
// https://api.telegram.org/file/bot<token>/<file_path>.
type CDNSource struct {
	baseURL string
	client  *http.Client
}

func NewCDNSource(baseURL string, client *http.Client) (*CDNSource, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid content base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid content base URL scheme %q", u.Scheme)
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &CDNSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}, nil
}

func (s *CDNSource) Open(ctx context.Context, path domain.ResolvedPath) (io.ReadCloser, content.FileInfo, error) {
	fileURL := s.baseURL + "/" + strings.TrimLeft(string(path), "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, content.FileInfo{}, fmt.Errorf("failed to create request for %s: %w", path, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// url.Error carries the full URL, which embeds the bot token.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		if ctx.Err() != nil {
			return nil, content.FileInfo{}, fmt.Errorf("failed to fetch %s: %w", path, err)
		}
		return nil, content.FileInfo{}, &domain.UnreachableError{Stage: domain.StageContent, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.CopyN(io.Discard, resp.Body, maxErrorBodyDrain)
		resp.Body.Close()
		return nil, content.FileInfo{}, &domain.ContentError{StatusCode: resp.StatusCode}
	}

	info := content.FileInfo{
		Path:        path,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}

	return resp.Body, info, nil
}
