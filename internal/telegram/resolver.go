package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/ondrasimku/tg-file-relay/internal/domain"
)

const DefaultServerURL = "https://api.telegram.org"

// Resolver turns a file_id into a file_path through the Bot API getFile method.
type Resolver struct {
	api   *bot.Bot
	token string
}

func NewResolver(token, serverURL string) (*Resolver, error) {
	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if serverURL == "" {
		serverURL = DefaultServerURL
	}

	api, err := bot.New(token, bot.WithSkipGetMe(), bot.WithServerURL(strings.TrimRight(serverURL, "/")))
	if err != nil {
		return nil, fmt.Errorf("failed to create bot api client: %w", err)
	}

	return &Resolver{api: api, token: token}, nil
}

func (r *Resolver) Resolve(ctx context.Context, id domain.FileIdentifier) (domain.ResolvedPath, error) {
	file, err := r.api.GetFile(ctx, &bot.GetFileParams{
		FileID: string(id),
	})
	if err != nil {
		// The transport error embeds the request URL and with it the token.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return "", &domain.UnreachableError{Stage: domain.StageMetadata, Err: urlErr.Err}
		}
		return "", &domain.MetadataError{
			Description: r.redact(err.Error()),
			Err:         err,
		}
	}

	if file == nil || file.FilePath == "" {
		return "", domain.ErrMissingResolvedPath
	}

	return domain.ResolvedPath(file.FilePath), nil
}

// FileBaseURL is the content host prefix that resolved paths are appended to.
func (r *Resolver) FileBaseURL() string {
	return strings.TrimSuffix(r.api.FileDownloadLink(&models.File{}), "/")
}

func (r *Resolver) redact(s string) string {
	return strings.ReplaceAll(s, r.token, "<redacted>")
}
