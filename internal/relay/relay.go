//go:generate go run go.uber.org/mock/mockgen -source=relay.go -destination=../mocks/mock_relay.go -package=mocks
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/ondrasimku/tg-file-relay/internal/content"
	"github.com/ondrasimku/tg-file-relay/internal/domain"
)

const (
	DefaultMetadataTimeout = 15 * time.Second
	DefaultContentTimeout  = 30 * time.Second
)

var errContentDeadline = errors.New("content host response deadline exceeded")

// Resolver maps a file identifier to its path on the content host.
type Resolver interface {
	Resolve(ctx context.Context, id domain.FileIdentifier) (domain.ResolvedPath, error)
}

type Options struct {
	MetadataTimeout    time.Duration
	ContentTimeout     time.Duration
	DefaultFilename    string
	DefaultContentType string
}

type Relay struct {
	resolver Resolver
	source   content.Source
	validate *validator.Validate
	opts     Options
	logger   *slog.Logger
}

func New(resolver Resolver, source content.Source, opts Options, logger *slog.Logger) *Relay {
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = DefaultMetadataTimeout
	}
	if opts.ContentTimeout <= 0 {
		opts.ContentTimeout = DefaultContentTimeout
	}
	opts.DefaultFilename = lo.CoalesceOrEmpty(opts.DefaultFilename, domain.DefaultFilename)
	opts.DefaultContentType = lo.CoalesceOrEmpty(opts.DefaultContentType, domain.DefaultContentType)

	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("form")
	})

	return &Relay{
		resolver: resolver,
		source:   source,
		validate: validate,
		opts:     opts,
		logger:   logger,
	}
}

// Download resolves req.FileID and opens the file on the content host. The
// returned body stays bound to ctx: cancelling ctx aborts the upstream read.
func (r *Relay) Download(ctx context.Context, req domain.DownloadRequest) (*domain.Download, error) {
	if err := r.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidIdentifier, err)
	}

	path, err := r.resolve(ctx, req.FileID)
	if err != nil {
		return nil, err
	}

	body, info, err := r.open(ctx, path)
	if err != nil {
		return nil, err
	}

	return &domain.Download{
		Filename:      r.filename(req.Name, path),
		ContentType:   lo.CoalesceOrEmpty(info.ContentType, r.opts.DefaultContentType),
		ContentLength: info.Size,
		Path:          path,
		Body:          body,
	}, nil
}

func (r *Relay) resolve(ctx context.Context, id domain.FileIdentifier) (domain.ResolvedPath, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.MetadataTimeout)
	defer cancel()

	path, err := r.resolver.Resolve(callCtx, id)
	if err == nil {
		return path, nil
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		r.logger.Warn("Metadata request timed out", "timeout", r.opts.MetadataTimeout)
		return "", &domain.TimeoutError{Stage: domain.StageMetadata, Err: err}
	}

	var (
		metaErr     *domain.MetadataError
		unreachable *domain.UnreachableError
	)
	switch {
	case errors.As(err, &unreachable):
		r.logger.Warn("Metadata host unreachable", "error", unreachable.Err)
	case errors.As(err, &metaErr):
		r.logger.Warn("Metadata resolution failed", "reason", "upstream_error", "response", metaErr.Description)
	case errors.Is(err, domain.ErrMissingResolvedPath):
		r.logger.Warn("Metadata resolution failed", "reason", "missing_file_path")
	}

	return "", err
}

func (r *Relay) open(ctx context.Context, path domain.ResolvedPath) (io.ReadCloser, content.FileInfo, error) {
	callCtx, cancel := context.WithCancelCause(ctx)

	// The deadline covers the wait for response headers only; the body is
	// streamed for as long as the caller keeps reading.
	timer := time.AfterFunc(r.opts.ContentTimeout, func() {
		cancel(errContentDeadline)
	})

	body, info, err := r.source.Open(callCtx, path)
	if !timer.Stop() {
		if err == nil {
			body.Close()
		}
		cancel(nil)
		r.logger.Warn("Content request timed out", "path", path, "timeout", r.opts.ContentTimeout)
		return nil, content.FileInfo{}, &domain.TimeoutError{Stage: domain.StageContent, Err: errContentDeadline}
	}

	if err != nil {
		cancel(nil)
		if ctx.Err() != nil {
			return nil, content.FileInfo{}, ctx.Err()
		}
		var (
			contentErr  *domain.ContentError
			unreachable *domain.UnreachableError
		)
		switch {
		case errors.As(err, &contentErr):
			r.logger.Warn("Content host rejected request", "path", path, "status", contentErr.StatusCode)
		case errors.As(err, &unreachable):
			r.logger.Warn("Content host unreachable", "path", path, "error", unreachable.Err)
		}
		return nil, content.FileInfo{}, err
	}

	return &cancelOnClose{ReadCloser: body, cancel: cancel}, info, nil
}

func (r *Relay) filename(suggested string, path domain.ResolvedPath) string {
	return lo.CoalesceOrEmpty(
		sanitizeFilename(suggested),
		sanitizeFilename(path.Base()),
		r.opts.DefaultFilename,
	)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelCauseFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel(nil)
	return err
}
