// Package copier mirrors escaped triage trees onto a destination volume,
// restoring the literal names the collector had to escape.
package copier

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cenkalti/backoff/v4"
	"github.com/nace/triagedisk/internal/escape"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// DefaultRetries is how many extra attempts a failed file copy gets
	DefaultRetries = 2
	// DefaultRetryInterval is the first wait between file copy attempts
	DefaultRetryInterval = 250 * time.Millisecond
)

// Options configures a Copier
type Options struct {
	Fs            afero.Fs
	Decoder       *escape.Decoder // defaults to escape.Default()
	Rules         []Rule          // defaults to DefaultRules()
	Exclude       []string        // doublestar patterns on the decoded relative path
	Retries       uint64
	RetryInterval time.Duration
}

// Stats counts what a Copier did across all of its calls
type Stats struct {
	Files       int   `json:"files"`
	Directories int   `json:"directories"`
	Skipped     int   `json:"skipped"`
	Failed      int   `json:"failed"`
	Bytes       int64 `json:"bytes"`
}

// Copier copies triage trees item by item. A failing item is logged and
// counted but never stops its siblings.
type Copier struct {
	fs            afero.Fs
	decoder       *escape.Decoder
	rules         []Rule
	exclude       []string
	retries       uint64
	retryInterval time.Duration
	stats         Stats
}

// New creates a copier
func New(opts Options) (*Copier, error) {
	if opts.Fs == nil {
		return nil, errors.New("filesystem is required")
	}

	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.Errorf("invalid exclude pattern: %s", pattern)
		}
	}

	c := &Copier{
		fs:            opts.Fs,
		decoder:       opts.Decoder,
		rules:         opts.Rules,
		exclude:       opts.Exclude,
		retries:       opts.Retries,
		retryInterval: opts.RetryInterval,
	}
	if c.decoder == nil {
		c.decoder = escape.Default()
	}
	if c.rules == nil {
		c.rules = DefaultRules()
	}
	if c.retryInterval <= 0 {
		c.retryInterval = DefaultRetryInterval
	}

	return c, nil
}

// Stats returns the counters accumulated so far
func (c *Copier) Stats() Stats {
	return c.stats
}

// Copy mirrors src into dst, decoding every name on the way. Existing
// destination files are overwritten, so two trees copied into the same dst
// merge with the last write winning. A missing src is only a warning; the
// returned error is non-nil only when dst cannot be created or ctx is done.
func (c *Copier) Copy(ctx context.Context, src, dst string) error {
	return c.copyTree(ctx, src, dst, "")
}

func (c *Copier) copyTree(ctx context.Context, src, dst, rel string) error {
	logger := zerolog.Ctx(ctx)

	exists, err := afero.DirExists(c.fs, src)
	if err != nil || !exists {
		logger.Warn().Str("source", src).Msg("source directory not found, skipping")
		return nil
	}

	if err := c.mkdirAll(dst); err != nil {
		logger.Error().Err(err).Str("destination", dst).Msg("creating destination directory")
		return errors.Errorf("creating destination directory %s: %w", dst, err)
	}

	entries, err := afero.ReadDir(c.fs, src)
	if err != nil {
		logger.Warn().Err(err).Str("source", src).Msg("listing directory, copy will be partial")
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}

		name := entry.Name()
		decoded := c.decoder.Decode(name)
		srcPath := filepath.Join(src, name)
		childRel := path.Join(rel, decoded)

		if !escape.Legal(decoded) {
			logger.Warn().Str("source", srcPath).Str("name", decoded).Msg("decoded name is not a legal Windows path, skipping")
			c.stats.Skipped++
			continue
		}

		if c.excluded(ctx, childRel) {
			c.stats.Skipped++
			continue
		}

		dstPath := filepath.Join(dst, decoded)

		switch {
		case entry.IsDir():
			if err := c.copyTree(ctx, srcPath, dstPath, childRel); err != nil {
				if ctx.Err() != nil {
					return err
				}
				logger.Warn().Err(err).Str("source", srcPath).Msg("copying directory")
				c.stats.Failed++
			}
		case entry.Mode().IsRegular():
			if err := c.copyFile(ctx, srcPath, dstPath); err != nil {
				logger.Warn().Err(err).Str("source", srcPath).Str("destination", dstPath).Msg("copying file")
				c.stats.Failed++
			}
		default:
			logger.Warn().Str("source", srcPath).Str("mode", entry.Mode().String()).Msg("unsupported file type, skipping")
			c.stats.Skipped++
		}
	}

	return nil
}

// mkdirAll creates dir and its missing parents, counting only the
// directories that did not exist yet
func (c *Copier) mkdirAll(dir string) error {
	missing := 0
	for d := dir; ; {
		if exists, err := afero.DirExists(c.fs, d); err == nil && exists {
			break
		}
		missing++
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}

	if err := c.fs.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	c.stats.Directories += missing
	return nil
}

func (c *Copier) excluded(ctx context.Context, rel string) bool {
	for _, pattern := range c.exclude {
		// patterns are validated in New
		if ok, _ := doublestar.Match(pattern, rel); ok {
			zerolog.Ctx(ctx).Debug().Str("path", rel).Str("pattern", pattern).Msg("excluded by pattern")
			return true
		}
	}
	return false
}

// copyFile copies one file, retrying transient failures with exponential backoff
func (c *Copier) copyFile(ctx context.Context, src, dst string) error {
	logger := zerolog.Ctx(ctx)

	var written int64
	op := func() error {
		n, err := c.copyOnce(src, dst)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return backoff.Permanent(err)
			}
			return err
		}
		written = n
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.retries), ctx)

	notify := func(err error, wait time.Duration) {
		logger.Debug().Err(err).Str("source", src).Dur("wait", wait).Msg("retrying file copy")
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return err
	}

	c.stats.Files++
	c.stats.Bytes += written
	logger.Info().Str("source", src).Str("destination", dst).Int64("bytes", written).Msg("copied file")
	return nil
}

func (c *Copier) copyOnce(src, dst string) (int64, error) {
	in, err := c.fs.Open(src)
	if err != nil {
		return 0, errors.Errorf("opening source: %w", err)
	}
	defer in.Close()

	out, err := c.fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, errors.Errorf("opening destination: %w", err)
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, errors.Errorf("writing destination: %w", err)
	}

	if err := out.Close(); err != nil {
		return n, errors.Errorf("closing destination: %w", err)
	}

	return n, nil
}
