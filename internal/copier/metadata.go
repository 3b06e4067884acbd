package copier

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nace/triagedisk/internal/escape"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
)

// Rule rewrites a decoded, slash-separated relative path whose name is still
// illegal on a Windows volume
type Rule struct {
	Name    string
	Match   *regexp.Regexp
	Replace string // regexp.ReplaceAllString template
}

// DefaultRules returns the NTFS metadata remaps, evaluated top to bottom
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "secure-sds",
			Match:   regexp.MustCompile(`(?i)(^|/)\$Secure:\$SDS$`),
			Replace: "${1}$$Secure_$$SDS",
		},
		{
			Name:    "usnjrnl-j",
			Match:   regexp.MustCompile(`(?i)(^|/)\$Extend/\$UsnJrnl:\$J$`),
			Replace: "${1}$$Extend/$$J",
		},
		{
			Name:    "usnjrnl-max",
			Match:   regexp.MustCompile(`(?i)(^|/)\$Extend/\$UsnJrnl:\$Max$`),
			Replace: "${1}$$Extend/$$Max",
		},
	}
}

// ApplyRules rewrites rel with the first matching rule. Unmatched paths are
// returned unchanged with an empty rule name.
func ApplyRules(rules []Rule, rel string) (string, string) {
	for _, r := range rules {
		if r.Match.MatchString(rel) {
			return r.Match.ReplaceAllString(rel, r.Replace), r.Name
		}
	}
	return rel, ""
}

// CopyMetadata walks the NTFS metadata tree under src and copies every file
// into dst at its decoded relative path, with DefaultRules (or the configured
// rules) applied. Directories are created on demand; an entry whose directory
// cannot be created is skipped.
func (c *Copier) CopyMetadata(ctx context.Context, src, dst string) error {
	logger := zerolog.Ctx(ctx)

	exists, err := afero.DirExists(c.fs, src)
	if err != nil || !exists {
		logger.Warn().Str("source", src).Msg("metadata directory not found, skipping")
		return nil
	}

	return afero.Walk(c.fs, src, func(p string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.WithStack(ctxErr)
		}

		if err != nil {
			logger.Warn().Err(err).Str("source", p).Msg("reading metadata entry")
			c.stats.Failed++
			return nil
		}

		if info.IsDir() {
			return nil
		}

		if !info.Mode().IsRegular() {
			logger.Warn().Str("source", p).Str("mode", info.Mode().String()).Msg("unsupported file type, skipping")
			c.stats.Skipped++
			return nil
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			logger.Warn().Err(err).Str("source", p).Msg("computing relative path")
			c.stats.Failed++
			return nil
		}

		target, ok := c.metadataTarget(ctx, rel)
		if !ok {
			logger.Warn().Str("source", p).Str("target", target).Msg("metadata name is not a legal Windows path, skipping")
			c.stats.Skipped++
			return nil
		}

		if c.excluded(ctx, target) {
			c.stats.Skipped++
			return nil
		}

		dstPath := filepath.Join(dst, filepath.FromSlash(target))
		dstDir := filepath.Dir(dstPath)
		if err := c.mkdirAll(dstDir); err != nil {
			logger.Warn().Err(err).Str("destination", dstDir).Msg("creating metadata directory, skipping entry")
			c.stats.Failed++
			return nil
		}

		if err := c.copyFile(ctx, p, dstPath); err != nil {
			logger.Warn().Err(err).Str("source", p).Str("destination", dstPath).Msg("copying metadata file")
			c.stats.Failed++
		}
		return nil
	})
}

// metadataTarget decodes every segment of rel and applies the rename rules.
// The bool is false when the result still has an illegal segment.
func (c *Copier) metadataTarget(ctx context.Context, rel string) (string, bool) {
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, s := range segments {
		segments[i] = c.decoder.Decode(s)
	}

	target, rule := ApplyRules(c.rules, strings.Join(segments, "/"))
	if rule != "" {
		zerolog.Ctx(ctx).Debug().Str("rule", rule).Str("from", rel).Str("to", target).Msg("renamed metadata artifact")
	}

	for _, s := range strings.Split(target, "/") {
		if !escape.Legal(s) {
			return target, false
		}
	}
	return target, true
}
