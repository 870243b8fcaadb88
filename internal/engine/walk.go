package engine

import (
	"context"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/redactyl/entropyscan/internal/ignore"
)

// IgnoreFileDirective anywhere in a file skips it during workspace scans.
const IgnoreFileDirective = "entropyscan:ignore-file"

// Walk traverses cfg.Root and invokes handle with the slash-separated
// relative path of each eligible file, in lexical order. When tracked is
// non-nil only paths present in it are eligible.
func Walk(ctx context.Context, cfg Config, ign ignore.Matcher, tracked map[string]bool, handle func(rel string)) error {
	return filepath.WalkDir(cfg.Root, func(p string, d fs.DirEntry, err error) error {
		if ctx != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != cfg.Root && cfg.DefaultExcludes && isDefaultDirExcluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(cfg.Root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if tracked != nil && !tracked[rel] {
			return nil
		}
		var size int64
		if info, _ := d.Info(); info != nil {
			size = info.Size()
		}
		if !Eligible(cfg, ign, rel, size) {
			return nil
		}
		handle(rel)
		return nil
	})
}

// Eligible applies the per-file filters of cfg to rel: include and exclude
// globs, ignore files, the size limit and the default file excludes.
// Directory excludes are the caller's concern.
func Eligible(cfg Config, ign ignore.Matcher, rel string, size int64) bool {
	if !allowedByGlobs(rel, cfg) {
		return false
	}
	if ign.Match(rel) {
		return false
	}
	if cfg.MaxBytes > 0 && size > cfg.MaxBytes {
		return false
	}
	return !cfg.DefaultExcludes || !isDefaultFileExcluded(strings.ToLower(rel))
}

// ReadText loads a file for scanning. ok is false for unreadable, binary or
// opted-out files.
func ReadText(path string) (string, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	if looksBinary(b) || looksNonTextMIME(path, b) {
		return "", false
	}
	s := string(b)
	if strings.Contains(s, IgnoreFileDirective) {
		return "", false
	}
	return s, true
}

func looksBinary(b []byte) bool {
	const sniff = 800
	n := sniff
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if b[i] == 0 {
			return true
		}
	}
	return false
}

// looksNonTextMIME uses the file extension and a content sniff to skip
// images, media, fonts and archives.
func looksNonTextMIME(path string, b []byte) bool {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" && nonTextType(ct) {
		return true
	}
	return len(b) > 0 && nonTextType(mimetype.Detect(b).String())
}

func nonTextType(ct string) bool {
	ct, _, _ = strings.Cut(ct, ";")
	for _, p := range []string{"image/", "video/", "audio/", "font/"} {
		if strings.HasPrefix(ct, p) {
			return true
		}
	}
	return ct == "application/pdf" || strings.Contains(ct, "zip") || strings.Contains(ct, "tar") || strings.Contains(ct, "gzip")
}
