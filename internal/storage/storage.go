// Package storage owns the artifacts a job produces: finished videos in the
// local output directory, optional publishing to Supabase, and fetching of
// remote inputs (images, narration) referenced by URL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// ErrInputNotAllowed is returned for local inputs outside the allowed directories.
var ErrInputNotAllowed = errors.New("local input outside allowed directories")

type Options struct {
	OutputDir     string
	PublicBaseURL string    // prefix for local download links; empty gives relative links
	Supabase      *Supabase // nil disables publishing

	// InputDirs are local directories a request may reference files in.
	// The output dir is always allowed.
	InputDirs []string
}

type Storage struct {
	outputDir     string
	inputDirs     []string
	publicBaseURL string
	supabase      *Supabase
	client        *http.Client
	retryDelay    time.Duration
}

func New(opts Options) (*Storage, error) {
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	var inputDirs []string
	for _, d := range opts.InputDirs {
		if strings.TrimSpace(d) != "" {
			inputDirs = append(inputDirs, d)
		}
	}

	return &Storage{
		outputDir:     opts.OutputDir,
		inputDirs:     inputDirs,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		supabase:      opts.Supabase,
		client:        &http.Client{},
		retryDelay:    baseRetryDelay,
	}, nil
}

// OutputPath returns where a finished video named name is written.
func (s *Storage) OutputPath(name string) string {
	return filepath.Join(s.outputDir, filepath.Base(name))
}

// Resolve maps a download name to a file in the output directory. Names that
// try to leave the directory are rejected.
func (s *Storage) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	p := filepath.Join(s.outputDir, name)
	info, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%q is a directory", name)
	}
	return p, nil
}

// PublicURL is the download link served by the API for a local output file.
func (s *Storage) PublicURL(name string) string {
	return s.publicBaseURL + "/v1/videos/files/" + url.PathEscape(filepath.Base(name))
}

// Publish makes a finished video available and returns its URL. With
// Supabase configured the file is uploaded; on upload failure, or without
// Supabase, the local download link is returned.
func (s *Storage) Publish(ctx context.Context, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("output missing: %w", err)
	}
	name := filepath.Base(localPath)
	log.Printf("[Storage] Publishing %s (%s)", name, humanize.Bytes(uint64(info.Size())))

	if s.supabase == nil {
		return s.PublicURL(name), nil
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", localPath, err)
	}

	objectPath := path.Join("videos", name)
	if err := s.supabase.Upload(ctx, objectPath, data, "video/mp4"); err != nil {
		log.Printf("[Storage] Warning: upload to Supabase failed, serving locally: %v", err)
		return s.PublicURL(name), nil
	}
	return s.supabase.GetPublicURL(objectPath), nil
}

// Fetch returns a local path for src. Local paths must lie inside dir, the
// output dir or one of the input dirs; http(s) URLs are downloaded into dir
// with retries.
func (s *Storage) Fetch(ctx context.Context, src, dir string) (string, error) {
	if !isRemote(src) {
		return s.Local(src, dir)
	}

	bearer := ""
	if s.supabase != nil && sameOrigin(src, s.supabase.url) {
		bearer = s.supabase.serviceKey
	}

	data, err := download(ctx, s.client, src, bearer, s.retryDelay)
	if err != nil {
		return "", err
	}

	ext := path.Ext(strings.SplitN(src, "?", 2)[0])
	if len(ext) > 6 {
		ext = ""
	}
	dest := filepath.Join(dir, "fetch_"+uuid.NewString()+ext)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", dest, err)
	}

	log.Printf("[Storage] Fetched %s (%s)", truncate(src, 120), humanize.Bytes(uint64(len(data))))
	return dest, nil
}

// Local checks that p is an existing regular file inside the output dir, an
// input dir or one of extra. Symlinks are resolved before the check.
func (s *Storage) Local(p string, extra ...string) (string, error) {
	resolved, err := realPath(p)
	if err != nil {
		return "", fmt.Errorf("input %s unavailable: %w", p, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("input %s unavailable: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("input %s is not a regular file", p)
	}

	roots := append([]string{s.outputDir}, s.inputDirs...)
	for _, root := range append(roots, extra...) {
		if root == "" {
			continue
		}
		r, err := realPath(root)
		if err != nil {
			continue
		}
		if within(r, resolved) {
			return p, nil
		}
	}
	log.Printf("[Storage] Warning: rejected local input %s", truncate(p, 120))
	return "", fmt.Errorf("%w: %s", ErrInputNotAllowed, p)
}

func realPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// sameOrigin reports whether src is served by the host of base.
func sameOrigin(src, base string) bool {
	a, err := url.Parse(src)
	if err != nil {
		return false
	}
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}
