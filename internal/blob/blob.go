// Package blob stores visitor uploads on local disk and serves them back.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/flint/internal/vars"
)

const URLPrefix = "/files/"

var (
	ErrTooLarge    = errors.New("file exceeds the upload size limit")
	ErrEmptyUpload = errors.New("no files uploaded")
	ErrNotStored   = errors.New("file is not stored here")
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Upload is one incoming file.
type Upload struct {
	Name   string
	Reader io.Reader
}

// Store writes files under root and addresses them by URL.
type Store struct {
	root       string
	maxBytes   int64
	httpClient *http.Client
	remote     map[string]bool
}

func New(root string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Store{
		root:       root,
		maxBytes:   maxBytes,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// AllowRemote lets Resolve fetch absolute http(s) URLs on the given
// hosts. Without it only files in the store resolve.
func (s *Store) AllowRemote(hosts ...string) {
	if s.remote == nil {
		s.remote = make(map[string]bool, len(hosts))
	}
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.remote[h] = true
		}
	}
}

// Upload writes files to <root>/<campaign>/<section>/<uuid>-<name>.
// Files written before a failure are removed again.
func (s *Store) Upload(ctx context.Context, campaignID, sectionID string, uploads []Upload) ([]vars.FileDescriptor, error) {
	if len(uploads) == 0 {
		return nil, ErrEmptyUpload
	}

	dir := filepath.Join(s.root, sanitize(campaignID), sanitize(sectionID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	var written []string
	cleanup := func() {
		for _, p := range written {
			os.Remove(p)
		}
	}

	files := make([]vars.FileDescriptor, 0, len(uploads))
	for _, up := range uploads {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, err
		}

		name := sanitize(up.Name)
		stored := uuid.NewString() + "-" + name
		target := filepath.Join(dir, stored)

		size, head, err := s.write(target, up.Reader)
		if err != nil {
			os.Remove(target)
			cleanup()
			return nil, err
		}
		written = append(written, target)

		files = append(files, vars.FileDescriptor{
			Name: up.Name,
			Size: size,
			URL:  URLPrefix + path.Join(sanitize(campaignID), sanitize(sectionID), stored),
			Type: contentType(name, head),
		})
	}
	return files, nil
}

func (s *Store) write(target string, r io.Reader) (int64, []byte, error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	limit := s.maxBytes
	if limit <= 0 {
		limit = 1<<63 - 1
	} else {
		limit++
	}

	var head bytes.Buffer
	tee := io.TeeReader(io.LimitReader(r, 512), &head)
	n1, err := io.Copy(f, tee)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to write file: %w", err)
	}
	n2, err := io.Copy(f, io.LimitReader(r, limit-n1))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to write file: %w", err)
	}

	size := n1 + n2
	if s.maxBytes > 0 && size > s.maxBytes {
		return 0, nil, ErrTooLarge
	}
	return size, head.Bytes(), nil
}

func contentType(name string, head []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(name))); ct != "" {
		return ct
	}
	return http.DetectContentType(head)
}

func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}

// Resolve returns the bytes behind a descriptor: local files from disk,
// absolute http(s) URLs only on hosts passed to AllowRemote.
func (s *Store) Resolve(ctx context.Context, fd vars.FileDescriptor) ([]byte, error) {
	if strings.HasPrefix(fd.URL, URLPrefix) {
		rel := path.Clean(strings.TrimPrefix(fd.URL, URLPrefix))
		if strings.HasPrefix(rel, "..") {
			return nil, ErrNotStored
		}
		return os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
	}

	u, err := url.Parse(fd.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || !s.remote[strings.ToLower(u.Hostname())] {
		return nil, ErrNotStored
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fd.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", fd.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %d", fd.URL, resp.StatusCode)
	}

	limit := s.maxBytes
	if limit <= 0 {
		limit = 50 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Handler serves stored files under URLPrefix without directory listings.
func (s *Store) Handler() http.Handler {
	fs := http.FileServer(http.Dir(s.root))
	return http.StripPrefix(URLPrefix, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		fs.ServeHTTP(w, r)
	}))
}
