package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// LockFileName is written next to downloaded files.
const LockFileName = "download-manifest.lock.json"

type DownloadOptions struct {
	Manifest Manifest
	OutDir   string
	HFToken  string
	BaseURL  string
	Client   *http.Client
	Stdout   io.Writer
}

type ErrAccessDenied struct {
	Repo string
	Msg  string
}

func (e *ErrAccessDenied) Error() string {
	if e.Msg != "" {
		return e.Msg
	}

	return fmt.Sprintf("access denied for %s", e.Repo)
}

type lockManifest struct {
	Repo      string                `json:"repo"`
	Generated string                `json:"generated"`
	Files     map[string]lockRecord `json:"files"`
}

type lockRecord struct {
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

type fetcher struct {
	client  *http.Client
	baseURL string
	repo    string
	token   string
}

// Download fetches every manifest file into OutDir, skipping files whose
// checksum already matches, and records the digests in the lock manifest.
func Download(ctx context.Context, opts DownloadOptions) error {
	if err := opts.Manifest.Validate(); err != nil {
		return err
	}

	if opts.OutDir == "" {
		return errors.New("out dir is required")
	}

	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}

	fx := fetcher{
		client:  opts.Client,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		repo:    opts.Manifest.Repo,
		token:   opts.HFToken,
	}
	if fx.client == nil {
		fx.client = http.DefaultClient
	}

	if fx.baseURL == "" {
		fx.baseURL = DefaultBaseURL
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}

	lockPath := filepath.Join(opts.OutDir, LockFileName)

	lock := readLockManifest(lockPath)
	lock.Repo = opts.Manifest.Repo
	lock.Generated = time.Now().UTC().Format(time.RFC3339)

	for _, f := range opts.Manifest.Files {
		expected := strings.ToLower(f.SHA256)
		if expected == "" {
			if lr, ok := lock.Files[f.Filename]; ok && lr.Revision == f.Revision && isSHA256Hex(lr.SHA256) {
				expected = strings.ToLower(lr.SHA256)
			} else {
				var err error
				if expected, err = fx.resolveChecksum(ctx, f); err != nil {
					return err
				}
			}
		}

		localPath := filepath.Join(opts.OutDir, filepath.FromSlash(f.Filename))
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("create local subdir: %w", err)
		}

		ok, err := existingMatches(localPath, expected)
		if err != nil {
			return err
		}

		if ok {
			fmt.Fprintf(opts.Stdout, "skip %s (checksum match)\n", f.Filename)
			lock.Files[f.Filename] = lockRecord{Revision: f.Revision, SHA256: expected}

			continue
		}

		fmt.Fprintf(opts.Stdout, "download %s@%s -> %s\n", f.Filename, f.Revision, localPath)

		actual, err := fx.download(ctx, f, localPath, opts.Stdout)
		if err != nil {
			return err
		}

		if actual != expected {
			_ = os.Remove(localPath)
			return fmt.Errorf("checksum mismatch for %s: expected %s got %s", f.Filename, expected, actual)
		}

		fmt.Fprintf(opts.Stdout, "verified %s (sha256=%s)\n", f.Filename, actual)
		lock.Files[f.Filename] = lockRecord{Revision: f.Revision, SHA256: expected}
	}

	if err := writeLockManifest(lockPath, lock); err != nil {
		return err
	}

	fmt.Fprintf(opts.Stdout, "wrote lock manifest: %s\n", lockPath)

	return nil
}

func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("stat existing file: %w", err)
	}

	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", path)
	}

	actual, err := fileSHA256(path)
	if err != nil {
		return false, err
	}

	return actual == expected, nil
}

func (fx fetcher) request(ctx context.Context, method string, file ModelFile) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, fx.resolveURL(file), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if fx.token != "" {
		req.Header.Set("Authorization", "Bearer "+fx.token)
	}

	resp, err := fx.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, file.Filename, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()

		return nil, &ErrAccessDenied{
			Repo: fx.repo,
			Msg:  fmt.Sprintf("access denied for %s; provide HF_TOKEN or --hf-token", fx.repo),
		}
	}

	return resp, nil
}

func (fx fetcher) download(ctx context.Context, file ModelFile, outPath string, stdout io.Writer) (string, error) {
	resp, err := fx.request(ctx, http.MethodGet, file)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download failed for %s: %s", file.Filename, resp.Status)
	}

	tmp := outPath + ".tmp"

	fh, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	pw := &progressWriter{w: stdout, total: resp.ContentLength, last: time.Now()}

	if _, err := io.Copy(io.MultiWriter(fh, h, pw), resp.Body); err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)

		return "", fmt.Errorf("download %s: %w", file.Filename, err)
	}

	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move temp file into place: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// progressWriter prints byte counts at most every 700ms.
type progressWriter struct {
	w       io.Writer
	total   int64
	written int64
	last    time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))

	if time.Since(p.last) > 700*time.Millisecond {
		if p.total > 0 {
			pct := float64(p.written) * 100 / float64(p.total)
			fmt.Fprintf(p.w, "  progress: %.1f%% (%d/%d bytes)\n", pct, p.written, p.total)
		} else {
			fmt.Fprintf(p.w, "  progress: %d bytes\n", p.written)
		}

		p.last = time.Now()
	}

	return len(b), nil
}

func (fx fetcher) resolveChecksum(ctx context.Context, f ModelFile) (string, error) {
	resp, err := fx.request(ctx, http.MethodHead, f)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return "", fmt.Errorf("metadata request failed for %s: %s", f.Filename, resp.Status)
	}

	for _, key := range []string{"X-Linked-Etag", "X-Repo-Commit", "Etag"} {
		if v := normalizeETag(resp.Header.Get(key)); isSHA256Hex(v) {
			return strings.ToLower(v), nil
		}
	}

	return "", fmt.Errorf("unable to resolve sha256 metadata for %s; provide pinned checksum", f.Filename)
}

func (fx fetcher) resolveURL(file ModelFile) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", fx.baseURL, fx.repo, file.Revision, file.Filename)
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "\"")
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, "\"")

	return v
}

func isSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func readLockManifest(path string) lockManifest {
	out := lockManifest{Files: map[string]lockRecord{}}

	b, err := os.ReadFile(path)
	if err != nil {
		return out
	}

	if err := json.Unmarshal(b, &out); err != nil {
		return lockManifest{Files: map[string]lockRecord{}}
	}

	if out.Files == nil {
		out.Files = map[string]lockRecord{}
	}

	return out
}

func writeLockManifest(path string, lock lockManifest) error {
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock manifest: %w", err)
	}

	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write lock manifest: %w", err)
	}

	return nil
}
