// Package updater fetches firmware images over HTTP and stages them on disk
// for the installer. Flashing itself happens outside this process.
package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/sdcc_sprinkler/internal/services/router"
)

const (
	maxImageSize   = 16 << 20
	checksumHeader = "X-Checksum-Sha256"
)

var ErrChecksum = errors.New("firmware checksum mismatch")

type Config struct {
	URL       string
	StagePath string
	Timeout   time.Duration

	// Breaker opens after Failures consecutive errors for OpenFor.
	Failures uint32
	OpenFor  time.Duration
}

type Updater struct {
	url     string
	path    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Entry

	mu   sync.Mutex
	etag string
}

func New(cfg Config, log *logrus.Entry) *Updater {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Failures == 0 {
		cfg.Failures = 3
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 5 * time.Minute
	}
	failures := cfg.Failures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "firmware",
		Timeout: cfg.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("%s breaker %s -> %s", name, from, to)
		},
	})
	return &Updater{
		url:     strings.TrimSpace(cfg.URL),
		path:    cfg.StagePath,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		log:     log,
	}
}

// CheckAndApply downloads a new image when the server has one and stages it
// at the configured path. An unchanged image (304) is not an error.
func (u *Updater) CheckAndApply(ctx context.Context) (router.UpdateResult, error) {
	res, err := u.breaker.Execute(func() (interface{}, error) {
		return u.fetch(ctx)
	})
	if err != nil {
		return router.UpdateFailed, err
	}
	return res.(router.UpdateResult), nil
}

func (u *Updater) fetch(ctx context.Context) (router.UpdateResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return router.UpdateFailed, err
	}
	if etag := u.ETag(); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return router.UpdateFailed, fmt.Errorf("firmware request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		u.log.Info("firmware up to date")
		return router.UpdateNone, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return router.UpdateFailed, fmt.Errorf("firmware server status %d", resp.StatusCode)
	}

	sum, err := u.stage(resp.Body, resp.Header.Get(checksumHeader))
	if err != nil {
		return router.UpdateFailed, err
	}
	u.mu.Lock()
	u.etag = resp.Header.Get("ETag")
	u.mu.Unlock()
	u.log.Infof("firmware staged at %s (sha256 %s)", u.path, sum)
	return router.UpdateApplied, nil
}

// stage writes the image next to its final path and renames it into place,
// so a partial download never replaces a good image.
func (u *Updater) stage(body io.Reader, want string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(u.path), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(u.path), ".firmware-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(body, maxImageSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("firmware download: %w", err)
	}
	if n > maxImageSize {
		return "", fmt.Errorf("firmware image exceeds %d bytes", maxImageSize)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if want != "" && !strings.EqualFold(want, sum) {
		return "", fmt.Errorf("%w: got %s want %s", ErrChecksum, sum, want)
	}
	if err := os.Rename(tmp.Name(), u.path); err != nil {
		return "", err
	}
	return sum, nil
}

// ETag returns the tag of the last staged image.
func (u *Updater) ETag() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.etag
}
