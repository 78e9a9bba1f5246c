package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrNoCertificate is returned before the first successful load.
var ErrNoCertificate = errors.New("no certificate loaded")

// CertificateReloader serves a key pair from disk and re-reads it when
// either file's modification time changes.
type CertificateReloader struct {
	certFile string
	keyFile  string
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	cert    *tls.Certificate
	leaf    *x509.Certificate
	certMod time.Time
	keyMod  time.Time
}

// NewCertificateReloader creates a reloader. A non-positive interval
// disables polling.
func NewCertificateReloader(certFile, keyFile string, interval time.Duration, logger *slog.Logger) *CertificateReloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &CertificateReloader{
		certFile: certFile,
		keyFile:  keyFile,
		interval: interval,
		logger:   logger.With("component", "tls"),
		now:      time.Now,
	}
}

// Start loads the key pair and polls for changes until ctx is done.
func (r *CertificateReloader) Start(ctx context.Context) error {
	if err := r.Load(); err != nil {
		return err
	}
	if r.interval > 0 {
		go r.loop(ctx)
	}
	return nil
}

func (r *CertificateReloader) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := r.ReloadIfChanged(); err != nil {
				r.logger.Error("certificate reload failed", "error", err, "cert_file", r.certFile)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ReloadIfChanged reloads the key pair when either file changed since the
// last load. The previous certificate keeps serving when the new one is
// invalid.
func (r *CertificateReloader) ReloadIfChanged() (bool, error) {
	certMod, keyMod, err := r.modTimes()
	if err != nil {
		return false, err
	}
	r.mu.RLock()
	changed := !certMod.Equal(r.certMod) || !keyMod.Equal(r.keyMod)
	r.mu.RUnlock()
	if !changed {
		return false, nil
	}
	if err := r.Load(); err != nil {
		return false, err
	}
	return true, nil
}

// Load reads and validates the key pair.
func (r *CertificateReloader) Load() error {
	certMod, keyMod, err := r.modTimes()
	if err != nil {
		return err
	}
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	leaf, err := Leaf(&cert)
	if err != nil {
		return err
	}
	now := r.now()
	if err := CheckValidity(leaf, now); err != nil {
		return err
	}
	cert.Leaf = leaf

	r.mu.Lock()
	r.cert, r.leaf = &cert, leaf
	r.certMod, r.keyMod = certMod, keyMod
	r.mu.Unlock()

	attrs := []any{
		"subject", leaf.Subject.CommonName,
		"issuer", leaf.Issuer.CommonName,
		"expires_at", leaf.NotAfter.Format(time.RFC3339),
	}
	if ExpiresWithin(leaf, now, ExpiryWarning) {
		r.logger.Warn("certificate expiring soon", attrs...)
	} else {
		r.logger.Info("certificate loaded", attrs...)
	}
	return nil
}

func (r *CertificateReloader) modTimes() (time.Time, time.Time, error) {
	ci, err := os.Stat(r.certFile)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("stat certificate: %w", err)
	}
	ki, err := os.Stat(r.keyFile)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("stat key: %w", err)
	}
	return ci.ModTime(), ki.ModTime(), nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *CertificateReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cert == nil {
		return nil, ErrNoCertificate
	}
	return r.cert, nil
}

// Leaf returns the parsed serving certificate, or nil before Load.
func (r *CertificateReloader) Leaf() *x509.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaf
}

// Check reports whether the serving certificate is currently valid. It
// has the shape of a readiness check.
func (r *CertificateReloader) Check(context.Context) error {
	leaf := r.Leaf()
	if leaf == nil {
		return ErrNoCertificate
	}
	return CheckValidity(leaf, r.now())
}
