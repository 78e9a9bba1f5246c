/*
Package tls builds the server's TLS configuration from config.TLSConfig.

Certificates are served through a CertificateReloader, which re-reads the
certificate and key when their modification time changes, so renewed
certificates take effect without a restart:

	reloader := tls.NewCertificateReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval, logger)
	if err := reloader.Start(ctx); err != nil {
		return err
	}
	tlsCfg, err := tls.ServerConfig(cfg, reloader)

With mTLS enabled, client certificates are verified against the
configured CA bundle and PeerIdentity extracts the caller's identity
(subject.CN, subject.OU, subject.O or SAN) from the verified chain.
Unverified certificates never yield an identity.
*/
package tls
