// Package logging builds the structured loggers used across Warden.
//
// New returns a plain *slog.Logger whose handler chain adds request-scoped
// fields from the context and redacts secrets:
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	ctx = logging.WithPolicy(logging.WithRequestID(ctx, id), "treasury")
//	logger.InfoContext(ctx, "decision", "allowed", true)
//
// # Redaction
//
// Attributes whose key names a secret (signature, token, private_key, ...)
// are masked to a short prefix. String values are scrubbed of 65-byte hex
// signatures, inline private keys and bearer tokens wherever they appear.
// Custom patterns from configuration are applied after the built-in ones.
package logging
