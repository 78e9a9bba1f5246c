// Package config provides configuration management for Warden.
//
// Configuration is read from a YAML file, completed with defaults and
// optionally overridden by environment variables. Unknown YAML fields are
// rejected.
//
//	cfg, err := config.LoadConfig("warden.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("warden.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention WARDEN_SECTION_FIELD:
//
//   - WARDEN_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - WARDEN_SPENDING_BACKEND overrides spending.backend
//   - WARDEN_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Policies
//
// Each entry under policies builds one policy from a template. Rules given
// inline are decoded with the ruledoc registry and appended to the
// template's rules:
//
//	templates:
//	  dir: ./templates
//	  watch: true
//
//	policies:
//	  - template: treasury-multisig
//	    name: main-treasury
//	    params:
//	      signers: ["0xA1", "0xB2", "0xC3"]
//	      required: 2
//	    rules:
//	      - type: human-approval
//	        triggers:
//	          - type: amount-threshold
//	            threshold: "1000000000000000000"
//	        channel: webhook
//	        webhook_url: https://ops.example.com/approvals
//
//	spending:
//	  backend: sqlite
//	  sqlite:
//	    path: data/spending.db
//
//	approval:
//	  archive:
//	    enabled: true
//	    retention:
//	      days: 30
//
// Validation errors carry dotted field paths:
//
//	configuration validation failed with 2 errors:
//	  - policies[0].template: template is required
//	  - spending.backend: invalid backend "redis": must be 'memory' or 'sqlite'
package config
