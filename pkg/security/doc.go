// Package security groups the server's transport and credential
// subpackages: tls (listener configuration, certificate reload, mTLS
// identity), auth (named API keys for mutating routes) and secrets
// (${secret:name} references in configuration).
package security
