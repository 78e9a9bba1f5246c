package tls

import (
	"crypto/x509"
	"net/http"
)

// Identity sources for client certificates.
const (
	SourceCommonName   = "subject.CN"
	SourceOrgUnit      = "subject.OU"
	SourceOrganization = "subject.O"
	SourceSAN          = "SAN"
)

// ExtractClientIdentity returns the identity named by source, or "" when
// the certificate does not carry it. SAN prefers DNS names, then email
// addresses, then URIs.
func ExtractClientIdentity(cert *x509.Certificate, source string) string {
	if cert == nil {
		return ""
	}
	first := func(vals []string) string {
		if len(vals) == 0 {
			return ""
		}
		return vals[0]
	}

	switch source {
	case "", SourceCommonName:
		return cert.Subject.CommonName
	case SourceOrgUnit:
		return first(cert.Subject.OrganizationalUnit)
	case SourceOrganization:
		return first(cert.Subject.Organization)
	case SourceSAN:
		if dns := first(cert.DNSNames); dns != "" {
			return dns
		}
		if email := first(cert.EmailAddresses); email != "" {
			return email
		}
		if len(cert.URIs) > 0 {
			return cert.URIs[0].String()
		}
	}
	return ""
}

// PeerCertificate returns the leaf of the client's verified chain, or nil
// when the connection carries no verified client certificate.
func PeerCertificate(r *http.Request) *x509.Certificate {
	if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 || len(r.TLS.VerifiedChains[0]) == 0 {
		return nil
	}
	return r.TLS.VerifiedChains[0][0]
}

// PeerIdentity returns the identity of the verified client certificate.
func PeerIdentity(r *http.Request, source string) (string, bool) {
	id := ExtractClientIdentity(PeerCertificate(r), source)
	return id, id != ""
}
