package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
	sectls "mercator-hq/warden/pkg/security/tls"
)

var certsFormat string

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Inspect TLS certificates",
}

var certsInfoCmd = &cobra.Command{
	Use:   "info CERT_FILE",
	Short: "Show certificate details and validity",
	Args:  cobra.ExactArgs(1),
	RunE:  runCertsInfo,
}

var certsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load the configured TLS material the way serve does",
	Long: `Load the server certificate, key and client CA bundle from the server.tls
section and build the listener configuration without starting the server.`,
	Args: cobra.NoArgs,
	RunE: runCertsCheck,
}

func init() {
	rootCmd.AddCommand(certsCmd)
	certsCmd.AddCommand(certsInfoCmd, certsCheckCmd)
	certsCmd.PersistentFlags().StringVar(&certsFormat, "format", "text", "output format: text, json")
}

// certInfo is the JSON shape of certs info.
type certInfo struct {
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	Serial    string    `json:"serial"`
	NotBefore time.Time `json:"notBefore"`
	NotAfter  time.Time `json:"notAfter"`
	DNSNames  []string  `json:"dnsNames,omitempty"`
	IPs       []string  `json:"ipAddresses,omitempty"`
	IsCA      bool      `json:"isCA"`
	Status    string    `json:"status"`
}

func readCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, err
	}
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no certificate found in %s", path)
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
	}
}

func certStatus(cert *x509.Certificate, now time.Time) string {
	if err := sectls.CheckValidity(cert, now); err != nil {
		return "invalid: " + err.Error()
	}
	days := int(cert.NotAfter.Sub(now).Hours() / 24)
	if sectls.ExpiresWithin(cert, now, sectls.ExpiryWarning) {
		return fmt.Sprintf("expiring in %d days", days)
	}
	return fmt.Sprintf("valid (%d days remaining)", days)
}

func runCertsInfo(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(certsFormat)
	if err != nil {
		return err
	}
	cert, err := readCertificate(args[0])
	if err != nil {
		return cli.NewCommandError("certs info", err)
	}

	info := certInfo{
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		Serial:    cert.SerialNumber.Text(16),
		NotBefore: cert.NotBefore.UTC(),
		NotAfter:  cert.NotAfter.UTC(),
		DNSNames:  cert.DNSNames,
		IsCA:      cert.IsCA,
		Status:    certStatus(cert, time.Now()),
	}
	for _, ip := range cert.IPAddresses {
		info.IPs = append(info.IPs, ip.String())
	}

	table := cli.Table{
		Headers: []string{"FIELD", "VALUE"},
		Rows: [][]string{
			{"Subject", info.Subject},
			{"Issuer", info.Issuer},
			{"Serial", info.Serial},
			{"Not Before", info.NotBefore.Format(time.RFC3339)},
			{"Not After", info.NotAfter.Format(time.RFC3339)},
			{"DNS Names", strings.Join(info.DNSNames, ", ")},
			{"IP Addresses", strings.Join(info.IPs, ", ")},
			{"CA", fmt.Sprint(info.IsCA)},
			{"Status", info.Status},
		},
		Data: info,
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
}

func runCertsCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tc := cfg.Server.TLS
	if !tc.Enabled {
		return cli.NewConfigError("server.tls.enabled", "TLS is not enabled")
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	certs := sectls.NewCertificateReloader(tc.CertFile, tc.KeyFile, 0, logger)
	if err := certs.Load(); err != nil {
		return cli.NewConfigError("server.tls", err.Error())
	}
	if _, err := sectls.ServerConfig(tc, certs); err != nil {
		return cli.NewConfigError("server.tls", err.Error())
	}

	out := cmd.OutOrStdout()
	leaf := certs.Leaf()
	fmt.Fprintf(out, "✓ %s: %s, %s\n", tc.CertFile, leaf.Subject.CommonName, certStatus(leaf, time.Now()))
	if tc.MTLS.Enabled {
		fmt.Fprintf(out, "✓ client CA bundle %s loaded (client auth %s)\n", tc.MTLS.ClientCAFile, tc.MTLS.ClientAuthType)
	}
	return nil
}
