package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
)

// apiKeyPrefix marks generated keys so they are recognisable in logs and
// secret scanners.
const apiKeyPrefix = "wdn_"

var keyNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var keysFlags struct {
	secretsDir string
	bytes      int
	force      bool
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate NAME",
	Short: "Generate a named API key",
	Long: `Generate a random API key for the mutating API routes.

With --secrets-dir the key is written to a file named NAME (mode 0600) so the
config can reference it as ${secret:NAME}; otherwise it is printed.

Examples:
  # Print a new key
  warden keys generate ops

  # Store it next to the other secrets
  warden keys generate ops --secrets-dir /etc/warden/secrets`,
	Args: cobra.ExactArgs(1),
	RunE: runKeysGenerate,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd)

	keysGenerateCmd.Flags().StringVar(&keysFlags.secretsDir, "secrets-dir", "", "write the key to this secrets directory")
	keysGenerateCmd.Flags().IntVar(&keysFlags.bytes, "bytes", 32, "random bytes per key (min 16)")
	keysGenerateCmd.Flags().BoolVar(&keysFlags.force, "force", false, "overwrite an existing secret file")
}

func generateAPIKey(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("key length %d is below the 16 byte minimum", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	name := args[0]
	if !keyNamePattern.MatchString(name) {
		return fmt.Errorf("invalid key name %q: use letters, digits, '.', '_' and '-'", name)
	}
	key, err := generateAPIKey(keysFlags.bytes)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if keysFlags.secretsDir == "" {
		fmt.Fprintln(out, key)
		return nil
	}

	if err := os.MkdirAll(keysFlags.secretsDir, 0o700); err != nil {
		return cli.NewCommandError("keys generate", err)
	}
	path := filepath.Join(keysFlags.secretsDir, name)
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if keysFlags.force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600) // #nosec G304 -- operator-chosen secrets directory
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("secret %s already exists (use --force to replace it)", path)
		}
		return cli.NewCommandError("keys generate", err)
	}
	_, werr := fmt.Fprintln(f, key)
	if err := errors.Join(werr, f.Close(), os.Chmod(path, 0o600)); err != nil {
		return cli.NewCommandError("keys generate", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "✓ Wrote API key %s to %s\n", name, path)
	fmt.Fprintf(out, "server:\n  api_keys:\n    - name: %s\n      key: \"${secret:%s}\"\n", name, name)
	return nil
}
