package main

import (
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snigate/snigate/pkg/certauth"
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Create the root CA (if absent) and print its certificate",
	Long: `Ensures the root CA material exists and prints the certificate PEM
plus its SHA-256 fingerprint, for installing into client trust stores.
The private key never leaves the root PEM file.`,
	RunE: runCA,
}

func init() {
	caCmd.Flags().String("ca-path", "ca.pem", "Root CA PEM file (key then certificate)")
	caCmd.Flags().String("ca-name", "snigate root", "Root CA common name")
	caCmd.Flags().Bool("force", false, "Regenerate the root even if one exists (invalidates issued leaves)")

	rootCmd.AddCommand(caCmd)
}

func runCA(cmd *cobra.Command, args []string) error {
	bindFlags(cmd, map[string]string{
		"ca_path": "ca-path",
		"ca_name": "ca-name",
	})
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")

	authority, err := certauth.New(certauth.Options{
		Name:     cfg.CAName,
		RootPath: cfg.CAPath,
		CacheDir: cfg.CacheDirectory,
		Force:    force,
	})
	if err != nil {
		return err
	}

	cert := authority.CACert()
	fmt.Fprintf(os.Stderr, "Subject:        %s\n", cert.Subject)
	fmt.Fprintf(os.Stderr, "Not after:      %s\n", cert.NotAfter.Format("2006-01-02"))
	fmt.Fprintf(os.Stderr, "SHA-256:        %x\n", sha256.Sum256(cert.Raw))
	os.Stdout.Write(authority.CACertPEM())
	return nil
}
