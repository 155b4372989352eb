// scitokens-admin-add-key fetches an issuer's signing key and pins it into
// the local key cache, printing the key in PEM form.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vynpt/scitokens/keycache"
	"github.com/vynpt/scitokens/keys"
)

var (
	force    bool
	insecure bool
	cacheDir string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "scitokens-admin-add-key ISSUER KEY_ID",
	Short: "Fetch an issuer signing key and add it to the local key cache",
	Args:  cobra.ExactArgs(2),
	RunE:  run,

	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().BoolVarP(&force, "force", "f", false, "refetch from the issuer even if a fresh entry is cached")
	rootCmd.Flags().BoolVar(&insecure, "insecure", false, "permit plaintext/unverified transport to the issuer")
	rootCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "override the cache base directory")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	issuer, keyID := args[0], args[1]

	logger := logrus.New()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	opts := []keycache.Option{
		keycache.WithLogger(logger),
		keycache.WithRequestTimeout(30 * time.Second),
	}
	if cacheDir != "" {
		opts = append(opts, keycache.WithCacheDir(cacheDir))
	}
	cache, err := keycache.New(opts...)
	if err != nil {
		return err
	}
	defer cache.Close()

	var key keys.PublicKey
	if force {
		key, err = cache.Refresh(cmd.Context(), issuer, keyID, insecure)
	} else {
		key, err = cache.GetKeyInfo(cmd.Context(), issuer, keyID, insecure)
	}
	if err != nil {
		return fmt.Errorf("cannot add issuer = %s and key_id = %s: %w", issuer, keyID, err)
	}

	pemData, err := keys.EncodePEM(key)
	if err != nil {
		return err
	}
	fmt.Printf("Successfully added key with issuer = %s and key_id = %s\n", issuer, keyID)
	fmt.Print(pemData)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
