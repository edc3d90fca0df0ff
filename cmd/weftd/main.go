// Command weftd runs one weft node: it opens a local blob store and bucket
// log, loads or generates its node identity, and serves the overlay sync
// protocol until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sirupsen/logrus"

	"github.com/weftfs/weft/internal/blobstore"
	"github.com/weftfs/weft/internal/bucketlog"
	"github.com/weftfs/weft/internal/peer"
	"github.com/weftfs/weft/internal/wcrypto"
	"github.com/weftfs/weft/pkg/config"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{Use: "weftd"}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")

	rootCmd.AddCommand(serveCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	var (
		addr       string
		keyPath    string
		blobsDir   string
		sqlitePath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run this node, syncing buckets with its peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("key") {
				cfg.KeyPath = keyPath
			}
			if cmd.Flags().Changed("blobs-dir") {
				cfg.BlobsDir = blobsDir
			}
			if cmd.Flags().Changed("sqlite") {
				cfg.SQLitePath = sqlitePath
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			lv, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
			}
			logrus.SetLevel(lv)

			return run(*cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "overlay listen multiaddr")
	cmd.Flags().StringVar(&keyPath, "key", "", "path to this node's Ed25519 identity PEM")
	cmd.Flags().StringVar(&blobsDir, "blobs-dir", "", "directory backing this node's blob store")
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "path to the sqlite bucket log (empty keeps the log in memory)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "logrus level (trace, debug, info, warn, error)")

	return cmd
}

func run(cfg config.Config) error {
	sk, err := loadOrCreateIdentity(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	blobs, err := blobstore.NewFileStore(cfg.BlobsDir)
	if err != nil {
		return fmt.Errorf("open blob store at %s: %w", cfg.BlobsDir, err)
	}

	logs, err := openLogProvider(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open bucket log: %w", err)
	}

	p, err := peer.NewBuilder().
		WithAddr(cfg.Addr).
		WithSecretKey(sk).
		WithBlobStore(blobs).
		WithLogProvider(logs).
		Build()
	if err != nil {
		return fmt.Errorf("build peer: %w", err)
	}
	defer p.Close()

	logrus.WithFields(logrus.Fields{
		"id":    p.ID(),
		"addrs": p.Addrs(),
	}).Info("weftd: node started")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p.Spawn(ctx)
	logrus.Info("weftd: shutdown complete")
	return nil
}

// loadOrCreateIdentity reads an Ed25519 identity from path, generating and
// persisting a new one if the file doesn't exist yet.
func loadOrCreateIdentity(path string) (wcrypto.SecretKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return wcrypto.SecretKeyFromPEM(data)
	}
	if !os.IsNotExist(err) {
		return wcrypto.SecretKey{}, err
	}

	sk, err := wcrypto.GenerateSecretKey()
	if err != nil {
		return wcrypto.SecretKey{}, err
	}
	pem, err := sk.ToPEM()
	if err != nil {
		return wcrypto.SecretKey{}, err
	}
	if err := os.WriteFile(path, pem, 0600); err != nil {
		return wcrypto.SecretKey{}, err
	}
	logrus.WithField("path", path).Info("weftd: generated new node identity")
	return sk, nil
}

// openLogProvider opens the sqlite-backed bucket log at path, or falls back
// to an in-memory log when path is empty (single-process testing/demo use).
func openLogProvider(path string) (bucketlog.LogProvider, error) {
	if path == "" {
		logrus.Warn("weftd: no sqlite path configured, bucket log will not survive a restart")
		return bucketlog.NewMemLogProvider(), nil
	}
	return bucketlog.OpenSQLiteLogProvider(path)
}
