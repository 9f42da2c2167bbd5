// main.go - Shielded pool daemon.
//
// Runs the pool service: a BadgerDB-backed commitment accumulator and
// nullifier ledger behind the REST API, with Groth16 verification of
// withdrawal and absorption proofs.
//
// Usage:
//
//	poold keygen            generate the Groth16 key pairs
//	poold run               start the daemon
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"shieldedpool/internal/api"
	"shieldedpool/internal/circuits/absorption"
	"shieldedpool/internal/circuits/withdrawal"
	"shieldedpool/internal/pool"
	"shieldedpool/internal/storage/badgerstore"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "poold",
		Short: "Shielded value pool daemon",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "poold.json", "path to the configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the pool service",
		RunE:  runDaemon,
	})
	root.AddCommand(&cobra.Command{
		Use:   "keygen",
		Short: "Compile the circuits and generate Groth16 key pairs",
		RunE:  runKeygen,
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func keyPaths(keyDir, name string) (pkPath, vkPath string) {
	return filepath.Join(keyDir, name+"_proving.key"), filepath.Join(keyDir, name+"_verifying.key")
}

// loadVerifiers compiles both circuits and loads (or generates) their
// keys, returning the verification oracles the pool consumes.
func loadVerifiers(cfg *Config, log zerolog.Logger) (pool.Verifier, pool.BatchVerifier, error) {
	if err := os.MkdirAll(cfg.KeyDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create key directory: %w", err)
	}

	log.Info().Msg("compiling withdrawal circuit")
	wCCS, err := withdrawal.Compile()
	if err != nil {
		return nil, nil, err
	}
	wPK, wVK := keyPaths(cfg.KeyDir, "withdrawal")
	_, vk, err := withdrawal.SetupOrLoadKeys(wCCS, wPK, wVK)
	if err != nil {
		return nil, nil, fmt.Errorf("withdrawal keys: %w", err)
	}

	log.Info().Int("batch_size", cfg.AbsorptionBatchSize).Msg("compiling absorption circuit")
	aCCS, err := absorption.Compile(cfg.AbsorptionBatchSize)
	if err != nil {
		return nil, nil, err
	}
	aPK, aVK := keyPaths(cfg.KeyDir, fmt.Sprintf("absorption_%d", cfg.AbsorptionBatchSize))
	_, avk, err := absorption.SetupOrLoadKeys(aCCS, aPK, aVK)
	if err != nil {
		return nil, nil, fmt.Errorf("absorption keys: %w", err)
	}

	return withdrawal.NewGroth16Verifier(vk),
		absorption.NewGroth16BatchVerifier(avk, cfg.AbsorptionBatchSize), nil
}

func runKeygen(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	if _, _, err := loadVerifiers(cfg, log); err != nil {
		return err
	}
	log.Info().Str("key_dir", cfg.KeyDir).Msg("keys ready")
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	verifier, batchVerifier, err := loadVerifiers(cfg, log)
	if err != nil {
		return err
	}

	store, err := badgerstore.Open(filepath.Join(cfg.DataDir, "pool"), log)
	if err != nil {
		return err
	}
	defer store.Close()

	poolCfg, err := cfg.poolConfig()
	if err != nil {
		return err
	}
	p, err := pool.NewPool(poolCfg, store, pool.NewMemoryCustody(), verifier, batchVerifier, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(p, log, prometheus.DefaultRegisterer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("pool service listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
