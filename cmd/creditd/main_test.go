package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/videocredits/pkg/ledger"
)

func mustAccountID(test *testing.T, raw string) ledger.AccountID {
	test.Helper()
	accountID, err := ledger.NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return accountID
}

func TestLoadConfig(test *testing.T) {
	testCases := []struct {
		name        string
		args        map[string]string
		wantErr     string
		wantDriver  string
		wantVerify  bool
		wantWorkers int
	}{
		{name: "defaults", wantDriver: storeDriverGORM, wantVerify: true, wantWorkers: defaultRefundWorkers},
		{name: "pgx without consistency", args: map[string]string{flagStoreDriver: "PGX", flagVerifyConsistency: "false", flagRefundWorkers: "0"}, wantDriver: storeDriverPGX, wantVerify: false, wantWorkers: 0},
		{name: "unknown driver", args: map[string]string{flagStoreDriver: "sqlx"}, wantErr: flagStoreDriver},
		{name: "negative workers", args: map[string]string{flagRefundWorkers: "-1"}, wantErr: flagRefundWorkers},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			cmd := newRootCommand()
			arguments := make([]string, 0, len(testCase.args))
			for name, value := range testCase.args {
				arguments = append(arguments, "--"+name+"="+value)
			}
			if err := cmd.ParseFlags(arguments); err != nil {
				test.Fatalf("parse flags: %v", err)
			}
			cfg := &runtimeConfig{}
			err := loadConfig(cmd, cfg)
			if testCase.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
					test.Fatalf("expected error mentioning %q, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("load config: %v", err)
			}
			if cfg.StoreDriver != testCase.wantDriver || cfg.VerifyConsistency != testCase.wantVerify || cfg.RefundWorkers != testCase.wantWorkers {
				test.Fatalf("unexpected config: %+v", cfg)
			}
			if cfg.DatabaseURL != defaultDatabaseURL || cfg.ListenAddr != defaultGRPCListenAddr {
				test.Fatalf("unexpected defaults: %+v", cfg)
			}
		})
	}
}

func TestMigrateAndVerifyOnSQLite(test *testing.T) {
	ctx := context.Background()
	cfg := &runtimeConfig{
		DatabaseURL:       filepath.Join(test.TempDir(), "credits.db"),
		StoreDriver:       storeDriverGORM,
		VerifyConsistency: true,
	}
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		test.Fatalf("open backend: %v", err)
	}
	defer backend.Close()
	if backend.pool != nil {
		test.Fatalf("sqlite backend must not open a pgx pool")
	}
	if _, err := backend.migrate(ctx); err != nil {
		test.Fatalf("migrate: %v", err)
	}

	creditService, err := newLedgerService(backend, cfg, nil)
	if err == nil {
		_, err = creditService.OpenAccount(ctx, mustAccountID(test, "user-1"))
	}
	if err != nil {
		test.Fatalf("open account: %v", err)
	}
	if err := verifyAccounts(ctx, creditService, []string{"user-1"}); err != nil {
		test.Fatalf("verify: %v", err)
	}
	if err := verifyAccounts(ctx, creditService, []string{"user-1", "ghost", " "}); err == nil || !strings.Contains(err.Error(), "2 of 3") {
		test.Fatalf("expected two failures, got %v", err)
	}
}

func TestPGXDriverRequiresPostgres(test *testing.T) {
	cfg := &runtimeConfig{DatabaseURL: filepath.Join(test.TempDir(), "credits.db"), StoreDriver: storeDriverPGX}
	if _, err := openBackend(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "PostgreSQL") {
		test.Fatalf("expected postgres requirement, got %v", err)
	}
}
