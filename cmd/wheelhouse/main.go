// Wheelhouse is a single-shot trading tool for Schwab accounts: each
// invocation runs exactly one mode and exits. Scheduling is left to cron.
//
// Usage:
//
//	wheelhouse -get-tokens
//	wheelhouse -get-account-hashes
//	wheelhouse -get-balance [-account-type brokerage]
//	wheelhouse -get-quote XYZ
//	wheelhouse -sell-call-options XYZ -percent-threshold 5
//	wheelhouse -range-trade XYZ
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"wheelhouse/internal/broker"
	"wheelhouse/internal/calendar"
	"wheelhouse/internal/config"
	"wheelhouse/internal/engine"
	"wheelhouse/internal/rangetable"
	"wheelhouse/internal/store"
	"wheelhouse/internal/util"
)

// options is the parsed CLI flag set.
type options struct {
	getTokens        bool
	getHashes        bool
	getBalance       bool
	accountType      string
	getQuote         string
	balanceHistory   bool
	quoteHistory     string
	historyDays      int
	sellCalls        string
	percentThreshold float64
	rangeTrade       string
	cfgPath          string
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	var o options
	fs.BoolVar(&o.getTokens, "get-tokens", false, "exchange the refresh token for a new token pair and exit")
	fs.BoolVar(&o.getHashes, "get-account-hashes", false, "print the account numbers and hashes and exit")
	fs.BoolVar(&o.getBalance, "get-balance", false, "record the account's liquidation value and exit")
	fs.StringVar(&o.accountType, "account-type", "brokerage", "account to operate on (brokerage, ira)")
	fs.StringVar(&o.getQuote, "get-quote", "", "record a quote snapshot for the given ticker and exit")
	fs.BoolVar(&o.balanceHistory, "balance-history", false, "print recorded balances for the account and exit")
	fs.StringVar(&o.quoteHistory, "quote-history", "", "print recorded quote snapshots for the given ticker and exit")
	fs.IntVar(&o.historyDays, "history-days", 30, "how many days back -balance-history and -quote-history reach")
	fs.StringVar(&o.sellCalls, "sell-call-options", "", "run one covered-call cycle for the given underlying")
	fs.Float64Var(&o.percentThreshold, "percent-threshold", 1.5, "percent below resistance at which call selling stops")
	fs.StringVar(&o.rangeTrade, "range-trade", "", "run one range-trading cycle for the given ticker")
	fs.StringVar(&o.cfgPath, "config", "", "path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return &o, nil
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	o, err := parseFlags(fs, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	path := o.cfgPath
	if path == "" {
		path = "config/wheelhouse.yaml"
		if p := os.Getenv("WHEELHOUSE_CONFIG"); p != "" {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level))

	ctx := context.Background()

	switch {
	case o.getTokens:
		err = refreshTokens(ctx, cfg)
	case o.getHashes:
		err = printAccountHashes(ctx, cfg, o.accountType)
	case o.getBalance:
		err = recordBalance(ctx, cfg, o.accountType)
	case o.getQuote != "":
		err = recordQuote(ctx, cfg, o.accountType, o.getQuote)
	case o.balanceHistory:
		err = printBalanceHistory(ctx, cfg, o.accountType, o.historyDays)
	case o.quoteHistory != "":
		err = printQuoteHistory(ctx, cfg, o.quoteHistory, o.historyDays)
	case o.sellCalls != "":
		err = runCallCycle(ctx, cfg, o.accountType, filepath.Dir(path), o.sellCalls, o.percentThreshold)
	case o.rangeTrade != "":
		err = runRangeCycle(ctx, cfg, o.accountType, filepath.Dir(path), o.rangeTrade)
	default:
		fs.Usage()
		os.Exit(2)
	}
	if errors.Is(err, engine.ErrMarketHoliday) {
		// Not a failure, but the cycle did nothing; cron wrappers key
		// off the exit status.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("error: %v", err)
	}
}

// client builds an authenticated Schwab client for the configured account
// using the persisted access token.
func client(cfg *config.Config, accountType string) (*broker.SchwabClient, error) {
	hash, err := cfg.AccountHash(accountType)
	if err != nil {
		return nil, err
	}
	tokens, err := config.LoadTokens(cfg.Schwab.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("loading tokens: %w", err)
	}
	return broker.NewSchwabClient(cfg.Schwab, hash, tokens.AccessToken), nil
}

// marketCalendar prefers the Alpaca trading calendar, falling back to plain
// weekday checks when no Alpaca credentials are configured.
func marketCalendar(cfg *config.Config) calendar.Calendar {
	if cfg.Alpaca.APIKey == "" {
		return calendar.NewStaticCalendar()
	}
	return calendar.NewAlpacaCalendar(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
}

func refreshTokens(ctx context.Context, cfg *config.Config) error {
	tokens, err := config.LoadTokens(cfg.Schwab.TokenFile)
	if err != nil {
		return fmt.Errorf("loading tokens: %w", err)
	}
	fresh, err := broker.RefreshTokens(ctx, cfg.Schwab, tokens.RefreshToken)
	if err != nil {
		return err
	}
	if err := config.SaveTokens(cfg.Schwab.TokenFile, fresh); err != nil {
		return err
	}
	fmt.Println("tokens refreshed")
	return nil
}

func printAccountHashes(ctx context.Context, cfg *config.Config, accountType string) error {
	c, err := client(cfg, accountType)
	if err != nil {
		return err
	}
	numbers, err := c.AccountNumbers(ctx)
	if err != nil {
		return err
	}
	fmt.Println(numbers)
	return nil
}

func recordBalance(ctx context.Context, cfg *config.Config, accountType string) error {
	c, err := client(cfg, accountType)
	if err != nil {
		return err
	}
	value, err := c.Balance(ctx)
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RecordBalance(ctx, accountType, time.Now(), value); err != nil {
		return err
	}
	fmt.Printf("%s balance: %.2f\n", accountType, value)
	return nil
}

func recordQuote(ctx context.Context, cfg *config.Config, accountType, symbol string) error {
	c, err := client(cfg, accountType)
	if err != nil {
		return err
	}
	quote, err := c.StockQuote(ctx, symbol)
	if err != nil {
		return err
	}

	resistance, err := store.NewResistanceFile(cfg.Storage.DataDir, symbol).Update(quote.High)
	if err != nil {
		return err
	}
	if err := store.NewParquetStore(cfg.Storage.DataDir).RecordQuote(ctx, quote, resistance, time.Now()); err != nil {
		return err
	}
	fmt.Printf("%s mid=%.3f high=%.3f low=%.3f resistance=%.3f\n",
		symbol, quote.Mid, quote.High, quote.Low, resistance)
	return nil
}

func printBalanceHistory(ctx context.Context, cfg *config.Config, accountType string, days int) error {
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.BalanceHistory(ctx, accountType, days)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s  %.2f\n", r.RecordedAt.Format("2006-01-02 15:04"), r.Value)
	}
	return nil
}

func printQuoteHistory(ctx context.Context, cfg *config.Config, symbol string, days int) error {
	end := time.Now()
	start := end.AddDate(0, 0, -days)

	snaps, err := store.NewParquetStore(cfg.Storage.DataDir).ReadQuotes(ctx, symbol, start, end)
	if err != nil {
		return err
	}
	for _, s := range snaps {
		fmt.Printf("%s  mid=%.3f high=%.3f low=%.3f resistance=%.3f\n",
			s.Timestamp.Format("2006-01-02 15:04"), s.Mid, s.High, s.Low, s.Resistance)
	}
	return nil
}

func runCallCycle(ctx context.Context, cfg *config.Config, accountType, cfgDir, underlying string, percentThreshold float64) error {
	settings, err := config.LoadCallSettings(filepath.Join(cfgDir, underlying+"_calls.yaml"))
	if err != nil {
		return err
	}
	c, err := client(cfg, accountType)
	if err != nil {
		return err
	}

	e := engine.NewOptionEngine(c, c, c, marketCalendar(cfg), settings,
		store.NewResistanceFile(cfg.Storage.DataDir, underlying),
		cfg.Storage.DataDir, underlying, percentThreshold)
	return e.RunCycle(ctx)
}

func runRangeCycle(ctx context.Context, cfg *config.Config, accountType, cfgDir, symbol string) error {
	table, err := rangetable.Load(filepath.Join(cfgDir, symbol+"_range.conf"))
	if err != nil {
		return err
	}
	c, err := client(cfg, accountType)
	if err != nil {
		return err
	}

	e := engine.NewRangeEngine(c, c, c, marketCalendar(cfg), table, symbol)
	return e.RunCycle(ctx)
}
