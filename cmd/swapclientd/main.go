// Package main provides swapclientd, the swap client daemon and CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/klingon-exchange/swapclient/internal/backend"
	"github.com/klingon-exchange/swapclient/internal/chain"
	"github.com/klingon-exchange/swapclient/internal/claim"
	"github.com/klingon-exchange/swapclient/internal/config"
	"github.com/klingon-exchange/swapclient/internal/coordinator"
	"github.com/klingon-exchange/swapclient/internal/quote"
	"github.com/klingon-exchange/swapclient/internal/rpc"
	"github.com/klingon-exchange/swapclient/internal/secret"
	"github.com/klingon-exchange/swapclient/internal/service"
	"github.com/klingon-exchange/swapclient/internal/storage"
	"github.com/klingon-exchange/swapclient/internal/swap"
	"github.com/klingon-exchange/swapclient/internal/watcher"
	"github.com/klingon-exchange/swapclient/pkg/helpers"
	"github.com/klingon-exchange/swapclient/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

const usage = `usage: swapclientd [flags] <command> [args]

commands:
  run          watch swaps, auto-claim and report refunds (default)
  quote        derive the other side of a swap from a quote
  create       open a swap
  status       show a stored swap
  list         list stored swaps
  refund       check or broadcast a refund
  retry-claim  retry a claim after automatic retries gave up
  mnemonic     generate or import the swap key mnemonic
`

type app struct {
	cfg   *config.Config
	log   *logging.Logger
	store *storage.Storage
	keys  *secret.KeyManager
	svc   *service.Service
}

func main() {
	var (
		dataDir     = flag.String("data-dir", config.DefaultDataDir, "Data directory")
		network     = flag.String("network", "", "Network (mainnet, testnet, regtest), overrides config")
		coordURL    = flag.String("coordinator", "", "Coordinator URL, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		apiAddr     = flag.String("api", "", "JSON-RPC listen address for run, overrides config (\"off\" disables)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("swapclientd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}
	if *network != "" {
		n, err := chain.ParseNetwork(*network)
		if err != nil {
			log.Fatal("Invalid network", "error", err)
		}
		cfg.Network = n
	}
	if *coordURL != "" {
		cfg.Coordinator.URL = *coordURL
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	switch *apiAddr {
	case "":
	case "off":
		cfg.RPC.Listen = ""
	default:
		cfg.RPC.Listen = *apiAddr
	}
	cfg.Storage.DataDir = *dataDir
	if cfg.Network != chain.Mainnet {
		cfg.Storage.DataDir = filepath.Join(*dataDir, string(cfg.Network))
	}

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	a, err := newApp(cfg, log)
	if err != nil {
		log.Fatal("Failed to start", "error", err)
	}
	defer a.close()

	cmd, args := "run", []string(nil)
	if flag.NArg() > 0 {
		cmd, args = flag.Arg(0), flag.Args()[1:]
	}

	switch cmd {
	case "run":
		err = a.run()
	case "quote":
		err = a.quote(args)
	case "create":
		err = a.create(args)
	case "status":
		err = a.status(args)
	case "list":
		err = a.list(args)
	case "refund":
		err = a.refund(args)
	case "retry-claim":
		err = a.retryClaim(args)
	case "mnemonic":
		err = a.mnemonic(args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		a.close()
		log.Fatal("Command failed", "command", cmd, "error", err)
	}
}

func newApp(cfg *config.Config, log *logging.Logger) (*app, error) {
	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir, WalletID: cfg.WalletID})
	if err != nil {
		return nil, err
	}

	opts := []secret.Option{secret.WithNetwork(cfg.Network)}
	if pass := cfg.Passphrase(); pass != "" {
		opts = append(opts, secret.WithSealer(secret.NewSealer(pass)))
	}
	keys := secret.NewKeyManager(store, opts...)

	coord := coordinator.New(coordinator.Config{
		URL:     cfg.Coordinator.URL,
		WSURL:   cfg.Coordinator.WSURL,
		Timeout: cfg.Coordinator.Timeout,
	})

	explorer, err := backend.New(cfg.Bitcoin, cfg.Network)
	if err != nil {
		if !errors.Is(err, backend.ErrDisabled) {
			store.Close()
			return nil, err
		}
		log.Warn("No block explorer, refunds rely on coordinator data", "network", cfg.Network)
		explorer = nil
	}

	claimCfg := claim.DefaultConfig()
	claimCfg.MaxRetries = cfg.Claim.MaxRetries
	claimCfg.BackoffUnit = cfg.Claim.BackoffUnit

	svc := service.New(&service.Config{
		Network:            cfg.Network,
		Coordinator:        coord,
		Chain:              explorer,
		Storage:            store,
		Keys:               keys,
		Claim:              claimCfg,
		Watcher:            watcher.Config{PollInterval: cfg.Watcher.PollInterval},
		MaxProtocolFeeRate: cfg.Quote.MaxProtocolFeeRate,
	})

	return &app{cfg: cfg, log: log, store: store, keys: keys, svc: svc}, nil
}

func (a *app) close() {
	a.svc.Close()
	a.store.Close()
}

func (a *app) run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	evLog := a.log.Component("events")
	a.svc.OnEvent(func(e service.Event) {
		evLog.Info(e.Type, "swap_id", e.SwapID, "status", e.Status, "data", e.Data)
	})

	var api *rpc.Server
	if a.cfg.RPC.Listen != "" {
		api = rpc.NewServer(a.svc)
		if err := api.Start(a.cfg.RPC.Listen); err != nil {
			return fmt.Errorf("start rpc server: %w", err)
		}
	}

	a.printBanner()
	err := a.svc.Run(ctx)
	if api != nil {
		if stopErr := api.Stop(); stopErr != nil {
			a.log.Warn("Failed to stop RPC server", "error", stopErr)
		}
	}
	if err != nil {
		return err
	}
	a.log.Info("Goodbye!")
	return nil
}

func (a *app) printBanner() {
	a.log.Info("")
	a.log.Info("=================================================")
	a.log.Infof("  Swap client (%s)", a.cfg.Network)
	a.log.Infof("  Version: %s", version)
	a.log.Info("=================================================")
	a.log.Infof("  Coordinator: %s", a.cfg.Coordinator.URL)
	a.log.Infof("  Data dir: %s", a.cfg.Storage.DataDir)
	a.log.Infof("  Wallet: %s", a.cfg.WalletID)
	if a.cfg.RPC.Listen != "" {
		a.log.Infof("  API: http://%s", a.cfg.RPC.Listen)
	}
	a.log.Info("=================================================")
	a.log.Info("")
}

// parseAmounts resolves the assets of a swap and parses amount as the side
// given.
func parseAmounts(from, to, side, amount string) (chain.Asset, chain.Asset, quote.Side, *big.Int, error) {
	src, err := chain.ParseAsset(from)
	if err != nil {
		return chain.Asset{}, chain.Asset{}, 0, nil, err
	}
	tgt, err := chain.ParseAsset(to)
	if err != nil {
		return chain.Asset{}, chain.Asset{}, 0, nil, err
	}

	s := quote.SideSource
	decimals := src.Decimals
	switch side {
	case "source", "":
	case "target":
		s = quote.SideTarget
		decimals = tgt.Decimals
	default:
		return chain.Asset{}, chain.Asset{}, 0, nil, fmt.Errorf("side must be source or target, got %q", side)
	}

	amt, err := helpers.ParseUnits(amount, decimals)
	if err != nil {
		return chain.Asset{}, chain.Asset{}, 0, nil, fmt.Errorf("invalid amount: %w", err)
	}
	return src, tgt, s, amt, nil
}

func formatAmount(asset chain.Asset, amt *big.Int) string {
	if amt == nil {
		return "-"
	}
	if asset.IsBTC() && amt.IsInt64() {
		return btcutil.Amount(amt.Int64()).String()
	}
	return helpers.FormatUnits(amt, asset.Decimals) + " " + asset.Symbol
}

func (a *app) quote(args []string) error {
	fs := flag.NewFlagSet("quote", flag.ExitOnError)
	from := fs.String("from", "btc", "Source asset")
	to := fs.String("to", "", "Target asset, e.g. usdc@polygon")
	side := fs.String("side", "source", "Side the amount is given for (source or target)")
	amount := fs.String("amount", "", "Amount in whole units")
	fs.Parse(args)

	src, tgt, s, amt, err := parseAmounts(*from, *to, *side, *amount)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Coordinator.Timeout)
	defer cancel()

	d, err := a.svc.Quote(ctx, src, tgt, s, amt)
	if err != nil {
		return err
	}
	fmt.Printf("send:    %s\n", formatAmount(src, d.SourceAmount))
	fmt.Printf("receive: %s\n", formatAmount(tgt, d.TargetAmount))
	fmt.Printf("rate:    %g\n", d.Quote.ExchangeRate)
	return nil
}

func (a *app) create(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	from := fs.String("from", "btc", "Source asset")
	to := fs.String("to", "", "Target asset, e.g. usdc@polygon")
	side := fs.String("side", "source", "Side the amount is given for (source or target)")
	amount := fs.String("amount", "", "Amount in whole units")
	claimAddr := fs.String("claim-address", "", "Address receiving the target asset")
	refundAddr := fs.String("refund-address", "", "Address receiving a refund of the source asset")
	invoice := fs.String("invoice", "", "Lightning invoice, when the target is lightning")
	fs.Parse(args)

	src, tgt, s, amt, err := parseAmounts(*from, *to, *side, *amount)
	if err != nil {
		return err
	}
	req := &service.CreateRequest{
		Source:        src,
		Target:        tgt,
		ClaimAddress:  *claimAddr,
		RefundAddress: *refundAddr,
		Invoice:       *invoice,
	}
	if s == quote.SideTarget {
		req.TargetAmount = amt
	} else {
		req.SourceAmount = amt
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Coordinator.Timeout)
	defer cancel()

	rec, err := a.svc.CreateSwap(ctx, req)
	if err != nil {
		return err
	}
	printRecord(rec)
	return nil
}

func printRecord(rec *swap.Record) {
	fmt.Printf("id:        %s\n", rec.ID)
	fmt.Printf("direction: %s\n", rec.Direction)
	fmt.Printf("status:    %s\n", rec.Status)
	fmt.Printf("send:      %s\n", formatAmount(rec.SourceAsset, rec.SourceAmount))
	fmt.Printf("receive:   %s\n", formatAmount(rec.TargetAsset, rec.TargetAmount))
	fmt.Printf("hash lock: %s\n", rec.HashLock)
	if at := rec.Locktimes.RefundAt(); !at.IsZero() {
		fmt.Printf("refund at: %s\n", at.Local().Format(time.RFC1123))
	}
}

func (a *app) status(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "Swap id")
	fs.Parse(args)

	rec, err := a.svc.GetSwap(*id)
	if err != nil {
		return err
	}
	printRecord(rec)
	state, retries := a.svc.ClaimState(rec.ID)
	fmt.Printf("claim:     %s (retries %d)\n", state, retries)
	return nil
}

func (a *app) list(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	active := fs.Bool("active", false, "Only swaps that are not finished")
	limit := fs.Int("limit", 20, "Maximum number of swaps")
	fs.Parse(args)

	recs, err := a.svc.ListSwaps(*limit, *active)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		fmt.Printf("%s  %-18s %-28s %s -> %s\n", rec.ID, rec.Direction, rec.Status,
			formatAmount(rec.SourceAsset, rec.SourceAmount),
			formatAmount(rec.TargetAsset, rec.TargetAmount))
	}
	return nil
}

func (a *app) refund(args []string) error {
	fs := flag.NewFlagSet("refund", flag.ExitOnError)
	id := fs.String("id", "", "Swap id")
	addr := fs.String("address", "", "Refund address (default: the one given at creation)")
	check := fs.Bool("check", false, "Only report whether the refund is possible")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Coordinator.Timeout)
	defer cancel()

	if *check {
		res, err := a.svc.CheckRefund(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Println(res)
		return nil
	}
	txID, err := a.svc.Refund(ctx, *id, *addr)
	if err != nil {
		return err
	}
	fmt.Printf("refund broadcast: %s\n", txID)
	return nil
}

func (a *app) retryClaim(args []string) error {
	fs := flag.NewFlagSet("retry-claim", flag.ExitOnError)
	id := fs.String("id", "", "Swap id")
	fs.Parse(args)

	done := make(chan service.Event, 1)
	a.svc.OnEvent(func(e service.Event) {
		if e.SwapID != *id {
			return
		}
		if e.Type == service.EventClaimed || e.Type == service.EventClaimExhausted {
			select {
			case done <- e:
			default:
			}
		}
	})

	if err := a.svc.RetryClaim(*id); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	select {
	case e := <-done:
		if e.Type == service.EventClaimExhausted {
			return fmt.Errorf("%w: %v", claim.ErrClaimExhausted, e.Data["error"])
		}
		fmt.Println("claim broadcast")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *app) mnemonic(args []string) error {
	fs := flag.NewFlagSet("mnemonic", flag.ExitOnError)
	words := fs.String("import", "", "Import this mnemonic instead of generating one")
	passphrase := fs.String("passphrase", "", "Optional BIP-39 passphrase")
	fs.Parse(args)

	m := *words
	if m == "" {
		var err error
		if m, err = secret.GenerateMnemonic(); err != nil {
			return err
		}
		fmt.Println("Write down this mnemonic, it is the only backup of your swap key:")
		fmt.Println(m)
	}
	kp, err := a.keys.ImportMnemonic(m, *passphrase)
	if err != nil {
		return err
	}
	fmt.Printf("public key:  %s\n", kp.PublicKeyHex())
	fmt.Printf("evm address: %s\n", kp.EVMAddress().Hex())
	return nil
}
