package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitpredicate/params"
	"github.com/uhyunpark/limitpredicate/pkg/api"
	"github.com/uhyunpark/limitpredicate/pkg/ledger"
	"github.com/uhyunpark/limitpredicate/pkg/predicate"
	"github.com/uhyunpark/limitpredicate/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Ledger ----
	vm := predicate.NewVM()
	vm.MaxDecimals = cfg.Orders.MaxDecimals

	l, err := ledger.Open(ledger.Options{
		Path:    cfg.Ledger.DBPath,
		Latency: cfg.Ledger.Latency,
		Clock:   util.RealClock{},
		VM:      vm,
	})
	if err != nil {
		sugar.Fatalw("ledger_open_failed", "path", cfg.Ledger.DBPath, "err", err)
	}
	defer l.Close()
	l.Logger = sugar

	if !common.IsHexAddress(cfg.Ledger.ProxyAddress) {
		sugar.Fatalw("invalid_proxy_address", "proxy", cfg.Ledger.ProxyAddress)
	}
	proxyAddr := common.HexToAddress(cfg.Ledger.ProxyAddress)
	l.AuthorizeProxy(proxyAddr)

	sugar.Infow("node_starting",
		"db_path", cfg.Ledger.DBPath,
		"in_memory", cfg.Ledger.DBPath == "",
		"latency_ms", cfg.Ledger.Latency.Milliseconds(),
		"proxy", proxyAddr.Hex(),
		"max_decimals", cfg.Orders.MaxDecimals,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(l, sugar)
	l.OnCommit = apiServer.HandleEvent

	if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
		sugar.Errorw("api_server_failed", "addr", cfg.Node.APIAddr, "err", err)
		return
	}
	sugar.Info("node_stopped")
}
