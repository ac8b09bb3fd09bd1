// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/poolfi/poolfi/api"
	"github.com/poolfi/poolfi/kv"
	"github.com/poolfi/poolfi/log"
	"github.com/poolfi/poolfi/metrics"
	"github.com/poolfi/poolfi/protocol"
)

var (
	version   string
	gitCommit string
	logger    = log.WithContext("pkg", "main")
)

func fullVersion() string {
	if gitCommit == "" {
		return version + "-dev"
	}
	return fmt.Sprintf("%s-%s", version, gitCommit)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "poolfid",
		Usage:     "PoolFi liquid staking accounting daemon",
		Copyright: "2023 The PoolFi developers",
		Flags: []cli.Flag{
			configFlag,
			dataDirFlag,
			memFlag,
			apiAddrFlag,
			apiCorsFlag,
			verbosityFlag,
			enableMetricsFlag,
			metricsAddrFlag,
		},
		Action: defaultAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultAction(ctx *cli.Context) error {
	defer func() { logger.Info("exited") }()

	initLogger(ctx)

	cfg, err := loadConfig(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}
	opts, err := cfg.protocolOptions()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { logger.Info("closing main database..."); store.Close() }()

	p, err := protocol.New(store, opts)
	if err != nil {
		return err
	}

	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
		stopMetrics, err := startMetricsServer(ctx.String(metricsAddrFlag.Name))
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	apiAddr := ctx.String(apiAddrFlag.Name)
	if cfg.API.Addr != "" {
		apiAddr = cfg.API.Addr
	}
	cors := ctx.String(apiCorsFlag.Name)
	if cfg.API.CORS != "" {
		cors = cfg.API.CORS
	}
	stopAPI, apiURL, err := startAPIServer(apiAddr, api.New(p, cors))
	if err != nil {
		return err
	}
	defer func() { logger.Info("stopping API server..."); stopAPI() }()

	logger.Info("poolfid started", "version", fullVersion(), "api", apiURL)
	<-handleExitSignal()
	return nil
}

func initLogger(ctx *cli.Context) {
	level := log.VerbosityToLevel(ctx.Int(verbosityFlag.Name))
	log.SetRootHandler(log.NewTextHandler(os.Stderr, level))
}

func openStore(ctx *cli.Context, cfg *Config) (kv.GetPutCloser, error) {
	if ctx.Bool(memFlag.Name) {
		return kv.NewMem()
	}
	dataDir := ctx.String(dataDirFlag.Name)
	if cfg.DataDir != "" {
		dataDir = cfg.DataDir
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}
	return kv.New(filepath.Join(dataDir, "main.db"), 128)
}

func startAPIServer(addr string, handler http.Handler) (stop func(), url string, err error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}
	srv := &http.Server{Handler: handler}
	go func() {
		if err := srv.Serve(listener); err != http.ErrServerClosed {
			logger.Error("api server", "err", err)
		}
	}()
	stop = func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
	return stop, "http://" + listener.Addr().String() + "/poolfi", nil
}

func startMetricsServer(addr string) (stop func(), err error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: metrics.HTTPHandler()}
	go func() {
		if err := srv.Serve(listener); err != http.ErrServerClosed {
			logger.Error("metrics server", "err", err)
		}
	}()
	logger.Info("metrics server started", "addr", listener.Addr().String())
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}, nil
}

func handleExitSignal() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigs
		logger.Info("exit signal received", "signal", sig)
		close(done)
	}()
	return done
}
