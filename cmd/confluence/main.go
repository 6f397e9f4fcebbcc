package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"confluence/internal/app"
	"confluence/internal/config"
	"confluence/internal/logger"
	"confluence/internal/market"
	"confluence/internal/pkg/symbol"
)

const usage = `usage: confluence [-config path] <command> [args]

commands:
  run                                   live loop: step every instrument on each closed candle
  replay                                replay data.from..data.to and print a summary
  import <instrument> <timeframe> <csv> load candles into the candle store
  schema                                print the feature schema document (YAML)
`

var errUsage = errors.New("unknown command")

func main() {
	cfgPath := flag.String("config", config.DefaultPath(), "config file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		args = []string{"run"}
	}

	if err := run(*cfgPath, args); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		log.Fatalf("%s 失败: %v", args[0], err)
	}
}

// run 负责日志文件的整个生命周期；返回后日志已回到标准输出。
func run(cfgPath string, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	closeLogs, err := setupLogging(cfg.App)
	defer closeLogs()
	if err != nil {
		return fmt.Errorf("初始化日志文件失败: %w", err)
	}
	logger.Infof("✓ 配置加载成功（环境=%s，策略=%s）", cfg.App.Env, cfg.Strategy.Tag())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "run":
		return runLive(ctx, cfg)
	case "replay":
		return runReplay(ctx, cfg)
	case "import":
		return runImport(ctx, cfg, args[1:])
	case "schema":
		return runSchema(cfg, os.Stdout)
	default:
		return fmt.Errorf("%q: %w", args[0], errUsage)
	}
}

func runLive(ctx context.Context, cfg *config.Config) error {
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(ctx)
}

func runReplay(ctx context.Context, cfg *config.Config) error {
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Summary != nil {
		a.Summary.Print(os.Stdout)
	}
	sum, err := a.Replay(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return err
	}
	if failed := sum.Failed(); len(failed) > 0 {
		return fmt.Errorf("replay failed for %s", strings.Join(failed, ","))
	}
	return nil
}

func runImport(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("import expects <instrument> <timeframe> <file.csv>")
	}
	inst, tf, path := symbol.Normalize(args[0]), strings.TrimSpace(args[1]), args[2]
	if !config.IsValidInterval(tf) {
		return fmt.Errorf("invalid timeframe: %s", tf)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	candles, err := market.ParseCSV(f)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	s, err := market.NewStore(cfg.Data.Root)
	if err != nil {
		return err
	}
	defer s.Close()
	n, err := s.InsertCandles(ctx, inst, tf, candles)
	if err != nil {
		return err
	}
	m, err := s.Manifest(ctx, inst, tf)
	if err != nil {
		return err
	}
	logger.Infof("✓ imported %d candles into %s@%s (rows=%d, %s .. %s)", n, inst, tf, m.Rows,
		time.UnixMilli(m.MinTime).UTC().Format(time.RFC3339), time.UnixMilli(m.MaxTime).UTC().Format(time.RFC3339))
	return nil
}

func runSchema(cfg *config.Config, w io.Writer) error {
	deps, err := app.BuildDeps(cfg)
	if err != nil {
		return err
	}
	doc, err := deps.Normalizer.Schema().Export(deps.Strategy, deps.Normalizer.Producers(), time.Now())
	if err != nil {
		return err
	}
	_, err = w.Write(doc)
	return err
}

// setupLogging 把日志同时写到 stdout 与配置的日志文件，审计日志单独成文件。
func setupLogging(cfg config.AppConfig) (func(), error) {
	logger.SetLevel(cfg.LogLevel)
	var files []*os.File
	closeAll := func() {
		if len(files) == 0 {
			return
		}
		log.SetOutput(os.Stderr)
		logger.SetOutput(os.Stdout)
		logger.SetAuditWriter(nil)
		for _, f := range files {
			_ = f.Close()
		}
		files = nil
	}
	if f, err := openLogFile(cfg.LogPath); err != nil {
		return closeAll, err
	} else if f != nil {
		files = append(files, f)
		mw := io.MultiWriter(os.Stdout, f)
		log.SetOutput(mw)
		logger.SetOutput(mw)
	}
	if cfg.AuditEnabled {
		f, err := openLogFile(cfg.AuditLogPath)
		if err != nil {
			return closeAll, err
		}
		if f != nil {
			files = append(files, f)
			logger.SetAuditWriter(f)
		}
	}
	return closeAll, nil
}

func openLogFile(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if dir := filepath.Dir(trimmed); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
