package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/o2o/erpsync/internal/bootstrap"
	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/domain/numbering"
	"github.com/o2o/erpsync/internal/infrastructure/config"
	"github.com/o2o/erpsync/internal/infrastructure/logger"
)

// Exit codes let shell callers tell a bad request from an unreachable store.
const (
	exitFailed      = 1
	exitInvalid     = 2
	exitUnavailable = 3
)

func main() {
	var (
		prefix   string
		fy       string
		date     string
		fallback bool
		asJSON   bool
		timeout  time.Duration
	)
	flag.StringVar(&prefix, "prefix", "", "Invoice prefix (default: numbering.prefix)")
	flag.StringVar(&fy, "fy", "", "Financial year as YY-YY (default: derived from -date)")
	flag.StringVar(&date, "date", "", "Posting date as YYYY-MM-DD (default: today)")
	flag.BoolVar(&fallback, "fallback", false, "Print a provisional name when the store is unreachable")
	flag.BoolVar(&asJSON, "json", false, "Print the allocation as JSON")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(exitFailed)
	}
	// stdout carries the allocated code
	cfg.Log.Output = "stderr"
	log, err := bootstrap.Logger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(exitFailed)
	}
	defer logger.Sync(log)

	if fy == "" {
		day := time.Now()
		if date != "" {
			if day, err = time.Parse(time.DateOnly, date); err != nil {
				log.Error("Invalid -date", zap.String("date", date), zap.Error(err))
				os.Exit(exitInvalid)
			}
		}
		fy = numbering.FiscalYearOf(day).String()
	}
	if prefix == "" {
		prefix = cfg.Numbering.Prefix
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	alloc, err := allocate(ctx, cfg, log, prefix, fy, fallback)
	if err != nil {
		log.Error("Allocation failed", zap.String("prefix", prefix), zap.String("financial_year", fy), zap.Error(err))
		os.Exit(exitCode(err))
	}

	if asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(alloc)
	} else {
		fmt.Println(alloc.Code)
	}
	if alloc.Fallback {
		fmt.Fprintln(os.Stderr, "warning:", alloc.Warning)
	}
}

func allocate(ctx context.Context, cfg *config.Config, log *zap.Logger, prefix, fy string, fallback bool) (*numbering.Allocation, error) {
	// Reject bad input before any connection is attempted
	if _, err := numbering.NewCounterKey(prefix, fy); err != nil {
		return nil, err
	}

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		if fallback && cfg.Numbering.AllowFallback && errors.Is(err, numbering.ErrStoreUnavailable) {
			key, _ := numbering.NewCounterKey(prefix, fy)
			fb := numbering.NewFallbackNamer(cfg.Numbering.FallbackMarker).Name(key, err)
			return &fb, nil
		}
		return nil, err
	}
	defer store.Close()

	erp, err := bootstrap.ERPNextClient(cfg, log)
	if err != nil {
		return nil, err
	}
	var gateway integration.PurchaseInvoiceGateway
	if erp != nil {
		gateway = erp
	}

	allocator := bootstrap.Allocator(cfg, store, gateway, log)
	if fallback {
		return allocator.AllocateOrFallback(ctx, prefix, fy)
	}
	return allocator.Allocate(ctx, prefix, fy)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, numbering.ErrInvalidInput):
		return exitInvalid
	case errors.Is(err, numbering.ErrStoreUnavailable):
		return exitUnavailable
	default:
		return exitFailed
	}
}
