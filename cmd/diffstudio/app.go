package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"diffstudio/internal/config"
	"diffstudio/internal/device"
	"diffstudio/internal/history"
	"diffstudio/internal/manager"
	"diffstudio/internal/registry"
	"diffstudio/internal/studio"
	"diffstudio/internal/tensor"
)

// app is the assembled service: device pool, weights registry, swap cache,
// facade and optional history store.
type app struct {
	cfg      config.Config
	pool     *device.Pool
	registry *registry.Registry
	manager  *manager.Manager
	studio   *studio.Studio
	history  *history.Store
	log      zerolog.Logger
}

// studioOptions tweak assembly for one-shot commands.
type studioOptions struct {
	saver studio.Saver
}

func newApp(cfg config.Config, log zerolog.Logger, opts studioOptions) (*app, error) {
	prec, err := tensor.ParsePrecision(cfg.Precision)
	if err != nil {
		return nil, err
	}
	reg, err := registry.LoadDir(cfg.WeightsDir)
	if err != nil {
		return nil, fmt.Errorf("weights registry: %w", err)
	}
	pool := device.NewPool(cfg.Device, int64(cfg.VRAMBudgetMB)<<20, log)
	fam, err := studio.NewFamily(cfg.Family, studio.FamilyOptions{
		Pool:      pool,
		Reclaimer: device.GCReclaimer{Device: cfg.Device},
		Registry:  reg,
		Precision: prec,
		Log:       log,
	})
	if err != nil {
		return nil, err
	}
	mgr, err := manager.New(manager.Config{
		Family:        fam,
		Pool:          pool,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       time.Duration(cfg.MaxWaitMS) * time.Millisecond,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, pool: pool, registry: reg, manager: mgr, log: log}
	var rec studio.Recorder
	if cfg.HistoryDB != "" {
		if a.history, err = history.Open(cfg.HistoryDB); err != nil {
			return nil, err
		}
		rec = a.history
	}
	a.studio, err = studio.New(studio.Config{
		Manager:       mgr,
		MinibatchSize: cfg.MinibatchSize,
		Saver:         opts.saver,
		History:       rec,
		Logger:        log,
	})
	if err != nil {
		return nil, errors.Join(err, a.close(context.Background()))
	}
	budget := "unlimited"
	if cfg.VRAMBudgetMB > 0 {
		budget = humanize.IBytes(uint64(cfg.VRAMBudgetMB) << 20)
	}
	log.Info().Str("family", fam.Name).Str("policy", fam.Policy.String()).Bool("low_vram", fam.LowVRAM).
		Str("device", cfg.Device).Str("budget", budget).Str("precision", prec.String()).
		Int("weights", len(reg.List())).Msg("studio ready")
	return a, nil
}

// close drains the swap cache and closes the history store.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.manager.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
