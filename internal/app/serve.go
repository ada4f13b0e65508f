package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"jobloop/internal/config"
	"jobloop/internal/errs"
	"jobloop/internal/metrics"
	"jobloop/internal/runtime/supervisor"
	"jobloop/pkg/logx"
)

const stopTimeout = 10 * time.Second

// Serve runs body as the process's main loop. Around it Serve keeps the
// metrics listener, the config watcher and the systemd notifications. It
// returns body's error; a plain stop request is not an error.
func (a *App) Serve(ctx context.Context, name string, body func(ctx context.Context) error) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "app"))))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := sup.Stop(stopCtx); err != nil {
			a.log.Warn("app.stop_incomplete", logx.Err(err))
		}
	}()

	srv := metrics.NewServer(a.metrics, a.log)
	if err := srv.Apply(sup.Context(), metricsConfig(a.settings.Metrics)); err != nil {
		return errs.Resource("metrics.listen", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		srv.Stop(stopCtx)
	}()

	if a.cfgm.Path() != "" {
		updates := a.cfgm.Subscribe(4)
		sup.Go("config.watch", a.cfgm.Watch)
		sup.Go("config.apply", func(ctx context.Context) error {
			defer a.cfgm.Unsubscribe(updates)
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg, ok := <-updates:
					if !ok {
						return nil
					}
					a.applyReload(ctx, cfg, srv)
				}
			}
		})
	}

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app.started", logx.String("mode", name), logx.String("driver", a.settings.Backend.Driver))
	err := body(sup.Context())
	a.notify(daemon.SdNotifyStopping)
	if isStop(err) {
		a.log.Info("app.stopped", logx.String("mode", name))
		return nil
	}
	a.log.Error("app.failed", logx.String("mode", name), logx.Err(err))
	return err
}

// applyReload re-applies the settings that can change at runtime: logging
// and the metrics listener. Everything else needs a restart.
func (a *App) applyReload(ctx context.Context, cfg *config.Config, srv *metrics.Server) {
	s, err := config.Resolve(cfg, a.env)
	if err != nil {
		a.log.Warn("config.rejected", logx.Err(err))
		return
	}
	if a.logs != nil {
		a.logs.Apply(s.Logging)
	}
	if err := srv.Apply(ctx, metricsConfig(s.Metrics)); err != nil {
		a.log.Warn("metrics.apply_failed", logx.Err(err))
	}
	if s.Backend != a.fileBack {
		a.log.Warn("config.restart_required", logx.String("section", "backend"))
	}
	a.fileBack = s.Backend
}

func (a *App) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Debug("systemd.notify_failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("systemd.notified", logx.String("state", state))
	}
}

func metricsConfig(c config.MetricsConfig) metrics.ServerConfig {
	return metrics.ServerConfig{Enabled: c.Enabled, Addr: c.Addr}
}
