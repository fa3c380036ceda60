// Command wsgate 运行实时会话网关
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/tokmz/wsgate"
	"github.com/tokmz/wsgate/middleware"
	"github.com/tokmz/wsgate/pkg/auth"
	"github.com/tokmz/wsgate/pkg/cache"
	"github.com/tokmz/wsgate/pkg/config"
	"github.com/tokmz/wsgate/pkg/events"
	"github.com/tokmz/wsgate/pkg/logger"
	"github.com/tokmz/wsgate/pkg/session"
	"github.com/tokmz/wsgate/pkg/store"
	"github.com/tokmz/wsgate/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to the config file (default: ./wsgate.yaml or /etc/wsgate/wsgate.yaml)")
	printConfig := flag.Bool("print-config", false, "print the effective configuration as YAML and exit")
	flag.Parse()

	if err := run(*configPath, *printConfig); err != nil {
		fmt.Fprintln(os.Stderr, "wsgate:", err)
		os.Exit(1)
	}
}

func run(configPath string, printOnly bool) error {
	cfg, app, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if printOnly {
		out, err := yaml.Marshal(app.redacted())
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	logCfg, err := app.Log.Build()
	if err != nil {
		return err
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	tp, err := tracing.NewProvider(ctx, &app.Tracing)
	if err != nil {
		return err
	}
	defer shutdownWithin(5*time.Second, tp.Shutdown)

	gw, err := newGateway(app, log)
	if err != nil {
		return err
	}
	defer gw.close()

	watchConfig(cfg, gw.manager, log)

	engine := wsgate.Default(
		wsgate.WithMode(app.Mode),
		wsgate.WithServer(app.Server),
		wsgate.WithShutdownTimeout(app.Shutdown),
		wsgate.WithLogger(log),
		wsgate.WithBeforeShutdown(func(ctx context.Context) {
			if err := gw.manager.Shutdown(ctx); err != nil {
				log.Warn("session shutdown incomplete", zap.Error(err))
			}
		}),
	)
	engine.Use(middleware.Tracing())

	mount := []wsgate.MountOption{
		wsgate.WithUpgradeMiddleware(middleware.RateLimiter(&middleware.RateLimiterConfig{
			Limiter: gw.limiter,
			Limit:   app.Upgrade.Limit,
			Window:  app.Upgrade.Window,
			Logger:  log,
		})),
	}
	if app.Gateway.CORS {
		mount = append(mount, wsgate.WithAdminMiddleware(middleware.CORS(&middleware.CORSConfig{
			Origins: gw.manager.Origins(),
		})))
	}
	wsgate.Mount(engine.RouterGroup(), gw.manager, app.Gateway, mount...)

	return engine.Run()
}

// gateway 会话管理器及其依赖，close 按创建的逆序释放
type gateway struct {
	manager *session.Manager
	limiter cache.Limiter
	closers []func() error
}

func newGateway(app AppConfig, log logger.Logger) (_ *gateway, err error) {
	gw := &gateway{}
	defer func() {
		if err != nil {
			gw.close()
		}
	}()

	gw.limiter, err = cache.New(&app.Limiter)
	if err != nil {
		return nil, err
	}
	gw.closers = append(gw.closers, gw.limiter.Close)

	revoked := auth.NewDenylist(uint(len(app.Auth.Revoked))+1024, 0.001)
	revoked.Revoke(app.Auth.Revoked...)
	authn, err := auth.NewJWTAuthenticator(app.Auth.JWTConfig, revoked)
	if err != nil {
		return nil, err
	}

	bus, err := newEventBus(app.Events, log)
	if err != nil {
		return nil, err
	}
	gw.closers = append(gw.closers, bus.Close)

	opts := []session.ManagerOption{
		session.WithAuthenticator(authn),
		session.WithLimiter(gw.limiter),
		session.WithEvents(bus),
		session.WithLogger(log),
	}

	if app.Store.Enabled {
		db, err := store.Open(&app.Store.Config, log)
		if err != nil {
			return nil, err
		}
		messages, err := store.NewMessageStore(db, app.Store.AutoMigrate)
		if err != nil {
			return nil, err
		}
		gw.closers = append(gw.closers, messages.Close)
		opts = append(opts,
			session.WithMessageStore(messageStore{db: messages}),
			session.WithHandlers(historyHandler{db: messages}),
		)
	}

	switch app.Agent.Mode {
	case "", "none":
	case "echo":
		opts = append(opts, session.WithAgentRunner(echoAgent{delay: 50 * time.Millisecond}))
	default:
		return nil, fmt.Errorf("unknown agent mode %q", app.Agent.Mode)
	}

	gw.manager, err = session.NewManager(&app.Session, opts...)
	if err != nil {
		return nil, err
	}
	return gw, nil
}

func (g *gateway) close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		_ = g.closers[i]()
	}
	g.closers = nil
}

func newEventBus(cfg EventsConfig, log logger.Logger) (*events.Bus, error) {
	bus := events.NewBus(cfg.Bus, log)
	bus.AddSink(events.NewLogSink(log))

	if cfg.Kafka != nil && len(cfg.Kafka.Brokers) > 0 {
		sink, err := events.NewKafkaSink(*cfg.Kafka)
		if err != nil {
			_ = bus.Close()
			return nil, err
		}
		bus.AddSink(sink)
	}
	if cfg.AMQP != nil && cfg.AMQP.URL != "" {
		sink, err := events.NewAMQPSink(*cfg.AMQP)
		if err != nil {
			_ = bus.Close()
			return nil, err
		}
		bus.AddSink(sink)
	}
	return bus, nil
}

// watchConfig 配置文件变更时热更新消息限额与日志级别，其他字段需重启生效
func watchConfig(cfg *config.Config, m *session.Manager, log logger.Logger) {
	cfg.OnChange(func() {
		next, err := decodeApp(cfg)
		if err != nil {
			log.Warn("config reload rejected", zap.Error(err))
			return
		}
		limits := next.Session.GuardConfig()
		m.Guard().UpdateLimits(limits)

		if level, err := logger.ParseLevel(next.Log.Level); err == nil {
			log.SetLevel(level)
		}
		log.Info("config reloaded",
			zap.Int("max_message_bytes", limits.MaxMessageBytes),
			zap.Int("rate_limit_per_minute", limits.RateLimitPerMinute),
			zap.Int("violation_threshold", limits.ViolationThreshold),
		)
	})
}

func shutdownWithin(d time.Duration, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	_ = fn(ctx)
}
