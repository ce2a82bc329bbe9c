package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	httpApp "github.com/oxygenesis/enrollment/internal/app/http"
	"github.com/oxygenesis/enrollment/internal/config"
	"github.com/oxygenesis/enrollment/internal/domain"
	"github.com/oxygenesis/enrollment/internal/keys"
	"github.com/oxygenesis/enrollment/internal/service"
	"github.com/oxygenesis/enrollment/internal/storage"
	"github.com/oxygenesis/enrollment/internal/transport"
	"github.com/oxygenesis/enrollment/pkg/logger"
)

const serviceName = "unit-enroll"

// test-stubbables
var (
	httpStart            = httpApp.Start
	osExit               = os.Exit
	loadConfig           = config.LoadConfig
	stdout     io.Writer = os.Stdout
)

func main() {
	var (
		mode       string
		configPath string
		test       bool
	)
	flag.StringVar(&mode, "mode", "http", "run mode: http, enroll, token or identity")
	flag.StringVar(&configPath, "config", "", "config file (default $"+config.ConfigFileEnvVar+" or "+config.StandardPath+")")
	flag.BoolVar(&test, "t", false, "test mode: build server only")
	flag.Parse()

	if err := run(mode, configPath, test); err != nil {
		log.Errorf("fatal: %v", err)
		osExit(1)
	}
}

func run(mode, configPath string, test bool) error {
	switch mode {
	case "http", "enroll", "token", "identity":
	default:
		return fmt.Errorf("unsupported mode %q", mode)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := build(cfg, reg)
	if err := registerUnits(cfg, svc); err != nil {
		// the agent API can still register units later
		if mode != "http" {
			return err
		}
		log.Warnf("%s", err)
	}
	units, err := svc.ListUnits()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "identity":
		for _, u := range units {
			fmt.Fprintf(stdout, "%s\t%s\n", u.Identity, u.Fingerprint)
		}
		return nil
	case "enroll":
		var errs []error
		for _, u := range units {
			e, err := svc.Enroll(ctx, u.Fingerprint)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", u.Identity, err))
				continue
			}
			fmt.Fprintf(stdout, "%s\tenrolled (%d)\n", u.Identity, e.StatusCode)
		}
		return errors.Join(errs...)
	case "token":
		var errs []error
		for _, u := range units {
			e, err := svc.Token(ctx, u.Fingerprint)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", u.Identity, err))
				continue
			}
			fmt.Fprintf(stdout, "%s\t%s\t%s\n", u.Identity, e.Token, e.ExpiresAt.Format(time.RFC3339))
		}
		return errors.Join(errs...)
	default:
		return httpStart(ctx, svc, httpApp.Options{
			Addr:        cfg.Server.Addr(),
			EnrollRPS:   cfg.Enrollment.RateLimit.RPS,
			EnrollBurst: cfg.Enrollment.RateLimit.Burst,
			Registry:    reg,
			Logger:      logger.SetupLogger(cfg.Logs.Level, serviceName, "http"),
		}, test)
	}
}

func build(cfg *config.Config, reg prometheus.Registerer) service.Service {
	tr := transport.NewClient(transport.Options{
		Timeout:   cfg.Enrollment.Timeout,
		UserAgent: cfg.Enrollment.UserAgent,
		Logger:    logger.SetupLogger(cfg.Logs.Level, serviceName, "transport"),
	})
	svc := service.New(storage.NewMemory(), service.PSSFactory{}, tr, service.Options{
		Endpoint:   cfg.Enrollment.Endpoint,
		SaltLength: cfg.Enrollment.SaltLength,
		SelfCheck:  cfg.Enrollment.SelfCheck,
		TokenTTL:   cfg.Enrollment.TokenTTL,
		TokenDir:   cfg.Enrollment.TokenDir,
		Logger:     logger.SetupLogger(cfg.Logs.Level, serviceName, "service"),
	})
	return service.NewInstrumentingMiddleware(reg)(svc)
}

// registerUnits loads and registers every configured key pair.
func registerUnits(cfg *config.Config, svc service.Service) error {
	var errs []error
	for _, u := range cfg.Units {
		pair, err := loadUnitKeys(u)
		if err == nil {
			_, err = svc.RegisterUnit(u.Name, pair)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("unit %s: %w", u.Name, err))
		}
	}
	return errors.Join(errs...)
}

func loadUnitKeys(u config.Unit) (domain.KeyPair, error) {
	if u.PrivateKeyPath != "" {
		return keys.Load(u.PrivateKeyPath, u.PublicKeyPath)
	}
	return keys.LoadDir(u.KeysDir)
}
