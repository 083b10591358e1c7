// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/couchbaselabs/monitormanager/pkg/configuration"
	"github.com/couchbaselabs/monitormanager/pkg/logger"
	"github.com/couchbaselabs/monitormanager/pkg/manager"
	"github.com/couchbaselabs/monitormanager/pkg/meta"
	"github.com/couchbaselabs/monitormanager/pkg/values"

	"github.com/couchbase/tools-common/log"
	"github.com/couchbase/tools-common/system"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	sqliteKeyFlagName = "sqlite-key"
	sqliteDBFlagName  = "sqlite-db"

	certPathFlagName = "cert-path"
	keyPathFlagName  = "key-path"

	httpPortFlagName  = "http-port"
	httpsPortFlagName = "https-port"

	maxWorkersFlagName = "max-workers"

	logLevelFlagName = "log-level"
	logDirFlagName   = "log-dir"

	adminUserFlagName     = "admin-user"
	adminPasswordFlagName = "admin-password"

	enableAdminAPIFlagName   = "enable-admin-api"
	enableMonitorAPIFlagName = "enable-monitor-api"
	enableCatalogAPIFlagName = "enable-catalog-api"

	prometheusURLFlagName = "prometheus-url"

	alertmanagerURLsFlagName        = "alertmanager-urls"
	alertmanagerResendDelayFlagName = "alertmanager-resend-delay"
	alertmanagerBaseLabelsFlagName  = "alertmanager-base-labels"

	evaluationFrequencyFlagName = "evaluation-frequency"
	janitorFrequencyFlagName    = "janitor-frequency"
	staleStateMaxAgeFlagName    = "stale-state-max-age"
)

func init() {
	// Initialise a logger as early as possible, to ensure that any startup errors get logged.
	// It will get replaced later, in logger.Init().
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zapcore.EncoderConfig{}),
		zapcore.AddSync(os.Stdout),
		zapcore.ErrorLevel,
	)
	logger := zap.New(core)
	zap.ReplaceGlobals(logger)
}

func main() {
	app := &cli.App{
		Name:                 "Monitor Manager",
		HelpName:             "monitormanager",
		Usage:                "Starts up the Monitor Manager",
		Version:              meta.Version,
		EnableBashCompletion: true,
		Action:               run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     sqliteKeyFlagName,
				Usage:    "The password for the SQLiteStore",
				EnvVars:  []string{"MONITOR_MANAGER_SQLITE_PASSWORD"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     sqliteDBFlagName,
				Usage:    "The path to the SQLite file to use. If the file does not exist it will create it.",
				Required: true,
			},
			&cli.StringFlag{
				Name: certPathFlagName,
				Usage: "Path to a PEM-encoded X.509 certificate to use to serve the API over TLS. " +
					"If the certificate is signed by a CA, this must also contain the full chain to the CA root " +
					"certificate, including any intermediates. " +
					"Can be omitted, in which case TLS serving will be disabled.",
				EnvVars: []string{"MONITOR_MANAGER_CERT_PATH"},
			},
			&cli.StringFlag{
				Name: keyPathFlagName,
				Usage: fmt.Sprintf("Path to a PEM-encoded private key for the certificate in `%s`.",
					certPathFlagName),
				EnvVars: []string{"MONITOR_MANAGER_KEY_PATH"},
			},
			&cli.StringFlag{
				Name:  logLevelFlagName,
				Usage: "Set the log level, options are [error, warn, info, debug]",
				Value: "info",
			},
			&cli.IntFlag{
				Name:  httpPortFlagName,
				Usage: "The port to serve HTTP REST API",
				Value: 7196,
			},
			&cli.IntFlag{
				Name:  httpsPortFlagName,
				Usage: "The port to serve HTTPS REST API",
				Value: 7197,
			},
			&cli.IntFlag{
				Name: maxWorkersFlagName,
				Usage: "The maximum number of workers used for monitor evaluation " +
					"(defaults to 75% of the number of CPUs)",
			},
			&cli.StringFlag{
				Name:  logDirFlagName,
				Usage: "The location to log too. If it does not exist it will try to create it.",
			},
			&cli.StringFlag{
				Name:    adminUserFlagName,
				Usage:   "The name of the admin user for auto-provisioning",
				EnvVars: []string{"MONITOR_MANAGER_ADMIN_USER"},
			},
			&cli.StringFlag{
				Name:    adminPasswordFlagName,
				Usage:   "The password for the admin user for auto-provisioning",
				EnvVars: []string{"MONITOR_MANAGER_ADMIN_PASSWORD"},
			},
			&cli.BoolFlag{
				Name:  enableAdminAPIFlagName,
				Usage: "Enable the admin REST API.",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  enableMonitorAPIFlagName,
				Usage: "Enable the monitor management REST API.",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  enableCatalogAPIFlagName,
				Usage: "Enable the recommended monitor catalog REST API.",
				Value: true,
			},
			&cli.StringFlag{
				Name:    prometheusURLFlagName,
				Usage:   "Base URL of the Prometheus instance to evaluate monitor queries against",
				Value:   "",
				EnvVars: []string{"MONITOR_MANAGER_PROMETHEUS_URL"},
			},
			&cli.StringFlag{
				Name: alertmanagerBaseLabelsFlagName,
				Usage: "Base labels to be applied to alerts for Alertmanager. " +
					"Syntax: `label1=value label2=value`",
				Value:   "",
				EnvVars: []string{"MONITOR_MANAGER_ALERTMANAGER_BASE_LABELS"},
			},
			&cli.StringSliceFlag{
				Name:    alertmanagerURLsFlagName,
				Usage:   "URLs of Alertmanager instances to send alerts to.",
				EnvVars: []string{"MONITOR_MANAGER_ALERTMANAGER_URLS"},
			},
			&cli.DurationFlag{
				Name:    alertmanagerResendDelayFlagName,
				Usage:   "Interval between re-sending alerts to Alertmanager.",
				EnvVars: []string{"MONITOR_MANAGER_ALERTMANAGER_RESEND_DELAY"},
				Value:   time.Minute,
			},
			&cli.DurationFlag{
				Name:    evaluationFrequencyFlagName,
				Usage:   "How often monitors are evaluated.",
				EnvVars: []string{"MONITOR_MANAGER_EVALUATION_FREQUENCY"},
				Value:   manager.DefaultFrequencyConfiguration.Evaluation,
			},
			&cli.DurationFlag{
				Name:    janitorFrequencyFlagName,
				Usage:   "How often stale data is cleaned up.",
				EnvVars: []string{"MONITOR_MANAGER_JANITOR_FREQUENCY"},
				Value:   manager.DefaultFrequencyConfiguration.Janitor,
			},
			&cli.DurationFlag{
				Name:    staleStateMaxAgeFlagName,
				Usage:   "How long a resolved group state may go unevaluated before it is dropped.",
				EnvVars: []string{"MONITOR_MANAGER_STALE_STATE_MAX_AGE"},
				Value:   24 * time.Hour,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		zap.S().Errorw("(Main) Failed to run", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	config, err := getConfig(c)
	if err != nil {
		return fmt.Errorf("invalid configuration provided: %w", err)
	}

	if err := logger.Init(config.LogLevel, c.String(logDirFlagName)); err != nil {
		return fmt.Errorf("could not initialize logger: %w", err)
	}

	zap.S().Infow("(Main) Monitor Manager starting", "version", meta.Version, "build", meta.BuildNumber)

	argsToMask := []string{"--" + sqliteKeyFlagName, "--" + adminPasswordFlagName}
	zap.S().Infof("(Main) Running options %s", log.MaskArguments(os.Args[1:], argsToMask))
	zap.S().Infow("(Main) Using configuration", "config", config)

	node, err := manager.NewManager(config)
	if err != nil {
		return fmt.Errorf("could not create manager: %w", err)
	}

	node.Start(values.FrequencyConfiguration{
		Evaluation: config.EvaluationFrequency,
		Janitor:    config.JanitorFrequency,
	})
	return nil
}

func getConfig(c *cli.Context) (*configuration.Config, error) {
	alertmanagerBaseLabels, err := configuration.ParseLabelSelectors(c.String(alertmanagerBaseLabelsFlagName))
	if err != nil {
		return nil, fmt.Errorf("failed to parse Alertmanager labels: %w", err)
	}

	config := &configuration.Config{
		SQLiteKey:               c.String(sqliteKeyFlagName),
		SQLiteDB:                c.String(sqliteDBFlagName),
		CertPath:                c.String(certPathFlagName),
		KeyPath:                 c.String(keyPathFlagName),
		HTTPPort:                c.Int(httpPortFlagName),
		HTTPSPort:               c.Int(httpsPortFlagName),
		AdminUser:               c.String(adminUserFlagName),
		AdminPassword:           c.String(adminPasswordFlagName),
		EnableAdminAPI:          c.Bool(enableAdminAPIFlagName),
		EnableMonitorAPI:        c.Bool(enableMonitorAPIFlagName),
		EnableCatalogAPI:        c.Bool(enableCatalogAPIFlagName),
		PrometheusBaseURL:       c.String(prometheusURLFlagName),
		AlertmanagerBaseLabels:  alertmanagerBaseLabels,
		AlertmanagerURLs:        c.StringSlice(alertmanagerURLsFlagName),
		AlertmanagerResendDelay: c.Duration(alertmanagerResendDelayFlagName),
		EvaluationFrequency:     c.Duration(evaluationFrequencyFlagName),
		JanitorFrequency:        c.Duration(janitorFrequencyFlagName),
		StaleStateMaxAge:        c.Duration(staleStateMaxAgeFlagName),
	}

	switch c.String(logLevelFlagName) {
	case "error":
		config.LogLevel = zapcore.ErrorLevel
	case "warn":
		config.LogLevel = zapcore.WarnLevel
	case "info":
		config.LogLevel = zapcore.InfoLevel
	case "debug":
		config.LogLevel = zapcore.DebugLevel
	default:
		return nil, fmt.Errorf("unknown log level '%s'", c.String(logLevelFlagName))
	}

	config.MaxWorkers = system.NumWorkers(c.Int(maxWorkersFlagName))

	return config, nil
}
