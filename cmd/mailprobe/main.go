// Command mailprobe runs protocol-conformance scenarios against a mail
// server: message delivery, multi-recipient fan-out, IDLE push
// notification, authentication policy and mailbox management. It exits
// 0 when every selected scenario passes and 1 otherwise.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mailprobe/mailprobe"
	"github.com/mailprobe/mailprobe/internal/config"
	"github.com/mailprobe/mailprobe/internal/metrics"
	"github.com/mailprobe/mailprobe/internal/scenario"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to a TOML configuration file")
		scenarioName  = flag.String("scenario", "all", "scenario to run, or \"all\" (known: "+strings.Join(scenario.Names(), ", ")+")")
		addr          = flag.String("addr", "", "host of the server under test")
		imapPort      = flag.Int("imap-port", 0, "IMAP port")
		smtpPort      = flag.Int("smtp-port", 0, "SMTP relay port")
		submPort      = flag.Int("submission-port", 0, "SMTP submission port")
		recipients    = flag.Int("recipients", 0, "recipients per fan-out scenario")
		messages      = flag.Int("messages", 0, "messages per delivery scenario")
		timeout       = flag.String("timeout", "", "per-wait timeout, e.g. 10s")
		verbose       = flag.Bool("v", false, "log every protocol command and response")
		metricsListen = flag.String("metrics-listen", "", "expose Prometheus metrics on this address")
	)
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fatal(err)
	}

	// Flags override the file.
	if *addr != "" {
		cfg.Server.Host = *addr
	}
	if *imapPort != 0 {
		cfg.Server.IMAPPort = *imapPort
	}
	if *smtpPort != 0 {
		cfg.Server.SMTPPort = *smtpPort
	}
	if *submPort != 0 {
		cfg.Server.SubmissionPort = *submPort
	}
	if *recipients != 0 {
		cfg.Scenario.Recipients = *recipients
	}
	if *messages != 0 {
		cfg.Scenario.Messages = *messages
	}
	if *timeout != "" {
		cfg.Scenario.Timeout = *timeout
	}
	if *verbose {
		cfg.Scenario.Verbose = true
	}
	if *metricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *metricsListen
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	waitTimeout, err := cfg.Timeout()
	if err != nil {
		fatal(err)
	}

	level := slog.LevelInfo
	if cfg.Scenario.Verbose {
		level = slog.LevelDebug
		mailprobe.Verbose = true
	}
	mailprobe.SetSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var collector metrics.Collector = metrics.NewNoopCollector()
	var metricsSrv *metrics.HTTPServer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		pc := metrics.NewPrometheusCollector(reg)
		collector = pc
		mailprobe.CommandObserver = pc.CommandSent
		metricsSrv = metrics.NewHTTPServer(cfg.Metrics.Listen, reg)
		go func() {
			if err := metricsSrv.Start(context.Background()); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	var selected []scenario.Scenario
	if *scenarioName == "all" {
		selected = scenario.All()
	} else {
		s, err := scenario.Lookup(*scenarioName)
		if err != nil {
			fatal(err)
		}
		selected = []scenario.Scenario{s}
	}

	params := &scenario.Params{
		Host:           cfg.Server.Host,
		IMAPPort:       cfg.Server.IMAPPort,
		SubmissionPort: cfg.Server.SubmissionPort,
		Recipients:     cfg.Scenario.Recipients,
		Messages:       cfg.Scenario.Messages,
		PasswordLength: cfg.Auth.PasswordLength,
		Timeout:        waitTimeout,
		Metrics:        collector,
	}

	results := make([]*scenario.Result, 0, len(selected))
	for _, s := range selected {
		res := scenario.Execute(s, params)
		scenario.WriteReport(os.Stdout, res, cfg.Scenario.Verbose)
		results = append(results, res)
	}
	scenario.WriteSummary(os.Stdout, results)

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(context.Background())
	}
	for _, res := range results {
		if !res.Passed {
			os.Exit(1)
		}
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "mailprobe:", err)
	os.Exit(1)
}
