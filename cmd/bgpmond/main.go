package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/routebeacon/bgpmond/internal/config"
	"github.com/routebeacon/bgpmond/internal/identity"
	bgpmondhttp "github.com/routebeacon/bgpmond/internal/http"
	"github.com/routebeacon/bgpmond/internal/listener"
	"github.com/routebeacon/bgpmond/internal/metrics"
	"github.com/routebeacon/bgpmond/internal/publish"
	"github.com/routebeacon/bgpmond/internal/session"
	"github.com/routebeacon/bgpmond/internal/template"
	"github.com/routebeacon/bgpmond/internal/topic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: bgpmond <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve   Start the BMP collector")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Base.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Base.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	collectorHash, collectorHashHex := identity.Collector(cfg.Base.AdminID)

	logger.Info("starting bgpmond",
		zap.String("admin_id", cfg.Base.AdminID),
		zap.String("collector_hash", collectorHashHex),
		zap.String("http_listen", cfg.Base.HTTPListen),
		zap.Int("listen_port", cfg.Base.ListenPort),
		zap.String("listen_mode", cfg.Base.ListenMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tlsCfg, err := cfg.Kafka.BuildTLSConfig()
	if err != nil {
		logger.Fatal("failed to build TLS config", zap.Error(err))
	}
	saslMech := cfg.Kafka.BuildSASLMechanism()

	producer, err := publish.NewKafkaPublisher(publish.Config{
		Brokers:          cfg.Kafka.Brokers,
		ClientID:         cfg.Kafka.ClientID,
		QueueCapacity:    cfg.Kafka.QueueBufferingMaxMsgs,
		CompressionCodec: cfg.Kafka.CompressionCodec,
		MessageMaxBytes:  cfg.Kafka.MessageMaxBytes,
		RequestRetries:   cfg.Kafka.MessageSendMaxRetries,
		RetryBackoff:     time.Duration(cfg.Kafka.RetryBackoffMs) * time.Millisecond,
		ProduceTimeout:   time.Duration(cfg.Kafka.SocketTimeoutMs) * time.Millisecond,
		TLSConfig:        tlsCfg,
		SASLMechanism:    saslMech,
	}, logger.Named("publish"))
	if err != nil {
		logger.Fatal("failed to build kafka publisher", zap.Error(err))
	}
	defer producer.Close()

	matcher := topic.NewMatcher(cfg.Mapping.Groups)

	topicNames := defaultTopicNames()
	for k, v := range cfg.Kafka.Topics.Names {
		topicNames[k] = v
	}

	routeTemplates := map[string]*template.Template{}
	for topicVar, schema := range cfg.Mapping.Templates {
		tmpl, err := template.Parse(schema)
		if err != nil {
			logger.Fatal("failed to compile route template", zap.String("topic_var", topicVar), zap.Error(err))
		}
		routeTemplates[topicVar] = tmpl
	}

	sessionCfg := session.Config{
		APIVersion:       "1.7",
		CollectorHashHex: collectorHashHex,
		CollectorHash:    collectorHash,
		TopicNames:       topicNames,
		TopicVars:        cfg.Kafka.Topics.Variables,
		BufferBytes:      cfg.Base.Buffers.RouterMiB * 1024 * 1024,
		RouteTemplates:   routeTemplates,
	}

	lst := listener.New(listener.Config{
		ListenMode:        cfg.Base.ListenMode,
		Port:              cfg.Base.ListenPort,
		HeartbeatInterval: time.Duration(cfg.Base.Heartbeat.IntervalMinutes) * time.Minute,
		Session:           sessionCfg,
	}, matcher, producer, logger.Named("listener"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := lst.Run(ctx); err != nil {
			logger.Fatal("listener stopped with error", zap.Error(err))
		}
	}()

	httpServer := bgpmondhttp.NewServer(cfg.Base.HTTPListen, producer, lst, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("collector started, accepting BMP connections")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Base.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all sessions stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some sessions may not have finished")
	}

	logger.Info("bgpmond stopped")
}

func defaultTopicNames() map[string]string {
	return map[string]string{
		topic.VarCollector:     "openbmp.collector",
		topic.VarRouter:        "openbmp.router",
		topic.VarPeer:          "openbmp.peer",
		topic.VarUnicastPrefix: "openbmp.unicast_prefix",
		topic.VarL3VPN:         "openbmp.l3vpn",
		topic.VarEVPN:          "openbmp.evpn",
		topic.VarLsNode:        "openbmp.ls_node",
		topic.VarLsLink:        "openbmp.ls_link",
		topic.VarLsPrefix:      "openbmp.ls_prefix",
		topic.VarBMPStat:       "openbmp.bmp_stat",
		topic.VarBMPRaw:        "openbmp.bmp_raw",
	}
}
