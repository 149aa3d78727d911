package main

import (
	"context"
	"strings"
	"time"

	"flotilla/internal/assets"
	"flotilla/internal/channelstate"
	"flotilla/internal/decisionlog"
	"flotilla/internal/executor"
	"flotilla/internal/guardrails"
	"flotilla/internal/handlers"
	"flotilla/internal/jobs"
	"flotilla/internal/planner"
	"flotilla/internal/policy"
	"flotilla/internal/schedules"
	"flotilla/pkg/auth"
	"flotilla/pkg/cache"
	"flotilla/pkg/clients"
	chandlercli "flotilla/pkg/clients/chandler"
	lookoutcli "flotilla/pkg/clients/lookout"
	"flotilla/pkg/config"
	"flotilla/pkg/database"
	"flotilla/pkg/email"
	"flotilla/pkg/kafka"
	"flotilla/pkg/logging"
	"flotilla/pkg/monitoring"
	"flotilla/pkg/server"
	"flotilla/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("bosun")
	config.LoadEnv(logger)

	logger.Info("Starting Bosun (Campaign Orchestration Engine)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	chandlerURL := config.RequireEnv("CHANDLER_URL")
	lookoutURL := config.RequireEnv("LOOKOUT_URL")

	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Managed deployments often provision the schema out of band with a
	// role that owns the DDL, so bootstrap failure is advisory.
	if err := database.ApplySchema(context.Background(), db, "bosun"); err != nil {
		logger.WithError(err).Warn("Schema bootstrap failed, continuing with existing schema")
	}

	// Health probes cover the direct dependencies plus both collaborators.
	healthChecker := monitoring.NewHealthChecker("bosun", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bosun", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   jwtSecret,
		"CHANDLER_URL": chandlerURL,
		"LOOKOUT_URL":  lookoutURL,
	}))
	healthChecker.AddCheck("chandler", monitoring.HTTPServiceHealthCheck("chandler", chandlerURL+"/health"))
	healthChecker.AddCheck("lookout", monitoring.HTTPServiceHealthCheck("lookout", lookoutURL+"/health"))

	// Kafka is optional. Without brokers the decision log stays
	// Postgres-only and no events are mirrored to the bus.
	var producer *kafka.Producer
	var publisher decisionlog.EventPublisher
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		var err error
		producer, err = kafka.NewProducer(strings.Split(brokers, ","), "bosun", logger)
		if err != nil {
			logger.WithError(err).Fatal("Kafka producer startup failed")
		}
		defer producer.Close()
		publisher = producer
		healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
	} else {
		logger.Info("KAFKA_BROKERS not set, decision events stay in Postgres only")
	}

	decisionLogger := decisionlog.NewLogger(db, publisher, logger)

	// Stores share one set of fatigue thresholds with the guardrails.
	// The thresholds are tunable per deployment while agencies calibrate
	// how aggressive their clients' posting cadence should be.
	guardrailCfg := guardrails.DefaultConfig()
	guardrailCfg.FatigueWarnThreshold = config.GetEnvFloat("FATIGUE_WARN_THRESHOLD", guardrailCfg.FatigueWarnThreshold)
	guardrailCfg.FatigueBlockThreshold = config.GetEnvFloat("FATIGUE_BLOCK_THRESHOLD", guardrailCfg.FatigueBlockThreshold)
	stateStore := channelstate.NewStore(db, logger, decisionLogger, channelstate.Config{
		FatigueWarnThreshold:  guardrailCfg.FatigueWarnThreshold,
		FatigueBlockThreshold: guardrailCfg.FatigueBlockThreshold,
	})
	scheduleStore := schedules.NewStore(db)
	policyStore := policy.NewStore(db)
	usageStore := assets.NewUsageStore(db)
	selector := assets.NewSelector(usageStore, assets.DefaultSelectorConfig())

	// Collaborator clients
	chandlerCB := clients.DefaultCircuitBreakerConfig()
	chandlerCB.Name = "chandler"
	chandlerCB.Logger = logger
	chandlerCB.OnStateChange = clients.CircuitBreakerMetricsCallback("chandler")
	chandlerClient := chandlercli.NewClient(chandlercli.Config{
		BaseURL:              chandlerURL,
		ServiceToken:         serviceToken,
		Timeout:              10 * time.Second,
		Logger:               logger,
		CircuitBreakerConfig: &chandlerCB,
	})

	lookoutCB := clients.DefaultCircuitBreakerConfig()
	lookoutCB.Name = "lookout"
	lookoutCB.Logger = logger
	lookoutCB.OnStateChange = clients.CircuitBreakerMetricsCallback("lookout")
	lookoutClient := lookoutcli.NewClient(lookoutcli.Config{
		BaseURL:              lookoutURL,
		ServiceToken:         serviceToken,
		Timeout:              5 * time.Second,
		Logger:               logger,
		CircuitBreakerConfig: &lookoutCB,
		Cache:                cache.New(lookoutcli.DefaultCacheOptions(), cache.MetricsHooks{}),
	})

	evaluator := guardrails.NewEvaluator(policyStore, lookoutClient, scheduleStore, decisionLogger, logger, guardrailCfg)

	assetSource := planner.ChandlerAssets{Client: chandlerClient}
	plannerCfg := planner.DefaultConfig()
	plannerCfg.FatigueWarnThreshold = guardrailCfg.FatigueWarnThreshold
	weekPlanner := planner.NewPlanner(stateStore, assetSource, selector, scheduleStore, decisionLogger, logger, plannerCfg)

	// Reviewer notifications are optional. Without SMTP config the
	// executor still routes entries to awaiting_approval; reviewers
	// just have to watch the dashboard.
	var notifier executor.ReviewNotifier
	reviewerEmail := config.GetEnv("REVIEWER_EMAIL", "")
	if smtpHost := config.GetEnv("SMTP_HOST", ""); smtpHost != "" && reviewerEmail != "" {
		notifier = email.NewSender(email.Config{
			Host:     smtpHost,
			Port:     config.GetEnv("SMTP_PORT", "587"),
			User:     config.GetEnv("SMTP_USER", ""),
			Password: config.GetEnv("SMTP_PASS", ""),
			From:     config.GetEnv("SMTP_FROM", "bosun@flotilla.local"),
			FromName: "Flotilla Scheduling",
		})
	} else {
		logger.Warn("SMTP_HOST or REVIEWER_EMAIL not set, reviewer notifications disabled")
	}

	execCfg := executor.DefaultConfig()
	execCfg.ReviewerEmail = reviewerEmail
	execCfg.MaxFailures = config.GetEnvInt("EXECUTOR_MAX_FAILURES", execCfg.MaxFailures)
	committer := executor.NewExecutor(scheduleStore, stateStore, usageStore, decisionLogger, notifier, logger, execCfg)

	runner := jobs.NewRunner(jobs.RunnerConfig{
		Planner:   weekPlanner,
		Evaluator: evaluator,
		Committer: committer,
		Schedules: scheduleStore,
		States:    stateStore,
		Assets:    assetSource,
		Ranker:    selector,
		Decisions: decisionLogger,
		Logger:    logger,
	})

	handlers.Init(logger, scheduleStore, committer, runner, decisionLogger, stateStore, policyStore)

	manager := jobs.NewManager(jobs.ManagerConfig{
		Runner:         runner,
		Logger:         logger,
		DailyInterval:  config.GetEnvDuration("DAILY_PASS_INTERVAL", 24*time.Hour),
		WeeklyInterval: config.GetEnvDuration("WEEKLY_PASS_INTERVAL", 7*24*time.Hour),
		StartupDelay:   config.GetEnvDuration("PASS_STARTUP_DELAY", time.Minute),
	})
	manager.Start()
	defer manager.Stop()

	logger.Info("Pass manager started - daily and weekly scheduler passes active")

	router := server.SetupServiceRouter(logger, "bosun", healthChecker, metricsCollector)

	api := router.Group("/api/v1")
	{
		// Dashboard endpoints
		protected := api.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.GET("/schedules", handlers.ListSchedules)
			protected.GET("/schedules/:id", handlers.GetSchedule)
			protected.PATCH("/schedules/:id", handlers.PatchSchedule)
			protected.GET("/scheduler/decisions", handlers.GetDecisionHistory)
			protected.GET("/channels/state", handlers.GetChannelStates)
			protected.GET("/clients/:id/policy", handlers.GetClientPolicy)
			protected.PUT("/clients/:id/policy", handlers.PutClientPolicy)
		}

		// Pass triggers (service-to-service)
		serviceAPI := api.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/scheduler/run", handlers.TriggerSchedulerRun)
		}
	}

	serverConfig := server.DefaultConfig("bosun", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
