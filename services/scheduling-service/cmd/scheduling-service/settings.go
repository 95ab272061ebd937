package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/config"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/consumer"
)

type settings struct {
	service  string
	port     string
	grpcPort string

	store         string
	databaseURL   string
	runMigrations bool

	bookingLock   string
	redisAddr     string
	redisPassword string
	redisDB       int
	lockTTL       time.Duration

	kafkaBrokers  string
	kafkaGroupID  string
	scheduleTopic string

	rateLimitPerMinute int
	requestTimeout     time.Duration
	bodyLimitBytes     int64
	corsOrigins        []string

	policy   availability.Policy
	location *time.Location
}

func loadSettings() (settings, error) {
	s := settings{
		service:       config.String("SERVICE_NAME", "scheduling-service"),
		store:         strings.ToLower(config.String("STORE", "postgres")),
		runMigrations: config.Bool("RUN_MIGRATIONS", true),
		bookingLock:   strings.ToLower(config.String("BOOKING_LOCK", "local")),
		redisAddr:     config.String("REDIS_ADDR", ""),
		redisPassword: config.String("REDIS_PASSWORD", ""),
		kafkaBrokers:  config.String("KAFKA_BROKERS", ""),
		kafkaGroupID:  config.String("KAFKA_GROUP_ID", "scheduling-service"),
		scheduleTopic: config.String("KAFKA_SCHEDULE_TOPIC", consumer.ScheduleUpdatedTopic),
		corsOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
	}

	var err error
	if s.port, err = config.Port("PORT", "8080"); err != nil {
		return s, err
	}
	if s.grpcPort, err = config.Port("GRPC_PORT", "9090"); err != nil {
		return s, err
	}

	switch s.store {
	case "postgres":
		if s.databaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
			return s, err
		}
	case "memory":
	default:
		return s, fmt.Errorf("STORE must be postgres or memory (got %q)", s.store)
	}

	switch s.bookingLock {
	case "local":
	case "redis":
		if s.redisAddr == "" {
			return s, fmt.Errorf("REDIS_ADDR is required when BOOKING_LOCK=redis")
		}
	default:
		return s, fmt.Errorf("BOOKING_LOCK must be local or redis (got %q)", s.bookingLock)
	}
	if s.redisDB, err = config.Int("REDIS_DB", 0); err != nil {
		return s, err
	}
	if s.lockTTL, err = config.Duration("BOOKING_LOCK_TTL", 10*time.Second); err != nil {
		return s, err
	}

	if s.rateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return s, err
	}
	timeoutSeconds, err := config.Int("REQUEST_TIMEOUT_SECONDS", 15)
	if err != nil {
		return s, err
	}
	s.requestTimeout = time.Duration(timeoutSeconds) * time.Second
	bodyLimit, err := config.Int("REQUEST_BODY_LIMIT_BYTES", 64<<10)
	if err != nil {
		return s, err
	}
	s.bodyLimitBytes = int64(bodyLimit)

	if s.policy, err = loadPolicy(); err != nil {
		return s, err
	}
	tz := config.String("TIMEZONE", "UTC")
	if s.location, err = time.LoadLocation(tz); err != nil {
		return s, fmt.Errorf("TIMEZONE: %w", err)
	}
	return s, nil
}

func loadPolicy() (availability.Policy, error) {
	p := availability.DefaultPolicy()
	var err error
	if p.GranularityMinutes, err = config.Int("SLOT_GRANULARITY_MINUTES", p.GranularityMinutes); err != nil {
		return p, err
	}
	if p.MinDurationMinutes, err = config.Int("MIN_APPOINTMENT_MINUTES", p.MinDurationMinutes); err != nil {
		return p, err
	}
	p.Blackout.Enabled = config.Bool("BLACKOUT_ENABLED", false)
	if p.Blackout.CutoffMinute, err = config.ClockMinutes("BLACKOUT_CUTOFF", "17:00"); err != nil {
		return p, err
	}
	if p.Blackout.HorizonDays, err = config.Int("BLACKOUT_HORIZON_DAYS", 0); err != nil {
		return p, err
	}
	return p, p.Validate()
}
