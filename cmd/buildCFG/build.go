// Package buildCFG translates the loaded configuration tree into the typed
// configs each subsystem wants at startup.
package buildCFG

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/mailer"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/sweeper"
)

type ServerConfig struct {
	Port string
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

type AppConfig struct {
	StorageDriver  string
	AdminIDs       []int64
	ConsentVersion string
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	port := cfg.GetString("server.port")
	if port == "" {
		port = "8080"
		log.Warn().Msg("server.port not set, defaulting to 8080")
	}
	return ServerConfig{Port: port}
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	host := cfg.GetString("db.host")
	if host == "" {
		return "", nil, nil, fmt.Errorf("db.host is required")
	}
	port := cfg.GetInt("db.port")
	if port == 0 {
		port = 5432
	}
	name := cfg.GetString("db.name")
	user := cfg.GetString("db.user")
	password := cfg.GetString("db.password")
	sslMode := cfg.GetString("db.ssl_mode")
	if sslMode == "" {
		sslMode = "disable"
	}

	masterDSN := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.GetInt("db.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("db.max_idle_conns"),
		ConnMaxLifetime: cfg.GetDuration("db.conn_max_lifetime"),
	}
	log.Info().Str("host", host).Int("port", port).Str("db", name).Msg("DB config built")
	return masterDSN, nil, opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Url:      cfg.GetString("rabbit.url"),
		Exchange: cfg.GetString("rabbit.exchange"),
		Queue:    cfg.GetString("rabbit.queue"),
	}
	if rc.Url == "" {
		return RabbitConfig{}, fmt.Errorf("rabbit.url is required")
	}
	if rc.Exchange == "" {
		rc.Exchange = "notifications.delayed"
	}
	if rc.Queue == "" {
		rc.Queue = "notifications"
	}
	log.Info().Str("exchange", rc.Exchange).Str("queue", rc.Queue).Msg("RabbitMQ config built")
	return rc, nil
}

func BuildSMTPConfig(cfg *config.Config) mailer.Config {
	return mailer.Config{
		Host:     cfg.GetString("smtp.host"),
		Port:     cfg.GetString("smtp.port"),
		From:     cfg.GetString("smtp.from"),
		Password: cfg.GetString("smtp.password"),
	}
}

func BuildSweeperConfig(cfg *config.Config) sweeper.Config {
	interval := cfg.GetDuration("sweeper.interval")
	if interval <= 0 {
		interval = time.Minute
	}
	sc := sweeper.DefaultConfig(interval)
	if d := cfg.GetDuration("sweeper.confirmation_request_from"); d > 0 {
		sc.ConfirmationRequestFrom = d
	}
	if d := cfg.GetDuration("sweeper.confirmation_request_to"); d > 0 {
		sc.ConfirmationRequestTo = d
	}
	if d := cfg.GetDuration("sweeper.passport_reminder_window"); d > 0 {
		sc.PassportReminderWindow = d
	}
	if d := cfg.GetDuration("sweeper.event_reminder_window"); d > 0 {
		sc.EventReminderWindow = d
	}
	if d := cfg.GetDuration("sweeper.registration_close_soon"); d > 0 {
		sc.RegistrationCloseSoon = d
	}
	return sc
}

func BuildAppConfig(cfg *config.Config, log *zerolog.Logger) AppConfig {
	ac := AppConfig{
		StorageDriver:  cfg.GetString("app.storage_driver"),
		ConsentVersion: cfg.GetString("app.consent_version"),
	}
	if ac.StorageDriver == "" {
		ac.StorageDriver = "postgres"
	}
	if ac.ConsentVersion == "" {
		ac.ConsentVersion = "v1"
	}
	for _, raw := range cfg.GetStringSlice("app.admin_ids") {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Warn().Str("value", raw).Msg("skipping malformed admin id")
			continue
		}
		ac.AdminIDs = append(ac.AdminIDs, id)
	}
	if len(ac.AdminIDs) == 0 {
		log.Warn().Msg("app.admin_ids is empty, admin endpoints will reject all requests")
	}
	return ac
}
