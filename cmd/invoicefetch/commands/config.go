package commands

import (
	"fmt"

	"invoicefetch/lib/configutil"
	"invoicefetch/lib/invoicestore"
	"invoicefetch/lib/invoicestore/db"
	"invoicefetch/lib/serviceutil"
	"invoicefetch/lib/sqliteutil"
	"invoicefetch/services/archiver"
)

type CredentialsConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// extra login attempts after a transient failure. 0 means the
	// default of 2, -1 disables retries, values above 3 are clamped.
	LoginRetries int `json:"login_retries"`
}

type DatabaseConfig struct {
	File string `json:"file"`
}

type Config struct {
	Credentials CredentialsConfig        `json:"credentials"`
	BaseUrl     string                   `json:"base_url"`
	MinYear     int                      `json:"min_year"`
	Database    DatabaseConfig           `json:"database"`
	OutputDir   string                   `json:"output_dir"`
	Paperless   archiver.PaperlessConfig `json:"paperless"`
	Smtp        archiver.SmtpConfig      `json:"smtp"`
}

const defaultBaseUrl = "https://www.amazon.de"
const defaultLoginRetries = 2

func loadConfig() (Config, error) {
	cfg, err := configutil.ReadConfig[Config](configPath)
	if err != nil {
		return Config{}, err
	}
	if cfg.BaseUrl == "" {
		cfg.BaseUrl = defaultBaseUrl
	}
	if cfg.Database.File == "" {
		cfg.Database.File = "invoicefetch.db"
	}
	if cfg.Credentials.LoginRetries == 0 {
		cfg.Credentials.LoginRetries = defaultLoginRetries
	}
	return cfg, nil
}

// both destinations are optional individually, but a run without any
// sink would scrape for nothing, so it fails before login.
func buildDispatcher(cfg Config) (archiver.Dispatcher, error) {
	var sinks []archiver.Sink
	if cfg.OutputDir != "" {
		local, err := archiver.NewLocalSink(cfg.OutputDir)
		if err != nil {
			return archiver.Dispatcher{}, err
		}
		sinks = append(sinks, local)
	}
	if cfg.Paperless.Configured() {
		sinks = append(sinks, archiver.NewPaperlessSink(cfg.Paperless))
	}
	if len(sinks) == 0 {
		return archiver.Dispatcher{}, fmt.Errorf("no sink configured: set output_dir and/or paperless.url + paperless.token")
	}
	return archiver.NewDispatcher(sinks...), nil
}

func openStore() (invoicestore.Store, func()) {
	cfg, err := loadConfig()
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	database, err := sqliteutil.OpenDB(db.Schema, cfg.Database.File)
	if err != nil {
		serviceutil.Fatal("failed to open state database", err)
	}
	return invoicestore.NewStore(database), func() { database.Close() }
}
