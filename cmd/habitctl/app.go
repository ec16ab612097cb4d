package main

import (
	"os"
	"path/filepath"

	"github.com/jrsteele09/go-habit-client/apiclient"
	"github.com/jrsteele09/go-habit-client/internal/config"
	"github.com/jrsteele09/go-habit-client/session"
	"github.com/jrsteele09/go-habit-client/storage"
	"github.com/jrsteele09/go-habit-client/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// app is the wired client stack shared by every command.
type app struct {
	cfg     config.Config
	client  *apiclient.Client
	session *session.Manager
}

func setupLogging(cfg config.EnvConfig) {
	level, err := zerolog.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func newApp(cfg config.Config) (*app, error) {
	backend, err := newStorage(cfg)
	if err != nil {
		return nil, err
	}

	tokens := token.NewStore(backend)
	client, err := apiclient.New(cfg, tokens, backend)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:     cfg,
		client:  client,
		session: session.NewManager(client),
	}, nil
}

// newStorage opens the encrypted credential file, or memory storage when no
// passphrase is configured (nothing survives the process).
func newStorage(cfg config.Config) (storage.Storage, error) {
	passphrase := cfg.GetStoragePassphrase()
	if passphrase == "" {
		log.Warn().Msg("STORAGE_PASSPHRASE not set, credentials will not be saved")
		return storage.NewMemory(), nil
	}
	return storage.NewFile(filepath.Join(cfg.GetDataFolder(), cfg.GetCredentialFile()), passphrase)
}

func (a *app) close() {
	a.session.Close()
}
