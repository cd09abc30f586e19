package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/jigged/internal/config"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/logging"
	"gorm.io/gorm"
)

// app is the state every command builds from jig.yaml and the environment.
type app struct {
	cfg     *config.Config
	secrets *config.Secrets
	log     *logrus.Logger
	db      *gorm.DB
}

// loadApp reads the config and secrets, builds the logger and connects to
// the database.
func loadApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	secrets, err := config.LoadSecrets()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	gormDB, err := db.Connect(cfg.Database, secrets.DBPassword)
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	return &app{cfg: cfg, secrets: secrets, log: logger, db: gormDB}, nil
}

// close releases the database connection pool.
func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// companyID resolves a company by id or name.
func (a *app) companyID(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("--company is required")
	}
	var id string
	err := a.db.Table("companies").Select("id").Where("id = ? OR name = ?", ref, ref).Limit(1).Scan(&id).Error
	if err != nil {
		return "", fmt.Errorf("look up company %q: %w", ref, err)
	}
	if id == "" {
		return "", fmt.Errorf("company %q not found", ref)
	}
	return id, nil
}
