package database

import (
	"errors"
	"time"
)

// Config holds database configuration
// ARCHITECTURAL DISCOVERY: Configuration struct provides all database settings
// needed for production deployment without hardcoded values
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	// MigrationsPath overrides the embedded migrations with a directory on disk.
	MigrationsPath string `json:"migrations_path"`
}

// DefaultConfig returns production-ready database configuration
// FUNCTIONAL DISCOVERY: One coaching process writes a handful of rows per question,
// 10 connections leave plenty of headroom for concurrent history reads
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/coachrelay.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	return nil
}
