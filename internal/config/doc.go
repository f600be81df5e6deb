// Package config provides centralized configuration management for the
// payment gateway, loading a JSON configuration file and applying sensible
// defaults for the server, storage, LLM, and chain subsystems.
package config
