package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/cyberinferno/voicenet/channel"
)

// serverConfig is the resolved configuration the daemon runs with.
type serverConfig struct {
	Name               string
	ControlAddr        string
	UDPAddr            string
	ServerVersion      string
	LogLevel           zerolog.Level
	PermissionTTL      time.Duration
	RedisAddr          string
	DefaultPermissions channel.PermissionSet
	Channels           []*channel.Channel
}

// fileConfig mirrors the TOML layout of the config file.
type fileConfig struct {
	Name               string              `toml:"name"`
	ControlAddr        string              `toml:"control_addr"`
	UDPAddr            string              `toml:"udp_addr"`
	ServerVersion      string              `toml:"server_version"`
	LogLevel           string              `toml:"log_level"`
	PermissionTTL      string              `toml:"permission_ttl"`
	RedisAddr          string              `toml:"redis_addr"`
	DefaultPermissions []string            `toml:"default_permissions"`
	Channels           []fileChannelConfig `toml:"channel"`
}

type fileChannelConfig struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Type        string `toml:"type"`
	Position    int    `toml:"position"`
	Parent      string `toml:"parent"`
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Name:               "voicenet",
		ControlAddr:        ":7880",
		UDPAddr:            ":7881",
		ServerVersion:      "0.1.0",
		LogLevel:           zerolog.InfoLevel,
		PermissionTTL:      time.Minute,
		DefaultPermissions: channel.PermConnect | channel.PermSpeak | channel.PermListen,
	}
}

func loadServerConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serverConfig{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}

	if meta.IsDefined("control_addr") {
		cfg.ControlAddr = strings.TrimSpace(raw.ControlAddr)
	}

	if meta.IsDefined("udp_addr") {
		cfg.UDPAddr = strings.TrimSpace(raw.UDPAddr)
	}

	if meta.IsDefined("server_version") {
		cfg.ServerVersion = strings.TrimSpace(raw.ServerVersion)
	}

	if meta.IsDefined("log_level") {
		level, err := zerolog.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return serverConfig{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = level
	}

	if meta.IsDefined("permission_ttl") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PermissionTTL))
		if err != nil {
			return serverConfig{}, fmt.Errorf("parse permission_ttl: %w", err)
		}
		cfg.PermissionTTL = d
	}

	if meta.IsDefined("redis_addr") {
		cfg.RedisAddr = strings.TrimSpace(raw.RedisAddr)
	}

	if meta.IsDefined("default_permissions") {
		perms, err := parsePermissions(raw.DefaultPermissions)
		if err != nil {
			return serverConfig{}, err
		}
		cfg.DefaultPermissions = perms
	}

	for _, ch := range raw.Channels {
		chType := channel.Type(strings.TrimSpace(ch.Type))
		if chType == "" {
			chType = channel.TypeVoice
		}
		cfg.Channels = append(cfg.Channels, &channel.Channel{
			ID:          strings.TrimSpace(ch.ID),
			Name:        strings.TrimSpace(ch.Name),
			Description: ch.Description,
			Type:        chType,
			Position:    ch.Position,
			ParentID:    strings.TrimSpace(ch.Parent),
		})
	}

	return cfg, nil
}

func parsePermissions(names []string) (channel.PermissionSet, error) {
	var perms channel.PermissionSet
	for _, name := range names {
		p, ok := channel.ParsePermission(strings.TrimSpace(name))
		if !ok {
			return 0, fmt.Errorf("unknown permission %q", name)
		}
		perms.Add(p)
	}
	return perms, nil
}
