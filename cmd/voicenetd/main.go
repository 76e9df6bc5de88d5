package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cyberinferno/voicenet/cacher"
	"github.com/cyberinferno/voicenet/channel"
	"github.com/cyberinferno/voicenet/control"
	"github.com/cyberinferno/voicenet/gateway"
	"github.com/cyberinferno/voicenet/logger"
	"github.com/cyberinferno/voicenet/session"
)

func main() {
	configPath := flag.String("config", "", "path to the server configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "voicenetd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := defaultServerConfig()
	if configPath != "" {
		loaded, err := loadServerConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	log := logger.NewZerologLogger(zerolog.New(os.Stdout), cfg.Name, cfg.LogLevel)

	directory := session.NewDirectory()

	channels := channel.NewRegistry()
	for _, ch := range cfg.Channels {
		if err := channels.Create(ch); err != nil {
			return fmt.Errorf("register channel %q: %w", ch.ID, err)
		}
	}

	var perms cacher.Cacher[channel.PermissionSet]
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		perms = cacher.NewRedisCacher[channel.PermissionSet](client, cfg.Name+":perm")
		log.Info("using redis permission cache", logger.Field{Key: "addr", Value: cfg.RedisAddr})
	}

	gw := gateway.New(gateway.Config{
		Directory:   directory,
		Channels:    channels,
		Permissions: perms,
		FetchPermissions: func(context.Context, *session.Session) (channel.PermissionSet, error) {
			return cfg.DefaultPermissions, nil
		},
		PermissionTTL: cfg.PermissionTTL,
		ServerVersion: cfg.ServerVersion,
		Logger:        log,
	})

	server := &control.Server{
		Logger:    log,
		Name:      cfg.Name,
		Addr:      cfg.ControlAddr,
		Directory: directory,
		Gateway:   gw,
	}
	if err := server.Start(); err != nil {
		return err
	}

	udp := &control.UDPListener{
		Logger:    log,
		Addr:      cfg.UDPAddr,
		Directory: directory,
	}
	if err := udp.Start(); err != nil {
		server.Stop()
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	udp.Stop()
	server.Stop()
	return nil
}
