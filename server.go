package rft

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/mlindqvist/rft/internal/netsock"
	"github.com/mlindqvist/rft/internal/server"
)

// ServerConfig names the server side of the session-start API:
// (bind_addr, storage_dir) → runs until cancelled.
type ServerConfig struct {
	BindAddr   *net.UDPAddr
	StorageDir string
	Log        *logrus.Entry
}

// Serve binds the well-known listening socket and runs the dispatcher
// until ctx is cancelled.
func Serve(ctx context.Context, cfg ServerConfig) error {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	sock, err := netsock.Listen(cfg.BindAddr)
	if err != nil {
		return err
	}
	defer sock.Close()

	log.WithField("addr", sock.LocalAddr()).Info("rft: server listening")
	d := server.NewDispatcher(sock, server.Config{StorageDir: cfg.StorageDir, Log: log})
	return d.Run(ctx)
}
