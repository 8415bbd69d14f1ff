package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mlindqvist/rft"
)

func main() {
	host := flag.String("host", "0.0.0.0", "address to bind the well-known listening socket to")
	port := flag.Int("port", 9000, "port to bind the well-known listening socket to")
	storageDir := flag.String("storage-dir", ".", "directory uploaded files are created in and downloaded files are read from")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	bindAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		entry.WithError(err).Fatal("rft-server: invalid bind address")
	}

	if err := os.MkdirAll(*storageDir, 0o755); err != nil {
		entry.WithError(err).Fatal("rft-server: cannot create storage directory")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = rft.Serve(ctx, rft.ServerConfig{
		BindAddr:   bindAddr,
		StorageDir: *storageDir,
		Log:        entry,
	})
	if err != nil {
		entry.WithError(err).Fatal("rft-server: exited with error")
	}
}
