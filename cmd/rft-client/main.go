package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mlindqvist/rft"
	"github.com/mlindqvist/rft/internal/rdt"
	"github.com/mlindqvist/rft/internal/session"
	"github.com/mlindqvist/rft/internal/wire"
)

func main() {
	serverAddr := flag.String("server", "", "server address, host:port (required)")
	upload := flag.String("upload", "", "local file path to upload")
	download := flag.String("download", "", "remote file name to download")
	remoteName := flag.String("remote-name", "", "name to upload the file as (defaults to the local file's base name)")
	localDir := flag.String("local-dir", ".", "directory to write a downloaded file into")
	protoFlag := flag.String("protocol", "gbn", "reliable-data-transfer protocol: sw (stop-and-wait) or gbn (go-back-n)")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	if *serverAddr == "" || (*upload == "" && *download == "") {
		fmt.Fprintln(os.Stderr, "usage: rft-client -server host:port (-upload local/path [-remote-name name] | -download remote-name) [-local-dir dir] [-protocol sw|gbn]")
		os.Exit(2)
	}

	protocol, err := parseProtocol(*protoFlag)
	if err != nil {
		entry.WithError(err).Fatal("rft-client: invalid protocol")
	}

	addr, err := net.ResolveUDPAddr("udp", *serverAddr)
	if err != nil {
		entry.WithError(err).Fatal("rft-client: invalid server address")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var result rft.Result
	if *upload != "" {
		name := *remoteName
		if name == "" {
			name = filepath.Base(*upload)
		}
		result, err = rft.Upload(ctx, rft.UploadConfig{
			ServerAddr: addr,
			LocalPath:  *upload,
			RemoteName: name,
			Protocol:   protocol,
			Log:        entry,
		})
	} else {
		result, err = rft.Download(ctx, rft.DownloadConfig{
			ServerAddr: addr,
			RemoteName: *download,
			LocalDir:   *localDir,
			Protocol:   protocol,
			Log:        entry,
		})
	}

	if err != nil {
		entry.WithError(err).Error("rft-client: transfer failed")
		os.Exit(exitCode(err))
	}

	throughput := float64(result.BytesTransferred) / result.Duration.Seconds()
	fmt.Printf("transferred %d bytes in %s (%.0f B/s)\n", result.BytesTransferred, result.Duration, throughput)
}

func parseProtocol(s string) (wire.Protocol, error) {
	switch s {
	case "sw", "stop-and-wait":
		return wire.StopAndWait, nil
	case "gbn", "go-back-n":
		return wire.GoBackN, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

// exitCode maps the session error taxonomy onto a process exit status,
// distinguishing handshake-phase rejections and an unresponsive peer
// from everything else.
func exitCode(err error) int {
	if errors.Is(err, rdt.ErrPeerUnresponsive) {
		return 4
	}
	var sessErr *session.Error
	if errors.As(err, &sessErr) {
		switch sessErr.Kind {
		case session.KindFileNotFound, session.KindFileExists:
			return 3
		case session.KindPeerUnresponsive:
			return 4
		default:
			return 1
		}
	}
	return 1
}
