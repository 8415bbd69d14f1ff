package rft

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mlindqvist/rft/internal/netsock"
	"github.com/mlindqvist/rft/internal/session"
	"github.com/mlindqvist/rft/internal/wire"
)

// UploadConfig names a client-to-server transfer: local_filepath is
// read and sent to server_addr under remote_name, using protocol.
type UploadConfig struct {
	ServerAddr *net.UDPAddr
	LocalPath  string
	RemoteName string
	Protocol   wire.Protocol
	Log        *logrus.Entry
}

// DownloadConfig names a server-to-client transfer: remote_name is
// fetched from server_addr and written under local_dir, using protocol.
type DownloadConfig struct {
	ServerAddr *net.UDPAddr
	RemoteName string
	LocalDir   string
	Protocol   wire.Protocol
	Log        *logrus.Entry
}

// Upload implements the client upload half of the session-start API:
// (server_addr, local_filepath, remote_name, protocol) → Result.
func Upload(ctx context.Context, cfg UploadConfig) (Result, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	src, err := os.Open(cfg.LocalPath)
	if err != nil {
		return Result{}, session.NewError(session.KindFileIO, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return Result{}, session.NewError(session.KindFileIO, err)
	}

	sock, err := netsock.Listen(&net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return Result{}, session.NewError(session.KindNetworkError, err)
	}
	defer sock.Close()

	start := time.Now()
	hs, err := session.ClientHandshake(ctx, sock, cfg.ServerAddr, wire.Upload, cfg.Protocol, cfg.RemoteName)
	if err != nil {
		return Result{}, err
	}

	sess := session.New(sock, hs.ServerAddr, true, wire.Upload, cfg.Protocol, log)
	if err := sess.Run(ctx, src, nil); err != nil {
		return Result{}, err
	}

	return Result{BytesTransferred: info.Size(), Duration: time.Since(start)}, nil
}

// Download implements the client download half of the session-start
// API: (server_addr, remote_name, local_dir, protocol) → Result.
func Download(ctx context.Context, cfg DownloadConfig) (Result, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	sock, err := netsock.Listen(&net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return Result{}, session.NewError(session.KindNetworkError, err)
	}
	defer sock.Close()

	start := time.Now()
	hs, err := session.ClientHandshake(ctx, sock, cfg.ServerAddr, wire.Download, cfg.Protocol, cfg.RemoteName)
	if err != nil {
		return Result{}, err
	}

	destPath := filepath.Join(cfg.LocalDir, filepath.Base(cfg.RemoteName))
	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Result{}, session.NewError(session.KindFileIO, err)
	}
	defer dst.Close()

	sess := session.New(sock, hs.ServerAddr, true, wire.Download, cfg.Protocol, log)
	if err := sess.Run(ctx, nil, dst); err != nil {
		return Result{}, err
	}

	return Result{BytesTransferred: int64(hs.FileSize), Duration: time.Since(start)}, nil
}
