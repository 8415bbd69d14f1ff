package server

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/mlindqvist/rft/internal/session"
	"github.com/mlindqvist/rft/internal/wire"
)

// openForOperation resolves a SYN's operation against the storage
// directory: UPLOAD creates a new file, failing with FILE_EXISTS if
// one is already there; DOWNLOAD opens an existing file, failing with
// FILE_NOT_FOUND if absent. The returned size is only meaningful for
// DOWNLOAD (it becomes the SYN-ACK's file_size payload).
func openForOperation(storageDir string, op wire.Operation, name string) (*os.File, uint64, *session.Error) {
	path := filepath.Join(storageDir, filepath.Base(name))

	switch op {
	case wire.Upload:
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				return nil, 0, session.NewError(session.KindFileExists, err)
			}
			return nil, 0, session.NewError(session.KindFileIO, err)
		}
		return f, 0, nil

	default: // wire.Download
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, 0, session.NewError(session.KindFileNotFound, err)
			}
			return nil, 0, session.NewError(session.KindFileIO, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, session.NewError(session.KindFileIO, err)
		}
		return f, uint64(info.Size()), nil
	}
}
