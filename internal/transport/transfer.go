package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"analysisops/internal/events"
)

const (
	opUpload   = "upload"
	opDownload = "download"

	transferChunk = 256 << 10
	// progress is logged at most every this many bytes
	progressStep = 4 << 20
)

// Upload copies local to remote through a sibling ".part-<uuid>" file that is renamed
// over remote on success and removed on any failure. It returns the bytes written.
func (s *Session) Upload(ctx context.Context, local, remote string) (int64, error) {
	src, err := os.Open(local)
	if err != nil {
		return 0, &TransferError{Op: opUpload, Path: local, Reason: "local file missing or unreadable", Err: err}
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, &TransferError{Op: opUpload, Path: local, Reason: "stat local file", Err: err}
	}
	if info.IsDir() {
		return 0, &TransferError{Op: opUpload, Path: local, Reason: "local path is a directory"}
	}

	sc, err := s.sftpClient()
	if err != nil {
		return 0, s.transferErr(opUpload, remote, "open sftp", err)
	}

	partial := remote + ".part-" + uuid.NewString()
	dst, err := sc.Create(partial)
	if err != nil {
		return 0, s.transferErr(opUpload, remote, "remote path unwritable", err)
	}

	total := info.Size()
	emit := events.FromContext(ctx, s.emit)
	emit.Logf(opUpload, "uploading %s -> %s (%d bytes)", local, remote, total)

	n, err := copyWithProgress(ctx, dst, src, func(done int64) {
		emit.Logf(opUpload, "uploaded %d of %d bytes", done, total)
	})
	if cerr := dst.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err == nil {
		if cerr := sc.Chmod(partial, info.Mode().Perm()); cerr != nil {
			err = cerr
		}
	}
	if err == nil {
		err = renameRemote(sc, partial, remote)
	}
	if err != nil {
		_ = sc.Remove(partial)
		if ctx.Err() != nil {
			return n, &TransferError{Op: opUpload, Path: remote, Reason: "cancelled", Err: ctx.Err()}
		}
		return n, s.transferErr(opUpload, remote, "transfer failed", err)
	}

	emit.Logf(opUpload, "uploaded %d of %d bytes", n, total)
	return n, nil
}

type remoteRenamer interface {
	PosixRename(oldname, newname string) error
	Rename(oldname, newname string) error
	Remove(path string) error
}

// renameRemote prefers posix-rename@openssh.com, which replaces the target atomically.
func renameRemote(sc remoteRenamer, from, to string) error {
	if err := sc.PosixRename(from, to); err == nil {
		return nil
	}
	_ = sc.Remove(to)
	if err := sc.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s: %w", from, err)
	}
	return nil
}

// Download copies remote to local via a temp file in the destination directory.
func (s *Session) Download(ctx context.Context, remote, local string) (int64, error) {
	sc, err := s.sftpClient()
	if err != nil {
		return 0, s.transferErr(opDownload, remote, "open sftp", err)
	}

	src, err := sc.Open(remote)
	if err != nil {
		return 0, s.transferErr(opDownload, remote, "remote path unreadable", err)
	}
	defer src.Close()

	var total int64 = -1
	if info, err := src.Stat(); err == nil {
		total = info.Size()
	}

	dir := filepath.Dir(local)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, &TransferError{Op: opDownload, Path: local, Reason: "create local directory", Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(local)+".part-*")
	if err != nil {
		return 0, &TransferError{Op: opDownload, Path: local, Reason: "local path unwritable", Err: err}
	}

	emit := events.FromContext(ctx, s.emit)
	emit.Logf(opDownload, "downloading %s -> %s", remote, local)
	n, err := copyWithProgress(ctx, tmp, src, func(done int64) {
		emit.Logf(opDownload, "downloaded %d of %d bytes", done, total)
	})
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), local)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		if ctx.Err() != nil {
			return n, &TransferError{Op: opDownload, Path: remote, Reason: "cancelled", Err: ctx.Err()}
		}
		return n, s.transferErr(opDownload, remote, "transfer failed", err)
	}

	emit.Logf(opDownload, "downloaded %d bytes to %s", n, local)
	return n, nil
}

func (s *Session) transferErr(op, path, reason string, err error) error {
	if errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrNotConnected) {
		return &TransferError{Op: op, Path: path, Reason: reason, Err: err}
	}
	if s.lost() {
		_, why := s.State()
		return &TransferError{Op: op, Path: path, Reason: "connection lost", Err: fmt.Errorf("%w: %s", ErrConnectionLost, why)}
	}
	return &TransferError{Op: op, Path: path, Reason: reason, Err: err}
}

// copyWithProgress copies in chunks, checking ctx between chunks and calling
// progress roughly every progressStep bytes.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, progress func(int64)) (int64, error) {
	buf := make([]byte, transferChunk)
	var written, nextReport int64 = 0, progressStep
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
			if written >= nextReport {
				progress(written)
				nextReport = written + progressStep
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
