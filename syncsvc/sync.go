package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"adbhost/adberrors"
	"adbhost/logging"
	"adbhost/stream"
)

const (
	idStat = "STAT"
	idList = "LIST"
	idSend = "SEND"
	idRecv = "RECV"
	idData = "DATA"
	idDone = "DONE"
	idDent = "DENT"
	idFail = "FAIL"
	idOkay = "OKAY"
)

// Service speaks the sync sub-protocol over one Engine, opening a fresh
// "sync:" stream for each operation.
type Service struct {
	eng *stream.Engine
	log logging.Logger
}

// New returns a Service backed by eng.
func New(eng *stream.Engine, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop{}
	}
	return &Service{eng: eng, log: log}
}

func (s *Service) open(ctx context.Context) (*syncConn, error) {
	st, err := s.eng.Open(ctx, "sync:")
	if err != nil {
		return nil, err
	}
	return &syncConn{st: st}, nil
}

// Stat retrieves the mode/size/mtime of a remote path.
func (s *Service) Stat(ctx context.Context, path string) (*SyncStat, error) {
	c, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer c.st.Close()

	if err := c.sendRequest(ctx, idStat, path); err != nil {
		return nil, err
	}
	id, err := c.readID(ctx)
	if err != nil {
		return nil, err
	}
	switch id {
	case idStat:
		data, err := c.readN(ctx, 12)
		if err != nil {
			return nil, err
		}
		st := &SyncStat{
			Mode:  leGet(data[0:4]),
			Size:  leGet(data[4:8]),
			Mtime: leGet(data[8:12]),
		}
		if st.Mode == 0 {
			return nil, &adberrors.SyncError{Op: "stat", Path: path, Message: "no such file or directory"}
		}
		return st, nil
	case idFail:
		msg, err := c.readFailureMessage(ctx)
		if err != nil {
			return nil, err
		}
		return nil, &adberrors.SyncError{Op: "stat", Path: path, Message: msg}
	default:
		return nil, fmt.Errorf("%w: unexpected sync reply %q to STAT", adberrors.ErrProtocol, id)
	}
}

// List returns the directory entries at path.
func (s *Service) List(ctx context.Context, path string) ([]SyncEntry, error) {
	c, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer c.st.Close()

	if err := c.sendRequest(ctx, idList, path); err != nil {
		return nil, err
	}

	var entries []SyncEntry
	for {
		id, err := c.readID(ctx)
		if err != nil {
			return nil, err
		}
		switch id {
		case idDent:
			data, err := c.readN(ctx, 16)
			if err != nil {
				return nil, err
			}
			nameLen := leGet(data[12:16])
			name, err := c.readN(ctx, int(nameLen))
			if err != nil {
				return nil, err
			}
			entries = append(entries, SyncEntry{
				SyncStat: SyncStat{
					Mode:  leGet(data[0:4]),
					Size:  leGet(data[4:8]),
					Mtime: leGet(data[8:12]),
				},
				Name: string(name),
			})
		case idDone:
			if _, err := c.readN(ctx, 16); err != nil {
				return nil, err
			}
			return entries, nil
		case idFail:
			msg, err := c.readFailureMessage(ctx)
			if err != nil {
				return nil, err
			}
			return nil, &adberrors.SyncError{Op: "list", Path: path, Message: msg}
		default:
			return nil, fmt.Errorf("%w: unexpected sync reply %q to LIST", adberrors.ErrProtocol, id)
		}
	}
}

// Push copies the local file at localPath to remotePath, setting mode on
// the remote file. It stats the local file before opening any sync
// traffic, so a missing source file fails before the device is touched.
func (s *Service) Push(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("syncsvc: push: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("syncsvc: push: %w", err)
	}
	if mode == 0 {
		mode = info.Mode().Perm()
	}

	c, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer c.st.Close()

	arg := remotePath + "," + strconv.FormatUint(uint64(mode.Perm())|modeIFREG, 10)
	if err := c.sendRequest(ctx, idSend, arg); err != nil {
		return err
	}

	buf := make([]byte, maxChunk)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if err := c.sendChunk(ctx, idData, buf[:n]); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fmt.Errorf("syncsvc: push: read %s: %w", localPath, readErr)
		}
	}
	// DONE carries the mtime in place of a length field: id + mtime(4).
	done := append([]byte(idDone), leUint32(uint32(info.ModTime().Unix()))...)
	if err := c.writeAll(ctx, done); err != nil {
		return err
	}

	id, err := c.readID(ctx)
	if err != nil {
		return err
	}
	switch id {
	case idOkay:
		return nil
	case idFail:
		msg, err := c.readFailureMessage(ctx)
		if err != nil {
			return err
		}
		return &adberrors.SyncError{Op: "push", Path: remotePath, Message: msg}
	default:
		return fmt.Errorf("%w: unexpected sync reply %q after push DONE", adberrors.ErrProtocol, id)
	}
}

// Pull copies remotePath from the device to localPath, writing to a
// ".part" sibling and renaming it into place only once the transfer
// completes, so an interrupted pull never leaves a corrupt file at
// localPath.
func (s *Service) Pull(ctx context.Context, remotePath, localPath string) error {
	c, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer c.st.Close()

	if err := c.sendRequest(ctx, idRecv, remotePath); err != nil {
		return err
	}

	partPath := localPath + ".part"
	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("syncsvc: pull: create %s: %w", partPath, err)
	}
	defer os.Remove(partPath)

	for {
		id, err := c.readID(ctx)
		if err != nil {
			out.Close()
			return err
		}
		switch id {
		case idData:
			n, err := c.readLen(ctx)
			if err != nil {
				out.Close()
				return err
			}
			data, err := c.readN(ctx, int(n))
			if err != nil {
				out.Close()
				return err
			}
			if _, err := out.Write(data); err != nil {
				out.Close()
				return fmt.Errorf("syncsvc: pull: write %s: %w", partPath, err)
			}
		case idDone:
			if _, err := c.readN(ctx, 4); err != nil {
				out.Close()
				return err
			}
			if err := out.Sync(); err != nil {
				out.Close()
				return fmt.Errorf("syncsvc: pull: fsync %s: %w", partPath, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("syncsvc: pull: close %s: %w", partPath, err)
			}
			if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
				return fmt.Errorf("syncsvc: pull: %w", err)
			}
			return os.Rename(partPath, localPath)
		case idFail:
			msg, err := c.readFailureMessage(ctx)
			out.Close()
			if err != nil {
				return err
			}
			return &adberrors.SyncError{Op: "pull", Path: remotePath, Message: msg}
		default:
			out.Close()
			return fmt.Errorf("%w: unexpected sync reply %q while pulling", adberrors.ErrProtocol, id)
		}
	}
}

func leGet(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
