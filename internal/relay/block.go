package relay

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"time"

	"github.com/ctagard/deepdbg/internal/errors"
	"github.com/ctagard/deepdbg/internal/wire"
)

// BlockChannel is the private socket a blocking hook waits on until its
// debug session ends.
type BlockChannel struct {
	path     string
	listener net.Listener
}

// ListenBlock opens the block channel at path. Open it before announcing
// the launch so that an early release is not lost.
func ListenBlock(path string) (*BlockChannel, error) {
	l, err := listenUnix(path)
	if err != nil {
		return nil, errors.ChannelUnavailable(path, err)
	}
	return &BlockChannel{path: path, listener: l}, nil
}

// Path returns the socket path.
func (b *BlockChannel) Path() string {
	return b.path
}

// Wait blocks until a stopped message arrives or ctx ends. Connections with
// other content are ignored.
func (b *BlockChannel) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = b.listener.Close() })
	defer stop()

	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.ChannelUnavailable(b.path, err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(connReadTimeout))
		data, _ := io.ReadAll(io.LimitReader(conn, 64))
		conn.Close()

		if string(bytes.TrimSpace(data)) == wire.CommandStopped {
			return nil
		}
	}
}

// Close stops listening and removes the socket.
func (b *BlockChannel) Close() error {
	_ = b.listener.Close()
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
