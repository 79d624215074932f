package relay

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ctagard/deepdbg/internal/errors"
	"github.com/ctagard/deepdbg/internal/wire"
)

// DefaultDialTimeout bounds how long Send keeps retrying to connect.
const DefaultDialTimeout = 2 * time.Second

// Send connects to the socket at path, writes payload in a single write and
// closes the connection. Dialing is retried with exponential backoff until
// timeout, since a listener may still be starting.
func Send(ctx context.Context, path string, payload []byte, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = timeout

	var conn net.Conn
	dial := func() error {
		var d net.Dialer
		c, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(dial, backoff.WithContext(b, ctx)); err != nil {
		return errors.ChannelUnavailable(path, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(payload); err != nil {
		return errors.ChannelUnavailable(path, err)
	}
	return nil
}

// Unblock releases the hook waiting on the block channel at path.
func Unblock(ctx context.Context, path string, timeout time.Duration) error {
	return Send(ctx, path, []byte(wire.CommandStopped), timeout)
}

// Stop asks the relay server listening at path to exit.
func Stop(ctx context.Context, path string, timeout time.Duration) error {
	return Send(ctx, path, []byte(wire.CommandStop), timeout)
}
