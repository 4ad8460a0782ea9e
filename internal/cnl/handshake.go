package cnl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

const hello = "CANNELLONIv1"

var (
	// ErrHandshake wraps every handshake failure.
	ErrHandshake = errors.New("cannelloni handshake")
	ErrBadHello  = errors.New("unexpected hello")
)

// Handshake exchanges the cannelloni hello on c. Both directions run
// concurrently because either peer may speak first. The deadline is the
// earlier of timeout and the context deadline; the connection deadline is
// cleared on return.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.SetDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %v", ErrHandshake, err)
	}
	defer c.SetDeadline(time.Time{})

	errCh := make(chan error, 2)
	go func() {
		_, err := io.WriteString(c, hello)
		errCh <- err
	}()
	go func() {
		buf := make([]byte, len(hello))
		_, err := io.ReadFull(c, buf)
		if err == nil && string(buf) != hello {
			err = fmt.Errorf("%w: %q", ErrBadHello, buf)
		}
		errCh <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrHandshake, ctx.Err())
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("%w: %w", ErrHandshake, err)
			}
		}
	}
	return nil
}
