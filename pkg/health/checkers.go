package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is implemented by *pgxpool.Pool and the redis publisher.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// Queue is a bounded buffer such as the notification dispatcher.
type Queue interface {
	Len() int
	Cap() int
}

// QueueDepthCheck fails when q is filled beyond ratio of its capacity.
func QueueDepthCheck(q Queue, ratio float64) CheckFunc {
	return func(context.Context) error {
		n, c := q.Len(), q.Cap()
		if c > 0 && float64(n) > ratio*float64(c) {
			return errors.Errorf("queue holds %d of %d", n, c)
		}
		return nil
	}
}

// GoroutineCheck fails when the process runs more than threshold goroutines.
func GoroutineCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds %d", n, threshold)
		}
		return nil
	}
}
