package realtime

import (
	"context"
	"time"
)

func contextWithOpTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
