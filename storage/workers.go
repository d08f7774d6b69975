package storage

import (
	"context"

	"github.com/ferdipret/cred-task/domain"
)

// Workers runs the command consumer and the snapshot persister in the
// background. The consumer follows the context given to StartWorkers; the
// persister runs until Stop so that it still sees mutations applied while
// the rest of the service drains.
type Workers struct {
	consumerDone  chan struct{}
	persisterDone chan struct{}
	stopPersister context.CancelFunc
}

// StartWorkers starts consumer and persister. Either may be nil.
func StartWorkers(ctx context.Context, consumer *Consumer, persister *Persister, updates <-chan domain.Snapshot) *Workers {
	w := &Workers{
		consumerDone:  make(chan struct{}),
		persisterDone: make(chan struct{}),
	}

	persistCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.stopPersister = cancel

	if consumer != nil {
		go func() {
			defer close(w.consumerDone)
			consumer.Run(ctx)
		}()
	} else {
		close(w.consumerDone)
	}
	if persister != nil {
		go func() {
			defer close(w.persisterDone)
			persister.Run(persistCtx, updates)
		}()
	} else {
		close(w.persisterDone)
	}
	return w
}

// Stop waits for the consumer to exit, then stops the persister and waits
// for its final flush. The context passed to StartWorkers must be cancelled
// first, and any other writers (the HTTP server) should already be drained.
func (w *Workers) Stop() {
	<-w.consumerDone
	w.stopPersister()
	<-w.persisterDone
}
