package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/juiceswap/lds-bridge/internal/ldsapi"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

const (
	defaultPollAttempts = 100
	defaultPollInterval = 7 * time.Second
)

// errLockupNotIndexed is the retryable outcome of a poll that found no
// matching lockup.
var errLockupNotIndexed = errors.New("lockup not indexed yet")

// IndexerPoller waits for the indexer to report a lockup.
type IndexerPoller struct {
	indexer  Indexer
	attempts int
	interval time.Duration
	clock    clock.Clock
	log      *logging.Logger
}

// NewIndexerPoller creates a poller making at most attempts queries,
// interval apart.
func NewIndexerPoller(indexer Indexer, attempts int, interval time.Duration,
	clk clock.Clock, log *logging.Logger) *IndexerPoller {

	if attempts <= 0 {
		attempts = defaultPollAttempts
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &IndexerPoller{
		indexer:  indexer,
		attempts: attempts,
		interval: interval,
		clock:    clk,
		log:      logging.OrDefault(log, "poller"),
	}
}

// Poll queries the indexer until it reports a lockup for preimageHash. The
// first attempt runs immediately. Only a RetryableError leads to another
// attempt; any other error is returned at once. Cancelling ctx stops the
// poll before its next query.
func (p *IndexerPoller) Poll(ctx context.Context, preimageHash string) (*ldsapi.Lockup, error) {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-p.clock.TickAfter(p.interval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lockup, err := p.poll(ctx, preimageHash)
		if err == nil {
			p.log.Debug("Lockup indexed", "attempt", attempt)
			return lockup, nil
		}

		var retryable *RetryableError
		if !errors.As(err, &retryable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrPollingExhausted, p.attempts, lastErr)
}

func (p *IndexerPoller) poll(ctx context.Context, preimageHash string) (*ldsapi.Lockup, error) {
	lockups, err := p.indexer.Lockups(ctx, preimageHash)
	if err != nil {
		return nil, err
	}
	want := ldsapi.Hex0x(preimageHash)
	for i := range lockups {
		if strings.EqualFold(ldsapi.Hex0x(lockups[i].PreimageHash), want) {
			return &lockups[i], nil
		}
	}
	return nil, &RetryableError{Err: errLockupNotIndexed}
}
