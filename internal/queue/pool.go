package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-fdpstat/internal/constants"
	"github.com/ehrlich-b/go-fdpstat/internal/interfaces"
	"github.com/ehrlich-b/go-fdpstat/internal/logging"
)

var (
	// ErrPoolEmpty is returned by Acquire when every queue is in use
	ErrPoolEmpty = errors.New("no idle queue in pool")

	// ErrQueueNotAcquired is returned when releasing a queue that is idle or foreign
	ErrQueueNotAcquired = errors.New("queue not acquired from this pool")
)

// PoolConfig configures a queue pool
type PoolConfig struct {
	Device   interfaces.Device
	Count    int
	Depth    int
	Observer interfaces.Observer
	Logger   *logging.Logger
}

// Pool owns a fixed set of queues created together and torn down together.
// Idle queues are handed out in FIFO order.
type Pool struct {
	queues []*Queue
	logger *logging.Logger

	mu   sync.Mutex
	idle []int
	busy []bool
}

// initTxn records queues created so far so a failed pool initialization
// can tear them down in reverse order.
type initTxn struct {
	created []*Queue
}

func (t *initTxn) add(q *Queue) {
	t.created = append(t.created, q)
}

func (t *initTxn) rollback() error {
	var errs []error
	for i := len(t.created) - 1; i >= 0; i-- {
		if err := t.created[i].Terminate(); err != nil {
			errs = append(errs, err)
		}
	}
	t.created = nil
	return errors.Join(errs...)
}

func (t *initTxn) commit() []*Queue {
	queues := t.created
	t.created = nil
	return queues
}

// NewPool creates config.Count queues. Either every queue is created or
// none remain: a failure at queue k terminates queues 0..k-1.
func NewPool(config PoolConfig) (*Pool, error) {
	if config.Count < 1 || config.Count > constants.MaxQueues {
		return nil, fmt.Errorf("queue count %d out of range [1,%d]", config.Count, constants.MaxQueues)
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}

	logger.SetupStart("queue_init")
	txn := &initTxn{}
	for i := 0; i < config.Count; i++ {
		q, err := New(Config{
			ID:       i,
			Depth:    config.Depth,
			Device:   config.Device,
			Observer: config.Observer,
			Logger:   logger,
		})
		if err != nil {
			created := len(txn.created)
			if rbErr := txn.rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			logger.SetupError("queue_init", err)
			logger.Debug("rolled back queue pool", "created", created)
			return nil, fmt.Errorf("initialize queue %d of %d: %w", i, config.Count, err)
		}
		txn.add(q)
	}

	p := &Pool{
		queues: txn.commit(),
		logger: logger,
		busy:   make([]bool, config.Count),
	}
	p.idle = make([]int, config.Count)
	for i := range p.idle {
		p.idle[i] = i
	}

	logger.SetupSuccess("queue_init")
	return p, nil
}

// Len returns the number of queues in the pool
func (p *Pool) Len() int { return len(p.queues) }

// Queue returns the queue with the given index
func (p *Pool) Queue(i int) *Queue {
	if i < 0 || i >= len(p.queues) {
		return nil
	}
	return p.queues[i]
}

// Idle returns the number of queues available to Acquire
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Acquire hands out the longest-idle queue
func (p *Pool) Acquire() (*Queue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) == 0 {
		return nil, ErrPoolEmpty
	}
	i := p.idle[0]
	p.idle = p.idle[1:]
	p.busy[i] = true
	return p.queues[i], nil
}

// Release returns an acquired queue to the back of the idle list
func (p *Pool) Release(q *Queue) error {
	if q == nil {
		return ErrQueueNotAcquired
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	i := q.ID()
	if i < 0 || i >= len(p.queues) || p.queues[i] != q || !p.busy[i] {
		return ErrQueueNotAcquired
	}
	p.busy[i] = false
	p.idle = append(p.idle, i)
	return nil
}

// TerminateAll terminates every queue in index order, continuing past
// failures. It returns one error per queue that failed to terminate.
func (p *Pool) TerminateAll() []error {
	p.mu.Lock()
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, q := range p.queues {
		if err := q.Terminate(); err != nil {
			p.logger.Warn("queue termination failed", "queue_id", q.ID(), "error", err)
			errs = append(errs, err)
		}
	}
	return errs
}
