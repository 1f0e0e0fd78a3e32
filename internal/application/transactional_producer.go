package application

import (
	"context"
	"sync"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
	"github.com/google/uuid"
)

const metricTransactions = "queuepilot_transactions_total"

// TransactionalProducer wraps broker transactions in a guarded state machine:
// none -> init -> begin -> commit|abort, with begin allowed again after either end.
// Calls from the wrong state are rejected and logged.
type TransactionalProducer struct {
	mu      sync.Mutex
	tx      domain.Transactor
	metrics *MetricsCollector
	state   domain.TxState
	txID    string
}

// NewTransactionalProducer creates a producer in state none.
func NewTransactionalProducer(tx domain.Transactor, metrics *MetricsCollector) *TransactionalProducer {
	metrics.Describe(metricTransactions, "Finished transactions by outcome.", CounterMetric)
	return &TransactionalProducer{tx: tx, metrics: metrics, state: domain.TxNone}
}

// State returns the current state.
func (p *TransactionalProducer) State() domain.TxState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TransactionID returns the id of the current or last transaction.
func (p *TransactionalProducer) TransactionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txID
}

func (p *TransactionalProducer) reject(op string) bool {
	utils.Logger.Warn("transaction call rejected", "op", op, "state", p.state, "err", ErrInvalidTransition)
	return false
}

// InitTransactions registers the producer with the broker. Legal only from none.
func (p *TransactionalProducer) InitTransactions(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLocked(ctx)
}

func (p *TransactionalProducer) initLocked(ctx context.Context) bool {
	if p.state != domain.TxNone {
		return p.reject("init")
	}
	if err := p.tx.InitTransactions(ctx); err != nil {
		utils.Logger.Error("init transactions failed", "err", err)
		return false
	}
	p.state = domain.TxInit
	utils.Logger.Info("transactions initialised", "before", domain.TxNone, "after", p.state)
	return true
}

// BeginTransaction starts a transaction, initialising first when in state none.
func (p *TransactionalProducer) BeginTransaction(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == domain.TxNone && !p.initLocked(ctx) {
		return false
	}
	switch p.state {
	case domain.TxInit, domain.TxCommit, domain.TxAbort:
	default:
		return p.reject("begin")
	}
	if err := p.tx.BeginTransaction(); err != nil {
		utils.Logger.Error("begin transaction failed", "err", err)
		return false
	}
	before := p.state
	p.state = domain.TxBegin
	p.txID = uuid.NewString()
	utils.Logger.Info("transaction begun", "tx", p.txID, "before", before, "after", p.state)
	return true
}

// Send publishes inside the open transaction.
func (p *TransactionalProducer) Send(ctx context.Context, topic string, payload []byte, partition int32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != domain.TxBegin {
		return p.reject("send")
	}
	if err := p.tx.Publish(ctx, topic, payload, partition); err != nil {
		utils.Logger.Error("transactional send failed", "tx", p.txID, "topic", topic, "err", err)
		return false
	}
	return true
}

// CommitTransaction commits the open transaction. A failed commit is followed by an
// abort; if that fails too the producer stays in begin.
func (p *TransactionalProducer) CommitTransaction(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != domain.TxBegin {
		return p.reject("commit")
	}
	if err := p.tx.CommitTransaction(ctx); err != nil {
		utils.Logger.Error("commit transaction failed, aborting", "tx", p.txID, "err", err)
		p.abortLocked(ctx)
		return false
	}
	p.state = domain.TxCommit
	_ = p.metrics.Increment(ctx, metricTransactions, map[string]string{"outcome": "commit"}, 1)
	utils.Logger.Info("transaction committed", "tx", p.txID, "before", domain.TxBegin, "after", p.state)
	return true
}

// AbortTransaction aborts the open transaction.
func (p *TransactionalProducer) AbortTransaction(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != domain.TxBegin {
		return p.reject("abort")
	}
	return p.abortLocked(ctx)
}

func (p *TransactionalProducer) abortLocked(ctx context.Context) bool {
	if err := p.tx.AbortTransaction(ctx); err != nil {
		utils.Logger.Error("abort transaction failed, left in begin", "tx", p.txID, "err", err)
		return false
	}
	p.state = domain.TxAbort
	_ = p.metrics.Increment(ctx, metricTransactions, map[string]string{"outcome": "abort"}, 1)
	utils.Logger.Info("transaction aborted", "tx", p.txID, "before", domain.TxBegin, "after", p.state)
	return true
}
