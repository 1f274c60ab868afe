// Package ingest consumes scanner records from NATS JetStream and
// feeds them to the matching engine. One subject per chain; batches
// are acknowledged only after the engine has durably absorbed them,
// so a crash between delivery and commit ends in redelivery, which
// the engine tolerates.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	logger "github.com/sirupsen/logrus"

	"github.com/obridge/maker-go/matcher"
)

// BatchHandler absorbs one decoded batch. In production this is
// matcher.Engine.HandleBatch.
type BatchHandler func(ctx context.Context, txs []*matcher.Transaction) error

// acker is the slice of *nats.Msg the workers need.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
}

type job struct {
	msg acker
	txs []*matcher.Transaction
}

type chainSource interface {
	ChainIDs() []uint64
}

type Consumer struct {
	cfg     *Config
	handler BatchHandler
	chains  chainSource

	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription

	jobs   chan job
	wg     sync.WaitGroup
	closed chan struct{}
}

// NewConsumer dials the server and prepares the JetStream context.
// Nothing is subscribed until Start.
func NewConsumer(cfg *Config, chains chainSource, handler BatchHandler) (*Consumer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	closed := make(chan struct{})
	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithField("error", err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(closed)
		}),
	)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Consumer{
		cfg:     cfg,
		handler: handler,
		chains:  chains,
		conn:    conn,
		js:      js,
		jobs:    make(chan job, cfg.QueueSize),
		closed:  closed,
	}, nil
}

// Start subscribes to this instance's share of the chains and runs the
// worker pool until ctx is cancelled. Blocks; run it in a goroutine.
func (c *Consumer) Start(ctx context.Context) error {
	workers := c.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.work()
	}

	for _, chainID := range c.chains.ChainIDs() {
		if !OwnsChain(c.cfg, chainID) {
			continue
		}
		subject := fmt.Sprintf("%s.%d", c.cfg.SubjectPrefix, chainID)
		durable := fmt.Sprintf("%s-%d", c.cfg.DurableName, chainID)
		sub, err := c.js.Subscribe(subject, c.dispatch,
			nats.Durable(durable),
			nats.ManualAck(),
			nats.AckWait(c.cfg.AckWait),
		)
		if err != nil {
			c.stop()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		logger.WithFields(logger.Fields{
			"subject": subject,
			"durable": durable,
		}).Info("ingest subscribed")
		c.subs = append(c.subs, sub)
	}

	<-ctx.Done()
	c.stop()
	return ctx.Err()
}

// stop drains the connection, which finishes every in-flight dispatch
// callback before the closed handler fires. Only then is the job
// channel closed, so workers see all queued batches.
func (c *Consumer) stop() {
	if err := c.conn.Drain(); err != nil {
		logger.WithField("error", err).Warn("nats drain failed")
		c.conn.Close()
	}
	<-c.closed
	c.subs = nil
	close(c.jobs)
	c.wg.Wait()
}

// dispatch runs on the subscription goroutine. Malformed payloads are
// acknowledged and dropped, redelivering them can never help.
func (c *Consumer) dispatch(msg *nats.Msg) {
	txs, err := DecodeBatch(msg.Data)
	if err != nil {
		logger.WithFields(logger.Fields{
			"subject": msg.Subject,
			"error":   err,
		}).Warn("dropping undecodable batch")
		msg.Ack()
		return
	}
	if len(txs) == 0 {
		msg.Ack()
		return
	}
	c.jobs <- job{msg: msg, txs: txs}
}

// work runs until the job channel closes. A fresh context per batch
// keeps drained batches finishing after the outer context is gone.
func (c *Consumer) work() {
	defer c.wg.Done()
	for j := range c.jobs {
		if err := c.handler(context.Background(), j.txs); err != nil {
			logger.WithField("error", err).Error("batch handling failed, requesting redelivery")
			j.msg.Nak()
			continue
		}
		j.msg.Ack()
	}
}

// DecodeBatch parses one message payload, either a JSON array of
// records or a single record object.
func DecodeBatch(data []byte) ([]*matcher.Transaction, error) {
	var txs []*matcher.Transaction
	if err := json.Unmarshal(data, &txs); err == nil {
		return txs, nil
	}
	var one matcher.Transaction
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []*matcher.Transaction{&one}, nil
}

// OwnsChain reports whether this instance handles the chain under the
// configured sharding.
func OwnsChain(cfg *Config, chainID uint64) bool {
	if cfg.InstanceCount <= 1 {
		return true
	}
	return chainID%uint64(cfg.InstanceCount) == uint64(cfg.InstanceID)
}
