// Package publish is the collector's production side of the message
// bus: it owns the Kafka producer client, the bounded outbound queue,
// and the envelope/partitioning rules every published record follows.
package publish

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/routebeacon/bgpmond/internal/metrics"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"
)

// Publisher is the single interface the rest of the collector
// produces through; KafkaPublisher is its only implementation. A
// SQL/database-backed publisher was considered and dropped — the
// design target is the bus backend only.
type Publisher interface {
	// Publish enqueues value, keyed by key, on the named topic. It
	// blocks when the outbound queue is full: this is the intended
	// back-pressure path back to the sessions producing events.
	Publish(ctx context.Context, topic string, key, value []byte) error

	// Ping reports whether the producer currently has a usable broker
	// connection.
	Ping(ctx context.Context) error

	Close()
}

type outboundRecord struct {
	rec       *kgo.Record
	enqueued  time.Time
	topicVar  string
}

// KafkaPublisher is a franz-go producer client fronted by a bounded
// channel and a single writer goroutine, per the bounded-channel
// replacement for the legacy raw-threads-plus-safeQueue design.
type KafkaPublisher struct {
	client *kgo.Client
	logger *zap.Logger

	queue chan outboundRecord

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	lastConn sync.Mutex
	connOK   bool
}

// Config is the subset of Kafka settings the publisher needs to build
// its client; internal/config.KafkaConfig supplies these.
type Config struct {
	Brokers               []string
	ClientID              string
	QueueCapacity         int
	CompressionCodec      string
	MessageMaxBytes       int
	RequestRetries        int
	RetryBackoff          time.Duration
	ProduceTimeout        time.Duration
	TLSConfig             *tls.Config
	SASLMechanism         sasl.Mechanism
}

// NewKafkaPublisher builds and connects a producer client, installing
// the fixed-formula partitioner and a broker-disconnect hook that
// feeds BrokerDisconnectsTotal and the Ping() health signal.
func NewKafkaPublisher(cfg Config, logger *zap.Logger) (*KafkaPublisher, error) {
	p := &KafkaPublisher{
		logger: logger,
		queue:  make(chan outboundRecord, cfg.QueueCapacity),
		connOK: true,
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RecordPartitioner(Partitioner),
		kgo.ProducerBatchMaxBytes(int32(cfg.MessageMaxBytes)),
		kgo.RequestRetries(cfg.RequestRetries),
		kgo.RetryBackoffFn(func(tries int) time.Duration {
			return cfg.RetryBackoff * time.Duration(1<<uint(min(tries, 6)))
		}),
		kgo.WithHooks(&brokerHooks{p: p}),
	}
	switch cfg.CompressionCodec {
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "none", "":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.NoCompression()))
	}
	if cfg.TLSConfig != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLSConfig))
	}
	if cfg.SASLMechanism != nil {
		opts = append(opts, kgo.SASL(cfg.SASLMechanism))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("building kafka producer client: %w", err)
	}
	p.client = client

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)

	return p, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// run is the single writer goroutine: it drains the bounded queue and
// hands each record to the producer client, recording publish latency
// from enqueue to broker acknowledgment.
func (p *KafkaPublisher) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			metrics.PublishQueueDepth.Set(float64(len(p.queue)))
			start := item.enqueued
			topicVar := item.topicVar
			p.client.Produce(ctx, item.rec, func(_ *kgo.Record, err error) {
				if err != nil {
					metrics.PublishErrorsTotal.WithLabelValues(topicVar).Inc()
					p.logger.Warn("produce failed",
						zap.String("topic_var", topicVar),
						zap.Error(err),
					)
					return
				}
				metrics.PublishLatency.WithLabelValues(topicVar).Observe(time.Since(start).Seconds())
			})
		}
	}
}

// Publish enqueues a record for the given topic and key. Metrics for
// records enqueued here carry an empty topic_var label (PublishLabeled
// sets it); Publish itself treats topic/key/value opaquely.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	return p.publish(ctx, topic, "", key, value)
}

// PublishLabeled is Publish with an explicit topic_var label for
// latency/error metrics, used by callers that already know which
// internal topic variable they're producing on.
func (p *KafkaPublisher) PublishLabeled(ctx context.Context, topicVar, topic string, key, value []byte) error {
	return p.publish(ctx, topic, topicVar, key, value)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic, topicVar string, key, value []byte) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	item := outboundRecord{rec: rec, enqueued: time.Now(), topicVar: topicVar}
	select {
	case p.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping reports the producer's last-observed broker connectivity.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	p.lastConn.Lock()
	ok := p.connOK
	p.lastConn.Unlock()
	if !ok {
		return fmt.Errorf("publish: no broker connection")
	}
	return p.client.Ping(ctx)
}

// Close flushes the outbound queue (bounded to 2s, per the graceful
// shutdown budget) and closes the underlying client.
func (p *KafkaPublisher) Close() {
	p.cancel()
	p.wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.client.Flush(flushCtx); err != nil {
		p.logger.Warn("producer flush on shutdown did not complete", zap.Error(err))
	}
	p.client.Close()
}

func (p *KafkaPublisher) setConnected(ok bool) {
	p.lastConn.Lock()
	p.connOK = ok
	p.lastConn.Unlock()
}

// brokerHooks observes broker connect/disconnect events so Ping() and
// BrokerDisconnectsTotal reflect producer connectivity in near
// real-time, without polling.
type brokerHooks struct {
	p *KafkaPublisher
}

func (h *brokerHooks) OnBrokerConnect(_ kgo.BrokerMetadata, _ time.Duration, _ net.Conn, err error) {
	if err == nil {
		h.p.setConnected(true)
	}
}

func (h *brokerHooks) OnBrokerDisconnect(_ kgo.BrokerMetadata, _ net.Conn) {
	h.p.setConnected(false)
	metrics.BrokerDisconnectsTotal.Inc()
}
