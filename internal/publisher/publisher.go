// Package publisher implements the downstream notification publisher (C6):
// upfront schema registration against the target schema registry, then a
// keyed, synchronously-confirmed publish of each Notification to the
// target topic. Grounded on the teacher's schemaRegistryEncoder
// (internal/impl/confluent/processor_schema_registry_encode.go) for the
// register-then-publish shape and on franz-go's kgo.Client for the
// producer itself, the same library SPEC_FULL.md selects for C4.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/streamwatch/schema-change-notifier/internal/config"
	"github.com/streamwatch/schema-change-notifier/internal/errs"
	"github.com/streamwatch/schema-change-notifier/internal/logging"
	"github.com/streamwatch/schema-change-notifier/internal/notification"
)

const (
	registerTimeout = 10 * time.Second
	publishTimeout  = 30 * time.Second
	closeTimeout    = 10 * time.Second
)

// notificationAvroSchema is the Avro record schema pre-registered for the
// notification subject: one field per Notification envelope field plus a
// single nullable "payload" string. The variant bodies of the published
// JSON (dataContractRegistered, schemaDeleted, ...) have no field of their
// own in it. It is registered as a string literal
// (not generated from the Go struct) because the wire contract is the
// schema, not the struct; goavro is used to validate it compiles before
// it is ever sent to the registry.
const notificationAvroSchema = `{
  "type": "record",
  "name": "SchemaChangeNotification",
  "fields": [
    {"name": "eventType", "type": "string"},
    {"name": "schemaId", "type": ["null", "int"], "default": null},
    {"name": "subject", "type": ["null", "string"], "default": null},
    {"name": "version", "type": ["null", "string"], "default": null},
    {"name": "schemaType", "type": ["null", "string"], "default": null},
    {"name": "timestamp", "type": "string"},
    {"name": "auditLogEventId", "type": ["null", "string"], "default": null},
    {"name": "environmentId", "type": ["null", "string"], "default": null},
    {"name": "payload", "type": ["null", "string"], "default": null}
  ]
}`

// Publisher serializes and publishes Notification records to the target
// topic, having pre-registered the notification schema at construction.
type Publisher struct {
	client    *kgo.Client
	topic     string
	dryRun    bool
	logger    logging.Logger
	httpCl    *http.Client
	regURL    string
	regKey    string
	regSecret string
}

// New constructs a Publisher. It pre-registers the notification schema
// against the target schema registry (spec.md §4.6 step 1) before
// returning, raising *errs.PublisherFatalError on failure unless dryRun is
// set, per spec.md §4.7 step 1's "dry-run skips the registry write but
// still validates the schema compiles."
func New(ctx context.Context, targetCfg config.TargetConfig, regCfg config.TargetSchemaRegistryConfig, dryRun bool, logger logging.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := validateAvroSchema(notificationAvroSchema); err != nil {
		return nil, &errs.PublisherFatalError{Subject: subjectName(targetCfg.Topic), Cause: fmt.Errorf("notification schema does not compile: %w", err)}
	}

	p := &Publisher{
		topic:     targetCfg.Topic,
		dryRun:    dryRun,
		logger:    logger,
		httpCl:    &http.Client{Timeout: registerTimeout},
		regURL:    regCfg.URL,
		regKey:    regCfg.APIKey,
		regSecret: regCfg.APISecret,
	}

	if !dryRun {
		if err := p.registerSchema(ctx); err != nil {
			return nil, &errs.PublisherFatalError{Subject: subjectName(targetCfg.Topic), Cause: err}
		}
	} else {
		logger.Infof("publisher: dry run, skipping schema registration for subject %s", subjectName(targetCfg.Topic))
	}

	if dryRun {
		return p, nil
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(targetCfg.BootstrapServers),
		kgo.DefaultProduceTopic(targetCfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(16384),
		kgo.RecordRetries(3),
		kgo.RetryBackoffFn(func(int) time.Duration { return time.Second }),
		kgo.RequestRetries(3),
		kgo.SASL(plainAuth(targetCfg.APIKey, targetCfg.APISecret)),
		kgo.DialTLSConfig(nil),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, &errs.PublisherFatalError{Subject: subjectName(targetCfg.Topic), Cause: fmt.Errorf("construct kafka producer: %w", err)}
	}
	p.client = client

	return p, nil
}

// subjectName derives the subject a topic's value schema is registered
// under, following the standard "<topic>-value" convention (spec.md §4.6).
func subjectName(topic string) string {
	return topic + "-value"
}

func validateAvroSchema(schema string) error {
	_, err := goavroCodec(schema)
	return err
}

func (p *Publisher) registerSchema(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{"schema": notificationAvroSchema})
	if err != nil {
		return fmt.Errorf("marshal schema registration payload: %w", err)
	}

	reqURL := p.regURL + "/subjects/" + subjectName(p.topic) + "/versions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build schema registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	req.SetBasicAuth(p.regKey, p.regSecret)

	resp, err := p.httpCl.Do(req)
	if err != nil {
		return fmt.Errorf("register notification schema: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("register notification schema: registry returned status %d", resp.StatusCode)
	}
	return nil
}

// Publish serializes n to JSON, publishes it to the target topic keyed by
// n.MarshalKey(), and blocks for synchronous broker confirmation (spec.md
// §4.6 step 3). A dry-run publisher logs the record instead of sending it.
func (p *Publisher) Publish(ctx context.Context, n *notification.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := n.MarshalKey()

	if p.dryRun {
		p.logger.Infof("publisher: dry run, would publish key=%s payload=%s", key, string(payload))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(key),
		Value: payload,
	}

	resultCh := make(chan error, 1)
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		resultCh <- err
	})

	select {
	case err := <-resultCh:
		if err != nil {
			return &errs.PublisherTransientError{Subject: subjectName(p.topic), Cause: err}
		}
		return nil
	case <-ctx.Done():
		return &errs.PublisherTransientError{Subject: subjectName(p.topic), Cause: ctx.Err()}
	}
}

// Close flushes any buffered records (bounded by closeTimeout) and closes
// the underlying producer.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warnf("publisher: flush on close failed: %v", err)
	}
	p.client.Close()
	return nil
}
