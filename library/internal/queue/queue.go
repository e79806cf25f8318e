package queue

import (
	"context"
	"strconv"

	"github.com/Astemirdum/library-desk/library/internal/model"
	"github.com/Astemirdum/library-desk/pkg/circuit_breaker"
	"github.com/IBM/sarama"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Publisher interface {
	Publish(ctx context.Context, event model.LoanEvent) error
}

type Noop struct{}

func (Noop) Publish(context.Context, model.LoanEvent) error { return nil }

type kafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	cb       circuit_breaker.CircuitBreaker
	log      *zap.Logger
}

// NewKafkaPublisher sends loan events keyed by user id, so one user's events stay ordered.
func NewKafkaPublisher(producer sarama.SyncProducer, topic string, cb circuit_breaker.CircuitBreaker, log *zap.Logger) Publisher {
	return &kafkaPublisher{
		producer: producer,
		topic:    topic,
		cb:       cb,
		log:      log.Named("publisher"),
	}
}

func (p *kafkaPublisher) Publish(_ context.Context, event model.LoanEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "json.Marshal")
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(event.UserID, 10)),
		Value: sarama.ByteEncoder(data),
	}
	return p.cb.Call(func() error {
		partition, offset, err := p.producer.SendMessage(msg)
		if err != nil {
			return errors.Wrap(err, "producer.SendMessage")
		}
		p.log.Debug("event sent",
			zap.String("type", string(event.Type)),
			zap.String("loanUid", event.LoanUid),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset))
		return nil
	})
}
