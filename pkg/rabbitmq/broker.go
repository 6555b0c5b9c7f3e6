package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/streadway/amqp"
	"gitlab.com/transcodeuz/media-engine/config"
	"gitlab.com/transcodeuz/media-engine/models"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
)

// RabbitMQ - structure that contains rabbit queue and channel
type RabbitMQ struct {
	Queues  map[string]amqp.Queue
	Channel *amqp.Channel
	Logger  logger.Logger
	Cfg     config.Config

	// amqp channels are not safe for concurrent publishing
	mu sync.Mutex
}

// New - returns new RabbitMQ queue and channel
func New(cfg *config.Config, log logger.Logger) (*RabbitMQ, error) {
	log.Info(
		"Dialing to rabbitmq host with",
		logger.String("host", cfg.RabbitMqHost),
		logger.String("user", cfg.RabbitMqUser),
	)

	conn, err := amqp.Dial(
		fmt.Sprintf(
			"amqp://%s:%s@%s:%s/",
			cfg.RabbitMqUser,
			cfg.RabbitMqPassword,
			cfg.RabbitMqHost,
			cfg.RabbitMqPort,
		),
	)

	if err != nil {
		log.Error("Error while connecting to rabbitmq", logger.Error(err))
		return &RabbitMQ{}, err
	}

	log.Info("RabbitMQ connection is created...")

	channel, err := conn.Channel()
	if err != nil {
		log.Error("Error while connecting to channel", logger.Error(err))
		return &RabbitMQ{}, err
	}

	log.Info("RabbitMQ channel is created...")

	listen, err := channel.QueueDeclare(
		cfg.ListenQueue,
		true,
		false,
		false,
		false,
		nil,
	)

	if err != nil {
		log.Error("Error while declaring queue", logger.Error(err))
		return &RabbitMQ{}, err
	}

	write, err := channel.QueueDeclare(
		cfg.WriteQueue,
		true,
		false,
		false,
		false,
		nil,
	)

	if err != nil {
		log.Error("Error while declaring queue", logger.Error(err))
		return &RabbitMQ{}, err
	}

	err = channel.Qos(1, 0, false)
	if err != nil {
		log.Error("Error while setting Qos", logger.Error(err))
		return &RabbitMQ{}, err
	}

	return &RabbitMQ{
		Queues: map[string]amqp.Queue{
			cfg.ListenQueue: listen,
			cfg.WriteQueue:  write,
		},
		Channel: channel,
		Logger:  log,
		Cfg:     *cfg,
	}, nil
}

// PublishJobStatus sends one status update to the write queue
func (r *RabbitMQ) PublishJobStatus(req *models.JobStatusMessage) error {
	jsonByte, err := json.Marshal(req)
	if err != nil {
		r.Logger.Error("Error while marshalling job status", logger.Error(err))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.publish(jsonByte)
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) || strings.Contains(err.Error(), "channel/connection is not open") {
			if rErr := r.reconnectLocked(); rErr != nil {
				r.Logger.Error("Error while reconnecting to rabbitmq", logger.Error(rErr))
				return multierror.Append(err, rErr)
			}
			err = r.publish(jsonByte)
		}
	}
	if err != nil {
		r.Logger.Error("Error while publishing the message", logger.Error(err))
		return err
	}

	return nil
}

func (r *RabbitMQ) publish(body []byte) error {
	return r.Channel.Publish(
		"",
		r.Queues[r.Cfg.WriteQueue].Name,
		true,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Consume starts delivering jobs from the listen queue, acknowledgement is left to the caller
func (r *RabbitMQ) Consume() (<-chan amqp.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.Channel.Consume(
		r.Queues[r.Cfg.ListenQueue].Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
}

func (r *RabbitMQ) Reconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.reconnectLocked()
}

func (r *RabbitMQ) reconnectLocked() error {
	r.Logger.Info("reconnecting to rabbitmq")

	conn, err := amqp.Dial(
		fmt.Sprintf(
			"amqp://%s:%s@%s:%s/",
			r.Cfg.RabbitMqUser,
			r.Cfg.RabbitMqPassword,
			r.Cfg.RabbitMqHost,
			r.Cfg.RabbitMqPort,
		),
	)

	if err != nil {
		r.Logger.Error("Error while connecting to rabbitmq", logger.Error(err))
		return err
	}

	r.Logger.Info("RabbitMQ connection is created...")

	r.Channel, err = conn.Channel()
	if err != nil {
		r.Logger.Error("Error while connecting to channel", logger.Error(err))
		return err
	}

	if err = r.Channel.Qos(1, 0, false); err != nil {
		r.Logger.Error("Error while setting Qos", logger.Error(err))
		return err
	}

	r.Logger.Info("RabbitMQ channel is created...")

	listen, err := r.Channel.QueueDeclare(
		r.Cfg.ListenQueue,
		true,
		false,
		false,
		false,
		nil,
	)

	if err != nil {
		r.Logger.Error("Error while declaring queue", logger.Error(err))
		return err
	}

	write, err := r.Channel.QueueDeclare(
		r.Cfg.WriteQueue,
		true,
		false,
		false,
		false,
		nil,
	)

	if err != nil {
		r.Logger.Error("Error while declaring queue", logger.Error(err))
		return err
	}

	r.Queues = map[string]amqp.Queue{
		r.Cfg.ListenQueue: listen,
		r.Cfg.WriteQueue:  write,
	}
	return nil
}
