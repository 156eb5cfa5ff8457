package consumers

import (
	"context"

	"github.com/freshstock/freshstock-backend/internal/stock/domain"
	"github.com/freshstock/freshstock-backend/internal/stock/events"
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/pkg/actor"
	"github.com/freshstock/freshstock-backend/pkg/errors"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/freshstock/freshstock-backend/pkg/messaging"
)

// ConditionsUpdater is the part of the location service the consumer drives
type ConditionsUpdater interface {
	GetByID(ctx context.Context, id string) (*domain.StorageLocation, error)
	UpdateConditions(ctx context.Context, id string, in service.ConditionsInput) (*domain.StorageLocation, error)
}

// SensorEventConsumer applies sensor readings to storage locations
type SensorEventConsumer struct {
	consumer  *messaging.Consumer
	locations ConditionsUpdater
	logger    *logger.Logger
}

// NewSensorEventConsumer creates a consumer on the sensor readings queue
func NewSensorEventConsumer(rmq *messaging.RabbitMQ, locations ConditionsUpdater, log *logger.Logger) (*SensorEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, events.SensorQueue, log)
	if err != nil {
		return nil, err
	}

	return Attach(consumer, locations, log), nil
}

// Attach registers the sensor handlers on an existing consumer
func Attach(consumer *messaging.Consumer, locations ConditionsUpdater, log *logger.Logger) *SensorEventConsumer {
	c := &SensorEventConsumer{
		consumer:  consumer,
		locations: locations,
		logger:    log,
	}
	consumer.RegisterHandler(messaging.EventSensorConditionsReading, c.handleConditionsReading)
	return c
}

// Start starts consuming messages
func (c *SensorEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// handleConditionsReading drops readings that can never apply (unknown
// location, foreign seller, invalid ranges) and returns other errors so the
// delivery is retried.
func (c *SensorEventConsumer) handleConditionsReading(ctx context.Context, event *messaging.Event) error {
	var data messaging.SensorConditionsReading
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	log := c.logger.With().
		Str("event_id", event.ID).
		Str("location_id", data.LocationID).
		Str("seller_id", data.SellerID).
		Logger()

	ctx = actor.WithActor(ctx, actor.SystemActor())

	loc, err := c.locations.GetByID(ctx, data.LocationID)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			log.Warn().Msg("sensor reading for unknown location dropped")
			return nil
		}
		return err
	}
	if loc.SellerID != data.SellerID {
		log.Warn().Msg("sensor reading seller does not own location, dropped")
		return nil
	}

	in := service.ConditionsInput{Source: domain.SourceSensor}
	if data.TemperatureRange != "" {
		t := domain.TemperatureRange(data.TemperatureRange)
		in.TemperatureRange = &t
	}
	if data.HumidityRange != "" {
		h := domain.HumidityRange(data.HumidityRange)
		in.HumidityRange = &h
	}

	if _, err := c.locations.UpdateConditions(ctx, loc.ID, in); err != nil {
		if errors.IsKind(err, errors.KindValidation) {
			log.Warn().Err(err).Msg("invalid sensor reading dropped")
			return nil
		}
		return err
	}

	log.Debug().Time("read_at", data.ReadAt).Msg("sensor reading applied")
	return nil
}
