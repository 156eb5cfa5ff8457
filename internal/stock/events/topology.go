package events

import "github.com/freshstock/freshstock-backend/pkg/messaging"

// SensorQueue receives condition readings from the sensor gateway
const SensorQueue = "stock-service.sensor-readings"

// Topology is everything the stock service declares on the broker: it
// publishes on the stock exchange and consumes condition readings from the
// sensor exchange.
var Topology = messaging.Topology{
	Service:   "stock-service",
	Exchanges: []string{messaging.ExchangeStockEvents, messaging.ExchangeSensorEvents},
	Queues: []messaging.Queue{
		{
			Name: SensorQueue,
			Bindings: []messaging.Binding{
				{Exchange: messaging.ExchangeSensorEvents, RoutingKey: "sensor.conditions.#"},
			},
		},
	},
}
