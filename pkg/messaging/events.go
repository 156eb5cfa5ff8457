package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Ledger events
	EventLedgerAdjusted    = "stock.ledger.adjusted"
	EventLedgerTransferred = "stock.ledger.transferred"
	EventFifoConsumed      = "stock.fifo.consumed"

	// Batch events
	EventBatchStatusChanged = "stock.batch.status_changed"
	EventBatchesExpired     = "stock.batch.expired"

	// Consolidation events
	EventMixedLotCreated = "stock.mixed_lot.created"

	// Location events
	EventConditionsUpdated = "stock.location.conditions_updated"

	// Inventory audit events
	EventAuditCompleted = "stock.audit.completed"

	// Inbound sensor events
	EventSensorConditionsReading = "sensor.conditions.reading"
)

// Exchange names
const (
	ExchangeStockEvents  = "stock.events"
	ExchangeSensorEvents = "sensor.events"
	ExchangeDeadLetter   = "dlx.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Ledger Events

// LedgerAdjustedEvent is published after a quantity-changing ledger mutation commits
type LedgerAdjustedEvent struct {
	LedgerID     string `json:"ledger_id"`
	BatchID      string `json:"batch_id"`
	SellerID     string `json:"seller_id"`
	ProductID    string `json:"product_id"`
	LocationType string `json:"location_type"`
	LocationID   string `json:"location_id"`
	MovementType string `json:"movement_type"`
	Delta        string `json:"delta"`
	NewQuantity  string `json:"new_quantity"`
	NewReserved  string `json:"new_reserved"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	PerformedBy  string `json:"performed_by"`
}

// LedgerTransferredEvent is published after a transfer between two locations commits
type LedgerTransferredEvent struct {
	BatchID          string `json:"batch_id"`
	FromLocationType string `json:"from_location_type"`
	FromLocationID   string `json:"from_location_id"`
	ToLocationType   string `json:"to_location_type"`
	ToLocationID     string `json:"to_location_id"`
	Quantity         string `json:"quantity"`
	PerformedBy      string `json:"performed_by"`
}

// FifoConsumedEvent is published after a FIFO consumption commits
type FifoConsumedEvent struct {
	SellerID           string             `json:"seller_id"`
	ProductID          string             `json:"product_id"`
	LocationType       string             `json:"location_type"`
	LocationID         string             `json:"location_id"`
	Requested          string             `json:"requested"`
	TotalConsumed      string             `json:"total_consumed"`
	RemainingToConsume string             `json:"remaining_to_consume"`
	Reference          string             `json:"reference,omitempty"`
	Lines              []FifoConsumedLine `json:"lines"`
}

// FifoConsumedLine is one drained ledger row
type FifoConsumedLine struct {
	LedgerID    string `json:"ledger_id"`
	BatchID     string `json:"batch_id"`
	BatchNumber string `json:"batch_number"`
	Quantity    string `json:"quantity"`
}

// Batch Events

// BatchStatusChangedEvent is published when a batch changes lifecycle state
type BatchStatusChangedEvent struct {
	BatchID     string `json:"batch_id"`
	SellerID    string `json:"seller_id"`
	ProductID   string `json:"product_id"`
	BatchNumber string `json:"batch_number"`
	OldStatus   string `json:"old_status"`
	NewStatus   string `json:"new_status"`
	Reason      string `json:"reason,omitempty"`
}

// BatchesExpiredEvent is published after an expiry sweep marked batches EXPIRED
type BatchesExpiredEvent struct {
	SellerID string    `json:"seller_id,omitempty"`
	Count    int64     `json:"count"`
	SweptAt  time.Time `json:"swept_at"`
}

// Consolidation Events

// MixedLotCreatedEvent is published when remnants are consolidated
type MixedLotCreatedEvent struct {
	MixedLotID              string    `json:"mixed_lot_id"`
	SellerID                string    `json:"seller_id"`
	ProductID               string    `json:"product_id"`
	LocationType            string    `json:"location_type"`
	LocationID              string    `json:"location_id"`
	Reason                  string    `json:"reason"`
	TotalQuantity           string    `json:"total_quantity"`
	EffectiveExpirationDate time.Time `json:"effective_expiration_date"`
	EffectiveFreshness      float64   `json:"effective_freshness"`
	ComponentBatchIDs       []string  `json:"component_batch_ids"`
}

// Location Events

// ConditionsUpdatedEvent is published when a location's ambient conditions change
type ConditionsUpdatedEvent struct {
	LocationID             string  `json:"location_id"`
	SellerID               string  `json:"seller_id"`
	TemperatureRange       string  `json:"temperature_range"`
	HumidityRange          string  `json:"humidity_range"`
	Source                 string  `json:"source"`
	DegradationCoefficient float64 `json:"degradation_coefficient"`
}

// Inventory Audit Events

// AuditCompletedEvent carries the variance record of a completed inventory audit
type AuditCompletedEvent struct {
	AuditID          string              `json:"audit_id"`
	DocumentNumber   string              `json:"document_number"`
	SellerID         string              `json:"seller_id"`
	ShopID           string              `json:"shop_id"`
	SurplusCount     int                 `json:"surplus_count"`
	ShortageCount    int                 `json:"shortage_count"`
	MatchedCount     int                 `json:"matched_count"`
	SurplusQuantity  string              `json:"surplus_quantity"`
	ShortageQuantity string              `json:"shortage_quantity"`
	Variances        []AuditVarianceLine `json:"variances"`
}

// AuditVarianceLine is one counted item with a non-zero difference
type AuditVarianceLine struct {
	ProductID  string `json:"product_id"`
	Expected   string `json:"expected"`
	Actual     string `json:"actual"`
	Difference string `json:"difference"`
}

// Sensor Events

// SensorConditionsReading is consumed from the sensor gateway
type SensorConditionsReading struct {
	SellerID         string    `json:"seller_id"`
	LocationID       string    `json:"location_id"`
	TemperatureRange string    `json:"temperature_range,omitempty"`
	HumidityRange    string    `json:"humidity_range,omitempty"`
	ReadAt           time.Time `json:"read_at"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
