package store

import (
	"gorm.io/datatypes"
)

// TransitionModel is one persisted state change for a position.
type TransitionModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Ticket        int64          `gorm:"column:ticket;index"`
	Symbol        string         `gorm:"column:symbol"`
	FromState     string         `gorm:"column:from_state"`
	ToState       string         `gorm:"column:to_state"`
	Reason        string         `gorm:"column:reason"`
	Strikes       int            `gorm:"column:strikes"`
	Urgency       string         `gorm:"column:urgency"`
	ReadingsJSON  datatypes.JSON `gorm:"column:readings_json;type:TEXT"`
	OccurredUnix  int64          `gorm:"column:occurred_at"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (TransitionModel) TableName() string { return "state_transitions" }

// OutcomeModel is one persisted action outcome, successful or not.
type OutcomeModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	RequestID     string  `gorm:"column:request_id;index"`
	Ticket        int64   `gorm:"column:ticket;index"`
	Symbol        string  `gorm:"column:symbol"`
	Kind          string  `gorm:"column:kind"`
	Target        float64 `gorm:"column:target"`
	Status        string  `gorm:"column:status"`
	Retries       int     `gorm:"column:retries"`
	Error         string  `gorm:"column:error"`
	OccurredUnix  int64   `gorm:"column:occurred_at"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
}

func (OutcomeModel) TableName() string { return "action_outcomes" }
