package models

import (
	"encoding/json"
	"time"
)

// Status bodies returned with non-2xx responses.
const (
	StatusOK               = "ok"
	StatusMalformedRequest = "Malformed request"
	StatusUnknownModel     = "Nonexistent model"
	StatusNotFound         = "Not found"
	StatusNotFitted        = "Model not trained"
	StatusInternalError    = "Internal error"
)

type StatusResponse struct {
	Status string `json:"status"`
}

// RegisterRequest keeps raw fields so presence and type can be validated
// in a fixed order. A nil field was absent from the body.
type RegisterRequest struct {
	Model    json.RawMessage `json:"model"`
	Params   json.RawMessage `json:"params"`
	D        json.RawMessage `json:"d"`
	NClasses json.RawMessage `json:"n_classes"`
}

type RegisterResponse struct {
	ID uint64 `json:"id"`
}

type ModelDetails struct {
	Model    string                 `json:"model" yaml:"model"`
	Params   map[string]interface{} `json:"params" yaml:"params"`
	D        int                    `json:"d" yaml:"d"`
	NClasses int                    `json:"n_classes" yaml:"n_classes"`
	NTrained int64                  `json:"n_trained" yaml:"n_trained"`
}

// TrainRequest carries one labelled sample. A nil field was absent.
type TrainRequest struct {
	X json.RawMessage `json:"x"`
	Y json.RawMessage `json:"y"`
}

type TrainResponse struct {
	ID uint64 `json:"id"`
}

// PredictResponse echoes the decoded vector exactly as the caller wrote it.
type PredictResponse struct {
	X []json.Number `json:"x"`
	Y int           `json:"y"`
}

type ModelScore struct {
	ID            uint64  `json:"id" yaml:"id"`
	Model         string  `json:"model" yaml:"model"`
	NTrained      int64   `json:"n_trained" yaml:"n_trained"`
	TrainingScore float64 `json:"training_score" yaml:"training_score"`
}

type ModelList struct {
	Models []ModelScore `json:"models"`
}

type ModelGroup struct {
	NTrained int64    `json:"n_trained" yaml:"n_trained"`
	ModelIDs []uint64 `json:"model_ids" yaml:"model_ids"`
}

type GroupList struct {
	Groups []ModelGroup `json:"groups"`
}

// Event is the envelope published to and consumed from Kafka.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // model.registered, model.trained, model.train
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
