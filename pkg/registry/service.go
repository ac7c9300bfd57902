package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/synaptica-ai/modelhub/pkg/common/logger"
	"github.com/synaptica-ai/modelhub/pkg/common/models"
	"github.com/synaptica-ai/modelhub/pkg/ml/classifier"
	"github.com/synaptica-ai/modelhub/pkg/observability/metrics"
	"gorm.io/datatypes"
)

const (
	MaxDimension  = 1 << 16
	MaxNumClasses = 1 << 12
)

type Service struct {
	repo    *Repository
	catalog classifier.Catalog
	locker  Locker
	events  Publisher
}

// NewService wires the registry. A nil locker disables row locking and a nil
// publisher drops lifecycle events.
func NewService(repo *Repository, catalog classifier.Catalog, locker Locker, events Publisher) *Service {
	if locker == nil {
		locker = NoopLocker{}
	}
	if events == nil {
		events = noopPublisher{}
	}
	return &Service{repo: repo, catalog: catalog, locker: locker, events: events}
}

// Register validates a new model configuration, builds a fresh classifier
// and stores it with num_trained = 0.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (uint64, error) {
	if req.Model == nil || req.Params == nil || req.D == nil || req.NClasses == nil {
		return 0, malformed("model, params, d and n_classes are required")
	}
	params, stored, err := decodeObject(req.Params)
	if err != nil {
		return 0, err
	}
	var name string
	if err := json.Unmarshal(req.Model, &name); err != nil {
		return 0, malformed("model must be a string")
	}
	if !classifier.Known(name) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	dimension, err := decodeInt(req.D, "d")
	if err != nil {
		return 0, err
	}
	if dimension <= 0 || dimension > MaxDimension {
		return 0, malformed("d must be in [1, %d]", MaxDimension)
	}
	numClasses, err := decodeInt(req.NClasses, "n_classes")
	if err != nil {
		return 0, err
	}
	if numClasses <= 0 || numClasses > MaxNumClasses {
		return 0, malformed("n_classes must be in [1, %d]", MaxNumClasses)
	}

	clf, err := s.catalog.New(name, params)
	if err != nil {
		if errors.Is(err, classifier.ErrInvalidParams) {
			return 0, malformed("%v", err)
		}
		return 0, err
	}
	blob, err := classifier.Marshal(clf)
	if err != nil {
		return 0, err
	}

	rec := &ModelRecord{
		ModelName:  name,
		Params:     datatypes.JSON(stored),
		Dimension:  int(dimension),
		NumClasses: int(numClasses),
		Classifier: blob,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return 0, fmt.Errorf("insert model: %w", err)
	}

	metrics.ObserveRegistered()
	s.publish(ctx, EventModelRegistered, map[string]interface{}{
		"model_id":  rec.ID,
		"model":     name,
		"d":         rec.Dimension,
		"n_classes": rec.NumClasses,
	})
	logger.WithFields(map[string]interface{}{
		"model_id": rec.ID,
		"model":    name,
	}).Info("Model registered")
	return rec.ID, nil
}

// Get returns a model's metadata without its classifier state.
func (s *Service) Get(ctx context.Context, id uint64) (models.ModelDetails, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.ModelDetails{}, err
	}
	params := map[string]interface{}{}
	if len(rec.Params) > 0 {
		dec := json.NewDecoder(bytes.NewReader(rec.Params))
		dec.UseNumber()
		if err := dec.Decode(&params); err != nil {
			return models.ModelDetails{}, fmt.Errorf("decode params of model %d: %w", id, err)
		}
	}
	return models.ModelDetails{
		Model:    rec.ModelName,
		Params:   params,
		D:        rec.Dimension,
		NClasses: rec.NumClasses,
		NTrained: rec.NumTrained,
	}, nil
}

// Train performs one incremental fit on a single labelled sample and writes
// back the new snapshot and num_trained + 1.
func (s *Service) Train(ctx context.Context, id uint64, req models.TrainRequest) error {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("lock model %d: %w", id, err)
	}
	defer unlock()

	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.X == nil || req.Y == nil {
		return malformed("x and y are required")
	}
	y, err := decodeInt(req.Y, "y")
	if err != nil {
		return err
	}
	if y < 0 || y >= int64(rec.NumClasses) {
		return malformed("y must be in [0, %d)", rec.NumClasses)
	}
	vec, err := ParseVector(req.X)
	if err != nil {
		return malformed("x: %v", err)
	}
	if len(vec.Values) != rec.Dimension {
		return malformed("x has %d features, model expects %d", len(vec.Values), rec.Dimension)
	}

	clf, err := classifier.Unmarshal(rec.Classifier)
	if err != nil {
		return fmt.Errorf("load model %d: %w", id, err)
	}
	if err := clf.PartialFit(vec.Values, int(y), classifier.Classes(rec.NumClasses)); err != nil {
		if errors.Is(err, classifier.ErrInvalidSample) {
			return malformed("%v", err)
		}
		return fmt.Errorf("fit model %d: %w", id, err)
	}
	blob, err := classifier.Marshal(clf)
	var unsupported *json.UnsupportedValueError
	if errors.As(err, &unsupported) {
		return malformed("sample drives model %d out of numeric range", id)
	}
	if err != nil {
		return fmt.Errorf("store model %d: %w", id, err)
	}
	numTrained := rec.NumTrained + 1
	if err := s.repo.UpdateTraining(ctx, id, blob, numTrained); err != nil {
		return err
	}

	metrics.ObserveTrained()
	s.publish(ctx, EventModelTrained, map[string]interface{}{
		"model_id":  id,
		"model":     rec.ModelName,
		"n_trained": numTrained,
	})
	return nil
}

// Predict classifies the vector carried by the encoded query value. present
// reports whether the parameter was supplied at all.
func (s *Service) Predict(ctx context.Context, id uint64, encoded string, present bool) (models.PredictResponse, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.PredictResponse{}, err
	}
	if !present {
		return models.PredictResponse{}, malformed("x is required")
	}
	vec, err := DecodeVector(encoded)
	if err != nil {
		return models.PredictResponse{}, malformed("%v", err)
	}
	if len(vec.Values) != rec.Dimension {
		return models.PredictResponse{}, malformed("x has %d features, model expects %d", len(vec.Values), rec.Dimension)
	}

	clf, err := classifier.Unmarshal(rec.Classifier)
	if err != nil {
		return models.PredictResponse{}, fmt.Errorf("load model %d: %w", id, err)
	}
	label, err := clf.Predict(vec.Values)
	switch {
	case errors.Is(err, classifier.ErrNotFitted):
		return models.PredictResponse{}, ErrNotFitted
	case errors.Is(err, classifier.ErrInvalidSample):
		return models.PredictResponse{}, malformed("%v", err)
	case err != nil:
		return models.PredictResponse{}, fmt.Errorf("predict model %d: %w", id, err)
	}

	metrics.ObservePredicted()
	return models.PredictResponse{X: vec.Literal, Y: label}, nil
}

// List scores every model against the peers of its own type. Types with no
// rows are skipped.
func (s *Service) List(ctx context.Context) ([]models.ModelScore, error) {
	scores := []models.ModelScore{}
	for _, name := range classifier.Names {
		rows, err := s.repo.ListByType(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", name, err)
		}
		if len(rows) == 0 {
			continue
		}
		lowest, highest := rows[0].NumTrained, rows[len(rows)-1].NumTrained
		for _, row := range rows {
			scores = append(scores, models.ModelScore{
				ID:            row.ID,
				Model:         row.ModelName,
				NTrained:      row.NumTrained,
				TrainingScore: TrainingScore(row.NumTrained, lowest, highest),
			})
		}
	}
	return scores, nil
}

// Groups collects model ids by exact num_trained, both ascending.
func (s *Service) Groups(ctx context.Context) ([]models.ModelGroup, error) {
	rows, err := s.repo.TrainingCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("group models: %w", err)
	}
	groups := []models.ModelGroup{}
	for _, row := range rows {
		if n := len(groups); n == 0 || groups[n-1].NTrained != row.NumTrained {
			groups = append(groups, models.ModelGroup{NTrained: row.NumTrained, ModelIDs: []uint64{}})
		}
		last := &groups[len(groups)-1]
		last.ModelIDs = append(last.ModelIDs, row.ID)
	}
	return groups, nil
}

// HandleEvent runs Train for model.train events. Rejected samples are
// logged and dropped; store failures are returned so the message is retried.
func (s *Service) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != EventModelTrain {
		return nil
	}
	entry := logger.WithField("event_id", event.ID)

	id, ok := eventModelID(event.Data["model_id"])
	if !ok {
		entry.Warn("train event without a valid model_id")
		return nil
	}
	req, err := eventTrainRequest(event.Data)
	if err != nil {
		entry.WithError(err).Warn("train event payload rejected")
		return nil
	}

	if err := s.Train(ctx, id, req); err != nil {
		if IsClientError(err) {
			entry.WithError(err).WithField("model_id", id).Warn("train event rejected")
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if err := s.events.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.WithError(err).WithField("event_type", eventType).Warn("failed to publish model event")
	}
}

// decodeObject parses a params object keeping numbers as json.Number so
// large integers survive. It also returns the compacted text for storage.
func decodeObject(raw json.RawMessage) (map[string]interface{}, []byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil, malformed("params must be an object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var params map[string]interface{}
	if err := dec.Decode(&params); err != nil {
		return nil, nil, malformed("params must be an object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, nil, malformed("params must be a single object")
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return nil, nil, malformed("params must be an object")
	}
	return params, compact.Bytes(), nil
}

// decodeInt accepts a JSON integer literal only: 3 is accepted, 3.0 and "3"
// are not.
func decodeInt(raw json.RawMessage, field string) (int64, error) {
	trimmed := bytes.TrimSpace(raw)
	if bytes.ContainsAny(trimmed, ".eE") {
		return 0, malformed("%s must be an integer", field)
	}
	value, err := strconv.ParseInt(string(trimmed), 10, 64)
	if err != nil {
		return 0, malformed("%s must be an integer", field)
	}
	return value, nil
}

func eventModelID(value interface{}) (uint64, bool) {
	switch v := value.(type) {
	case float64:
		if v < 1 || v != math.Trunc(v) || v > math.MaxInt64 {
			return 0, false
		}
		return uint64(v), true
	case json.Number:
		id, err := strconv.ParseUint(v.String(), 10, 64)
		return id, err == nil && id > 0
	default:
		return 0, false
	}
}

func eventTrainRequest(data map[string]interface{}) (models.TrainRequest, error) {
	var req models.TrainRequest
	if x, ok := data["x"]; ok {
		raw, err := json.Marshal(x)
		if err != nil {
			return req, err
		}
		req.X = raw
	}
	if y, ok := data["y"]; ok {
		raw, err := json.Marshal(y)
		if err != nil {
			return req, err
		}
		req.Y = raw
	}
	return req, nil
}
