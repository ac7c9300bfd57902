package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	modelsRegistered  atomic.Int64
	trainingSteps     atomic.Int64
	predictionsServed atomic.Int64
	malformedRequests atomic.Int64
	unknownModels     atomic.Int64
	notFound          atomic.Int64
	notFitted         atomic.Int64
	internalErrors    atomic.Int64
)

// Failure kinds accepted by ObserveFailure.
const (
	FailureMalformed = "malformed"
	FailureUnknown   = "unknown_model"
	FailureNotFound  = "not_found"
	FailureNotFitted = "not_fitted"
	FailureInternal  = "internal"
)

func ObserveRegistered() { modelsRegistered.Add(1) }

func ObserveTrained() { trainingSteps.Add(1) }

func ObservePredicted() { predictionsServed.Add(1) }

func ObserveFailure(kind string) {
	switch kind {
	case FailureMalformed:
		malformedRequests.Add(1)
	case FailureUnknown:
		unknownModels.Add(1)
	case FailureNotFound:
		notFound.Add(1)
	case FailureNotFitted:
		notFitted.Add(1)
	default:
		internalErrors.Add(1)
	}
}

type Snapshot struct {
	Registered int64
	Trained    int64
	Predicted  int64
	Failures   map[string]int64
}

func Read() Snapshot {
	return Snapshot{
		Registered: modelsRegistered.Load(),
		Trained:    trainingSteps.Load(),
		Predicted:  predictionsServed.Load(),
		Failures: map[string]int64{
			FailureMalformed: malformedRequests.Load(),
			FailureUnknown:   unknownModels.Load(),
			FailureNotFound:  notFound.Load(),
			FailureNotFitted: notFitted.Load(),
			FailureInternal:  internalErrors.Load(),
		},
	}
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP modelhub_models_registered_total Number of models registered since start.\n")
	fmt.Fprintf(w, "# TYPE modelhub_models_registered_total counter\n")
	fmt.Fprintf(w, "modelhub_models_registered_total %d\n", modelsRegistered.Load())

	fmt.Fprintf(w, "# HELP modelhub_training_steps_total Number of successful single-sample training calls.\n")
	fmt.Fprintf(w, "# TYPE modelhub_training_steps_total counter\n")
	fmt.Fprintf(w, "modelhub_training_steps_total %d\n", trainingSteps.Load())

	fmt.Fprintf(w, "# HELP modelhub_predictions_total Number of predictions served.\n")
	fmt.Fprintf(w, "# TYPE modelhub_predictions_total counter\n")
	fmt.Fprintf(w, "modelhub_predictions_total %d\n", predictionsServed.Load())

	fmt.Fprintf(w, "# HELP modelhub_request_failures_total Number of failed requests by kind.\n")
	fmt.Fprintf(w, "# TYPE modelhub_request_failures_total counter\n")
	snap := Read()
	for _, kind := range []string{FailureMalformed, FailureUnknown, FailureNotFound, FailureNotFitted, FailureInternal} {
		fmt.Fprintf(w, "modelhub_request_failures_total{kind=%q} %d\n", kind, snap.Failures[kind])
	}
}
