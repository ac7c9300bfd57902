package registry

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/modelhub/pkg/common/logger"
	"github.com/synaptica-ai/modelhub/pkg/common/models"
	"github.com/synaptica-ai/modelhub/pkg/observability/metrics"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/health/", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/metrics/", h.handleMetrics).Methods(http.MethodGet)
	router.HandleFunc("/models/", h.handleRegister).Methods(http.MethodPost)
	router.HandleFunc("/models/", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/models/groups/", h.handleGroups).Methods(http.MethodGet)
	router.HandleFunc("/models/{id:[0-9]+}/", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/models/{id:[0-9]+}/train/", h.handleTrain).Methods(http.MethodPost)
	router.HandleFunc("/models/{id:[0-9]+}/predict/", h.handlePredict).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.StatusResponse{Status: models.StatusOK})
}

func (h *HTTPHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w)
}

func (h *HTTPHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WithError(err).Debug("invalid register payload")
		h.writeError(w, malformed("invalid JSON body"))
		return
	}

	id, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.RegisterResponse{ID: id})
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, ErrNotFound)
		return
	}

	details, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *HTTPHandler) handleTrain(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, ErrNotFound)
		return
	}
	// An unreadable body leaves both fields absent; the service reports
	// not-found before malformed input.
	var req models.TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WithError(err).Debug("invalid train payload")
		req = models.TrainRequest{}
	}

	if err := h.service.Train(r.Context(), id, req); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.TrainResponse{ID: id})
}

func (h *HTTPHandler) handlePredict(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, ErrNotFound)
		return
	}

	values, present := r.URL.Query()["x"]
	var encoded string
	if present && len(values) > 0 {
		encoded = values[0]
	}

	resp, err := h.service.Predict(r.Context(), id, encoded, present)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	scores, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ModelList{Models: scores})
}

func (h *HTTPHandler) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.Groups(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.GroupList{Groups: groups})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.ObserveFailure(metrics.FailureNotFound)
		writeJSON(w, http.StatusNotFound, models.StatusResponse{Status: models.StatusNotFound})
	case errors.Is(err, ErrUnknownModel):
		metrics.ObserveFailure(metrics.FailureUnknown)
		writeJSON(w, http.StatusBadRequest, models.StatusResponse{Status: models.StatusUnknownModel})
	case errors.Is(err, ErrMalformedRequest):
		metrics.ObserveFailure(metrics.FailureMalformed)
		logger.WithError(err).Debug("malformed request")
		writeJSON(w, http.StatusBadRequest, models.StatusResponse{Status: models.StatusMalformedRequest})
	case errors.Is(err, ErrNotFitted):
		metrics.ObserveFailure(metrics.FailureNotFitted)
		writeJSON(w, http.StatusConflict, models.StatusResponse{Status: models.StatusNotFitted})
	default:
		metrics.ObserveFailure(metrics.FailureInternal)
		logger.WithError(err).Error("model registry request failed")
		writeJSON(w, http.StatusInternalServerError, models.StatusResponse{Status: models.StatusInternalError})
	}
}

func pathID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warn("failed to encode response")
	}
}
