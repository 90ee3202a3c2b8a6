package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/matsen/prec/internal/recommend"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Topics int    `json:"topics"`
	Papers int    `json:"papers"`
}

// TopicsRequest is the body of PUT /v1/papers/{id}/topics.
type TopicsRequest struct {
	Topics []int `json:"topics"`
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// GET /v1/recommendations?topics=1,3&limit=10 or ?vector=1,0,1
func (s *Server) recommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.fail(w, err)
		return
	}

	topics, vector := q.Get("topics"), q.Get("vector")
	if (topics == "") == (vector == "") {
		s.fail(w, badRequest("exactly one of topics or vector is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var recs []recommend.Recommendation
	if topics != "" {
		indices, perr := topic.ParseIndices(topics)
		if perr != nil {
			s.fail(w, badRequest("topics: %v", perr))
			return
		}
		recs, err = s.engine.RecommendByTopics(ctx, indices, limit)
	} else {
		v, perr := topic.ParseVector(vector)
		if perr != nil {
			s.fail(w, badRequest("vector: %v", perr))
			return
		}
		recs, err = s.engine.RecommendByVector(ctx, v, limit)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

// GET /v1/papers/{id}/neighbors?limit=5
func (s *Server) neighbors(w http.ResponseWriter, r *http.Request) {
	id, err := paperID(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.fail(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ns, err := s.engine.RecommendByNeighbors(ctx, id, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ns)
}

// PUT /v1/papers/{id}/topics
func (s *Server) putTopics(w http.ResponseWriter, r *http.Request) {
	id, err := paperID(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	var req TopicsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, badRequest("decoding body: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.engine.ReencodeEntity(ctx, id, req.Topics); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/papers/{id}
func (s *Server) getPaper(w http.ResponseWriter, r *http.Request) {
	id, err := paperID(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	p, err := s.catalog.GetPaper(ctx, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// GET /healthz
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	n, err := s.catalog.CountPapers(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Topics: s.engine.TopicCount(),
		Papers: n,
	})
}

func paperID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid paper id %q", raw)
	}
	return id, nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid limit %q", raw)
	}
	return n, nil
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", strconv.Itoa(int(s.retryAfter.Seconds())))
		s.logger.Warn().Err(err).Msg("storage unavailable")
	case http.StatusInternalServerError:
		s.logger.Error().Err(err).Msg("request failed")
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), recommend.IsInvalidInput(err):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrPaperNotFound), errors.Is(err, storage.ErrJournalNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg})
}
