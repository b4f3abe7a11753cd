// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/adiadia/live-scoreboard/internal/metrics"
	"github.com/adiadia/live-scoreboard/internal/subscription"
	"github.com/adiadia/live-scoreboard/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type createEventRequest struct {
	Sport       string     `json:"sport"`
	Name        string     `json:"name"`
	Location    string     `json:"location"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	TeamA       string     `json:"team_a"`
	TeamB       string     `json:"team_b"`
	ScoreA      *int       `json:"score_a"`
	ScoreB      *int       `json:"score_b"`
	Status      *string    `json:"status"`
}

type patchEventRequest struct {
	ScoreA *int    `json:"score_a"`
	ScoreB *int    `json:"score_b"`
	Status *string `json:"status"`
}

type scoreDeltaRequest struct {
	Team  string `json:"team"`
	Delta int    `json:"delta"`
}

type revertRequest struct {
	Status string `json:"status"`
}

type Deps struct {
	Events          EventReader
	Writer          EventWriter
	Registry        *subscription.Registry
	Snapshots       subscription.Snapshotter
	Identities      middleware.IdentityResolver
	Health          HealthChecker
	Logger          *slog.Logger
	QueueSize       int
	WriteRatePerMin int
	Version         string
	Commit          string
	BuildDate       string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("readiness check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- EVENTS ----------------

	r.Group(func(r chi.Router) {
		if deps.Identities != nil {
			r.Use(middleware.Authenticate(deps.Identities, logger))
		}

		// ---------------- READS ----------------

		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			events, err := deps.Events.ListEvents(r.Context())
			if err != nil {
				logger.Error("list events failed", "error", err)
				http.Error(w, "failed to list events", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"events": events,
			})
		})

		r.Get("/events/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, ok := eventIDParam(w, r)
			if !ok {
				return
			}

			rec, err := deps.Events.GetEvent(r.Context(), id)
			if err == nil && rec.Removed() {
				err = domain.ErrNotFound
			}
			if err != nil {
				writeDomainError(w, logger, err, "get event", id)
				return
			}
			writeJSON(w, http.StatusOK, rec)
		})

		// ---------------- LIVE CHANNEL ----------------

		live := &liveHandler{
			registry:  deps.Registry,
			snapshots: deps.Snapshots,
			queueSize: deps.QueueSize,
			logger:    logger,
		}
		r.Get("/events/{id}/stream", live.serveSSE)
		r.Get("/ws", live.serveWebsocket)

		// ---------------- WRITES ----------------

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireIdentity(logger))
			r.Use(middleware.WriteRateLimit(deps.WriteRatePerMin, logger))

			r.Post("/events", func(w http.ResponseWriter, r *http.Request) {
				var body createEventRequest
				if err := decodeJSONBody(r, &body); err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				params := domain.CreateEventParams{
					Sport:    body.Sport,
					Name:     body.Name,
					Location: body.Location,
					TeamA:    body.TeamA,
					TeamB:    body.TeamB,
					ScoreA:   body.ScoreA,
					ScoreB:   body.ScoreB,
				}
				if body.ScheduledAt != nil {
					params.ScheduledAt = *body.ScheduledAt
				}
				if body.Status != nil {
					status, err := domain.ParseStatus(*body.Status)
					if err != nil {
						writeDomainError(w, logger, err, "create event", uuid.Nil)
						return
					}
					params.Status = &status
				}

				rec, err := deps.Writer.Create(r.Context(), params)
				if err != nil {
					writeDomainError(w, logger, err, "create event", uuid.Nil)
					return
				}

				w.Header().Set("Location", "/events/"+rec.ID.String())
				writeJSON(w, http.StatusCreated, rec)
			})

			r.Patch("/events/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, ok := eventIDParam(w, r)
				if !ok {
					return
				}

				var body patchEventRequest
				if err := decodeJSONBody(r, &body); err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				m := domain.Mutation{ScoreA: body.ScoreA, ScoreB: body.ScoreB}
				if body.Status != nil {
					status, err := domain.ParseStatus(*body.Status)
					if err != nil {
						writeDomainError(w, logger, err, "update event", id)
						return
					}
					m.Status = &status
				}

				mutateAndRespond(w, r, deps.Writer, logger, id, m, "update event")
			})

			r.Post("/events/{id}/score", func(w http.ResponseWriter, r *http.Request) {
				id, ok := eventIDParam(w, r)
				if !ok {
					return
				}

				var body scoreDeltaRequest
				if err := decodeJSONBody(r, &body); err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				var m domain.Mutation
				switch strings.ToUpper(strings.TrimSpace(body.Team)) {
				case "A":
					m.DeltaA = body.Delta
				case "B":
					m.DeltaB = body.Delta
				default:
					http.Error(w, "team must be A or B", http.StatusBadRequest)
					return
				}

				mutateAndRespond(w, r, deps.Writer, logger, id, m, "score event")
			})

			r.Post("/events/{id}/revert", func(w http.ResponseWriter, r *http.Request) {
				id, ok := eventIDParam(w, r)
				if !ok {
					return
				}

				var body revertRequest
				if err := decodeJSONBody(r, &body); err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				status, err := domain.ParseStatus(body.Status)
				if err != nil {
					writeDomainError(w, logger, err, "revert event", id)
					return
				}

				mutateAndRespond(w, r, deps.Writer, logger, id, domain.Mutation{Revert: true, Status: &status}, "revert event")
			})

			r.Delete("/events/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, ok := eventIDParam(w, r)
				if !ok {
					return
				}

				if err := deps.Writer.Delete(r.Context(), id); err != nil {
					writeDomainError(w, logger, err, "delete event", id)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
		})
	})

	return r
}

func mutateAndRespond(
	w http.ResponseWriter,
	r *http.Request,
	writer EventWriter,
	logger *slog.Logger,
	id uuid.UUID,
	m domain.Mutation,
	action string,
) {
	rec, err := writer.Mutate(r.Context(), id, m)
	if err != nil {
		writeDomainError(w, logger, err, action, id)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func eventIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// writeDomainError maps core errors to status codes.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error, action string, id uuid.UUID) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "event not found", http.StatusNotFound)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "missing required fields",
			"fields": verr.Fields,
		})
	case errors.Is(err, domain.ErrInvalidMutation), errors.Is(err, domain.ErrInvalidEvent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrUnauthorized):
		http.Error(w, "administrator role required", http.StatusForbidden)
	case errors.Is(err, domain.ErrConflict):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "event is busy, retry", http.StatusServiceUnavailable)
	default:
		logger.Error(action+" failed", "event_id", id, "error", err)
		http.Error(w, fmt.Sprintf("failed to %s", action), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSONBody(r *http.Request, dst any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return errors.New("request body is required")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
