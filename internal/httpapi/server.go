package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"diffstudio/internal/manager"
	"diffstudio/internal/studio"
	"diffstudio/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Generate(ctx context.Context, task manager.TaskKind, p studio.Params) (studio.Result, error)
	Status() types.StatusResponse
	Families() types.FamiliesResponse
	History(ctx context.Context, limit int) ([]types.HistoryEntry, error)
	Ready() bool
}

func chiParam(r *http.Request, key string) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.URLParam(key)
	}
	return ""
}

// NewMux builds the router:
//
//	POST /generate/{task}  task = text2img|img2img|mix|inpainting|outpainting (or t2i, i2i, inpaint, outpaint)
//	GET  /status, /families, /history?limit=N
//	GET  /healthz, /readyz, /metrics
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsAllowedOrigins,
			AllowedMethods:   orDefault(corsAllowedMethods, []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   orDefault(corsAllowedHeaders, []string{"Content-Type", "X-Log-Level"}),
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.With(inflightMiddleware("/generate")).Post("/generate/{task}", generateHandler(svc))

	// Small JSON endpoints are compressed; generate responses are mostly
	// base64 PNG and gain little.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Get("/status", statusHandler(svc))
		r.Get("/families", familiesHandler(svc))
		r.Get("/history", historyHandler(svc))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("draining"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

// generateHandler runs one generation.
//
// @Summary      Generate images
// @Description  Runs a generation task with a flat parameter map. Images are returned as base64 PNG.
// @Tags         generate
// @Accept       json
// @Produce      json
// @Param        task  path  string                 true  "Task kind"  Enums(text2img, img2img, mix, inpainting, outpainting)
// @Param        body  body  types.GenerateRequest  true  "Parameters"
// @Success      200  {object}  types.GenerateResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      413  {object}  types.ErrorResponse
// @Failure      415  {object}  types.ErrorResponse
// @Failure      422  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Failure      503  {object}  types.ErrorResponse
// @Failure      507  {object}  types.ErrorResponse
// @Router       /generate/{task} [post]
func generateHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lvl := requestLogLevel(r)
		task, err := manager.ParseTaskKind(chiParam(r, "task"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var raw map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
				return
			}
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		params, err := studio.ParseParams(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		logGenerate(r, lvl, "generate start", 0, start, nil)
		ctx, cancel := requestContext(r)
		defer cancel()
		res, err := svc.Generate(ctx, task, params)
		if err != nil {
			// Client went away; nobody is listening.
			if r.Context().Err() != nil {
				return
			}
			status := statusFor(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure("generate_queue")
			}
			writeJSONError(w, status, err.Error())
			logGenerate(r, lvl, "generate end", status, start, err)
			return
		}
		images, err := encodePNGs(ctx, res.Images)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			logGenerate(r, lvl, "generate end", http.StatusInternalServerError, start, err)
			return
		}
		imagesTotal.WithLabelValues(task.String()).Add(float64(len(images)))
		writeJSON(w, http.StatusOK, types.GenerateResponse{
			RequestID:  res.RequestID,
			Seed:       res.Seed,
			Task:       res.Task.String(),
			Family:     res.Family,
			Images:     images,
			DurationMS: res.Duration.Milliseconds(),
		})
		logGenerate(r, lvl, "generate end", http.StatusOK, start, nil)
	}
}

// statusHandler reports the swap cache and device.
//
// @Summary      Cache status
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func statusHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	}
}

// familiesHandler lists the known model families.
//
// @Summary      Model families
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.FamiliesResponse
// @Router       /families [get]
func familiesHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Families())
	}
}

// historyHandler lists recent generations.
//
// @Summary      Generation history
// @Tags         history
// @Produce      json
// @Param        limit  query  int  false  "Maximum entries"
// @Success      200  {object}  types.HistoryResponse
// @Failure      400  {object}  types.ErrorResponse
// @Router       /history [get]
func historyHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		entries, err := svc.History(r.Context(), limit)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		if entries == nil {
			entries = []types.HistoryEntry{}
		}
		writeJSON(w, http.StatusOK, types.HistoryResponse{Entries: entries})
	}
}
