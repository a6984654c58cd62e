package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jobfeed/internal/model"
)

var servePort int

const (
	defaultSkillsLimit = 20
	maxSkillsLimit     = 200
	defaultTrendDays   = 30
	maxTrendDays       = 365
	defaultPageSize    = 50
	maxPageSize        = 500
)

// aggregateReader is the cached read side the API serves from.
type aggregateReader interface {
	Stats(ctx context.Context) (*model.Stats, error)
	TopSkills(ctx context.Context, limit int) ([]model.SkillCount, error)
	Trends(ctx context.Context, days int) ([]model.TrendPoint, error)
}

// recordReader serves individual postings.
type recordReader interface {
	Get(ctx context.Context, id string) (*model.StoredRecord, error)
	List(ctx context.Context, filter model.RecordFilter) ([]model.StoredRecord, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve read-only stats and postings over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      buildRouter(env.Aggregates, env.Store, cfg.Server.AllowedOrigins),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter wires the read-only API. Nil readers make their routes
// answer 503.
func buildRouter(agg aggregateReader, records recordReader, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		if agg == nil {
			writeError(w, http.StatusServiceUnavailable, "stats unavailable")
			return
		}
		stats, err := agg.Stats(req.Context())
		if err != nil {
			serverError(w, req, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, stats)
	})

	r.Get("/skills", func(w http.ResponseWriter, req *http.Request) {
		if agg == nil {
			writeError(w, http.StatusServiceUnavailable, "stats unavailable")
			return
		}
		limit, err := intParam(req, "limit", defaultSkillsLimit, maxSkillsLimit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		skills, err := agg.TopSkills(req.Context(), limit)
		if err != nil {
			serverError(w, req, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, skills)
	})

	r.Get("/trends", func(w http.ResponseWriter, req *http.Request) {
		if agg == nil {
			writeError(w, http.StatusServiceUnavailable, "stats unavailable")
			return
		}
		days, err := intParam(req, "days", defaultTrendDays, maxTrendDays)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		points, err := agg.Trends(req.Context(), days)
		if err != nil {
			serverError(w, req, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, points)
	})

	r.Route("/postings", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			if records == nil {
				writeError(w, http.StatusServiceUnavailable, "postings unavailable")
				return
			}
			limit, err := intParam(req, "limit", defaultPageSize, maxPageSize)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			offset, err := intParam(req, "offset", 0, 1<<31-1)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			q := req.URL.Query()
			if st := q.Get("status"); st != "" {
				if _, err := model.ParseStatus(st); err != nil {
					writeError(w, http.StatusBadRequest, err.Error())
					return
				}
			}
			list, err := records.List(req.Context(), model.RecordFilter{
				Status:   model.Status(q.Get("status")),
				Industry: model.Industry(q.Get("industry")),
				Country:  q.Get("country"),
				Limit:    limit,
				Offset:   offset,
			})
			if err != nil {
				serverError(w, req, err)
				return
			}
			if list == nil {
				list = []model.StoredRecord{}
			}
			writeJSONResponse(w, http.StatusOK, list)
		})

		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			if records == nil {
				writeError(w, http.StatusServiceUnavailable, "postings unavailable")
				return
			}
			rec, err := records.Get(req.Context(), chi.URLParam(req, "id"))
			if eris.Is(err, model.ErrNotFound) {
				writeError(w, http.StatusNotFound, "posting not found")
				return
			}
			if err != nil {
				serverError(w, req, err)
				return
			}
			writeJSONResponse(w, http.StatusOK, rec)
		})
	})

	return r
}

// intParam reads a positive integer query parameter, defaulting when it is
// absent and capping at maxVal.
func intParam(req *http.Request, name string, def, maxVal int) (int, error) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Errorf("%s must be a non-negative integer", name)
	}
	if n == 0 && def > 0 {
		return 0, eris.Errorf("%s must be positive", name)
	}
	return min(n, maxVal), nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONResponse(w, code, map[string]string{"error": msg})
}

func writeJSONResponse(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
