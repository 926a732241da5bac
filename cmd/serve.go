package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelworks/cma-engine/internal/cma"
	"github.com/parcelworks/cma-engine/internal/model"
	"github.com/parcelworks/cma-engine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the report API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/websites/{websiteID}", func(r chi.Router) {
			r.Post("/reports", func(w http.ResponseWriter, req *http.Request) {
				websiteID := chi.URLParam(req, "websiteID")

				var body struct {
					PropertyID     string  `json:"property_id"`
					Title          string  `json:"title"`
					RadiusKm       float64 `json:"radius_km"`
					MonthsBack     int     `json:"months_back"`
					MaxComparables int     `json:"max_comparables"`
					AgentName      string  `json:"agent_name"`
					CompanyName    string  `json:"company_name"`
					GeneratePDF    bool    `json:"generate_pdf"`
				}
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
					return
				}
				if body.PropertyID == "" {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "property_id is required"})
					return
				}

				// Generation runs asynchronously; poll the reports endpoints
				// for the outcome.
				go func() {
					result, err := env.Generator.Generate(ctx, websiteID, body.PropertyID, cma.Options{
						Title:          body.Title,
						RadiusKm:       body.RadiusKm,
						MonthsBack:     body.MonthsBack,
						MaxComparables: body.MaxComparables,
						AgentName:      body.AgentName,
						CompanyName:    body.CompanyName,
						GeneratePDF:    body.GeneratePDF,
					})
					if err != nil {
						zap.L().Error("report generation failed",
							zap.String("website_id", websiteID),
							zap.String("property_id", body.PropertyID),
							zap.Error(err),
						)
						return
					}
					zap.L().Info("report generation finished",
						zap.String("website_id", websiteID),
						zap.String("report_id", result.Report.ID),
						zap.Bool("success", result.Success),
					)
				}()

				writeJSON(w, http.StatusAccepted, map[string]string{
					"status":      "accepted",
					"property_id": body.PropertyID,
				})
			})

			r.Get("/reports", func(w http.ResponseWriter, req *http.Request) {
				websiteID := chi.URLParam(req, "websiteID")

				filter := store.ReportFilter{WebsiteID: websiteID}
				if s := req.URL.Query().Get("status"); s != "" {
					filter.Status = model.ReportStatus(s)
				}
				if l := req.URL.Query().Get("limit"); l != "" {
					if n, err := strconv.Atoi(l); err == nil {
						filter.Limit = n
					}
				}
				if o := req.URL.Query().Get("offset"); o != "" {
					if n, err := strconv.Atoi(o); err == nil {
						filter.Offset = n
					}
				}

				reports, err := env.Store.ListReports(req.Context(), filter)
				if err != nil {
					zap.L().Error("list reports failed", zap.String("website_id", websiteID), zap.Error(err))
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
			})

			r.Get("/reports/{reportID}", func(w http.ResponseWriter, req *http.Request) {
				websiteID := chi.URLParam(req, "websiteID")
				reportID := chi.URLParam(req, "reportID")

				report, err := env.Store.GetReport(req.Context(), websiteID, reportID)
				if err != nil {
					writeJSON(w, http.StatusNotFound, map[string]string{"error": "report not found"})
					return
				}
				writeJSON(w, http.StatusOK, report)
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
