package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/elara/internal/store"
	"github.com/roach88/elara/internal/transport"
)

// maxInputMessage bounds a message posted to a ring input.
const maxInputMessage = 1 << 20

// newAdminHandler serves metrics, health, log and position inspection, and
// accepts messages for ring inputs.
func newAdminHandler(st *store.Store, reg *prometheus.Registry, inst *instance) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/logs", func(w http.ResponseWriter, req *http.Request) {
		logs, err := st.Logs(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": st.ID(), "logs": logs})
	})

	r.Get("/positions/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		pos, ok, err := st.LoadPosition(req.Context(), name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "position": pos})
	})

	r.Post("/inputs/{source}", func(w http.ResponseWriter, req *http.Request) {
		source, err := strconv.ParseInt(chi.URLParam(req, "source"), 10, 32)
		if err != nil {
			http.Error(w, "invalid source", http.StatusBadRequest)
			return
		}
		msg, err := io.ReadAll(io.LimitReader(req.Body, maxInputMessage))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, ok := inst.send(int32(source), msg)
		switch {
		case !ok:
			http.Error(w, "no ring input for source", http.StatusNotFound)
		case res == transport.Sent:
			w.WriteHeader(http.StatusAccepted)
		case res == transport.BackPressured:
			http.Error(w, res.String(), http.StatusServiceUnavailable)
		default:
			http.Error(w, res.String(), http.StatusGone)
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
