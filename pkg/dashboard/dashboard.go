package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"connscope/internal/models"
	"connscope/pkg/config"
	"connscope/pkg/report"
)

// Dashboard serves a completed anomaly report over HTTP. It is read-only:
// one finished run, no live detection behind it.
type Dashboard struct {
	config   *config.Config
	report   *report.Report
	logger   *log.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// ReportState is the JSON payload served to API and websocket clients.
type ReportState struct {
	Meta      report.Meta    `json:"meta"`
	Entries   []report.Entry `json:"entries"`
	Timestamp time.Time      `json:"timestamp"`
}

// New creates a dashboard over the given report
func New(cfg *config.Config, rep *report.Report, logger *log.Logger) (*Dashboard, error) {
	return &Dashboard{
		config: cfg,
		report: rep,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Router builds the HTTP routes for the viewer.
func (d *Dashboard) Router() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/report", d.handleReport).Methods("GET")
	api.HandleFunc("/meta", d.handleMeta).Methods("GET")
	api.HandleFunc("/rules/{id}", d.handleRule).Methods("GET")

	router.HandleFunc("/ws", d.handleWebSocket)
	router.HandleFunc("/", d.handleIndex).Methods("GET")

	return router
}

// Start starts the dashboard server
func (d *Dashboard) Start(ctx context.Context) error {
	d.server = &http.Server{
		Addr:    d.config.Viewer.ListenAddr,
		Handler: d.Router(),
	}

	go func() {
		d.logger.WithField("addr", d.config.Viewer.ListenAddr).Info("Report viewer starting")
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.WithError(err).Error("Report viewer server error")
		}
	}()

	return nil
}

// Stop stops the dashboard server
func (d *Dashboard) Stop() error {
	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.server.Shutdown(ctx)
	}
	return nil
}

func (d *Dashboard) state() ReportState {
	return ReportState{
		Meta:      d.report.Meta(),
		Entries:   d.report.Entries(),
		Timestamp: time.Now(),
	}
}

// handleIndex serves the summary page
func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>connscope - Connection Anomaly Report</title>
    <meta charset="utf-8">
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background: #f5f5f5; }
        .container { max-width: 900px; margin: 0 auto; }
        .header { background: #2c3e50; color: white; padding: 20px; border-radius: 5px; margin-bottom: 20px; }
        .section { background: white; padding: 20px; border-radius: 5px; box-shadow: 0 2px 5px rgba(0,0,0,0.1); margin-bottom: 20px; }
        .rule { padding: 10px; margin: 5px 0; border-left: 4px solid #3498db; background: #f8f9fa; }
        .rule.hit { border-color: #e74c3c; background: #fdf2f2; }
        .rule.error { border-color: #f39c12; background: #fef9e7; }
        .count { font-size: 1.4em; font-weight: bold; color: #3498db; }
        .meta { color: #7f8c8d; font-size: 0.9em; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>connscope - Connection Anomaly Report</h1>
            <p class="meta" id="meta">Loading...</p>
        </div>
        <div class="section">
            <h2>Rule Results</h2>
            <div id="rules-list">Loading...</div>
        </div>
    </div>

    <script>
        function render(state) {
            document.getElementById('meta').textContent =
                state.meta.record_count.toLocaleString() + ' records evaluated, generated ' +
                new Date(state.meta.generated_at).toLocaleString();

            document.getElementById('rules-list').innerHTML = state.entries.map(entry => {
                let cls = entry.count > 0 ? 'rule hit' : 'rule';
                let status = '';
                if (entry.error) { cls = 'rule error'; status = '<br><small>' + entry.error + '</small>'; }
                return '<div class="' + cls + '">' +
                    '<strong>' + entry.rule + '</strong> ' +
                    '<span class="count">' + entry.count.toLocaleString() + '</span> matches' +
                    status +
                '</div>';
            }).join('');
        }

        function refresh() {
            fetch('/api/report')
                .then(response => response.json())
                .then(state => render(state))
                .catch(error => console.error('Error fetching report:', error));
        }

        let ws = new WebSocket((window.location.protocol === 'https:' ? 'wss:' : 'ws:') +
            '//' + window.location.host + '/ws');
        ws.onmessage = function(event) { render(JSON.parse(event.data)); };
        ws.onerror = function() { refresh(); };

        refresh();
    </script>
</body>
</html>`

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}

// handleReport returns the complete report state
func (d *Dashboard) handleReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d.state())
}

// handleMeta returns batch metadata for the run
func (d *Dashboard) handleMeta(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d.report.Meta())
}

// handleRule returns a single rule's entry including matched records
func (d *Dashboard) handleRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entry := d.report.Entry(models.RuleID(vars["id"]))
	if entry == nil {
		http.Error(w, "unknown rule", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// handleWebSocket pushes the report state to connecting clients. The report
// never changes after the run, but clients reconnecting mid-serve still get a
// fresh timestamped payload on the configured interval.
func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.WithError(err).Error("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	d.logger.WithField("client", r.RemoteAddr).Debug("WebSocket client connected")

	if err := conn.WriteJSON(d.state()); err != nil {
		d.logger.WithError(err).Debug("WebSocket write error")
		return
	}

	ticker := time.NewTicker(d.config.Viewer.UpdateInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(d.state()); err != nil {
			d.logger.WithError(err).Debug("WebSocket write error")
			return
		}
	}
}
