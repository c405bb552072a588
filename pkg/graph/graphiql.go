package graph

import (
	_ "embed"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed graphiql.html
var graphiqlHTML string

var graphiqlTemplate = template.Must(template.New("graphiql").Parse(graphiqlHTML))

// GraphiQLHandler serves the in-browser query editor pointed at endpoint.
// A nil logger uses slog.Default().
func GraphiQLHandler(endpoint string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := graphiqlTemplate.Execute(w, struct{ Endpoint string }{Endpoint: endpoint}); err != nil {
			logger.Warn("rendering graphiql", "error", err)
		}
	})
}
