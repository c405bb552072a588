package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/txn2/graphql-webapp/pkg/auth"
	"github.com/txn2/graphql-webapp/pkg/bodyparser"
	"github.com/txn2/graphql-webapp/pkg/engine"
	"github.com/txn2/graphql-webapp/pkg/httperr"
)

// tracingVersion is the version of the tracing extension format.
const tracingVersion = 1

// tracingExtension is added to responses under extensions.tracing.
type tracingExtension struct {
	Version   int    `json:"version"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Duration  int64  `json:"duration"`
}

// Handler serves GraphQL over HTTP GET and POST.
type Handler struct {
	svc     *Service
	engine  *engine.Engine
	tracing bool
	limit   int64
	logger  *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithEngine records traces with e and serves anonymous responses from its
// public cache.
func WithEngine(e *engine.Engine) HandlerOption {
	return func(h *Handler) {
		h.engine = e
	}
}

// WithTracing toggles the tracing response extension.
func WithTracing(enabled bool) HandlerOption {
	return func(h *Handler) {
		h.tracing = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = l
	}
}

// NewHandler creates a Handler with tracing enabled.
func NewHandler(svc *Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc:     svc,
		tracing: true,
		limit:   bodyparser.DefaultLimit,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	httperr.HandlerFunc(h.serve).ServeHTTP(w, r)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) error {
	req, err := h.parseRequest(w, r)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Query) == "" {
		return httperr.BadRequest("Must provide query string.")
	}

	principal := auth.PrincipalFromContext(r.Context())
	ctx := WithRequestContext(r.Context(), &RequestContext{User: principal})

	var (
		cache *engine.Cache
		ttl   time.Duration
		key   string
		hit   bool
	)
	if h.engine != nil && principal == nil {
		if cache, ttl = h.engine.PublicCache(); cache != nil {
			key = cacheKey(req)
		}
	}

	start := time.Now()
	var result *graphql.Result
	if cache != nil {
		if data, ok := cache.Get(key); ok {
			result = &graphql.Result{Data: json.RawMessage(data)}
			hit = true
		}
		h.engine.CacheLookup(cache.Name(), hit)
	}
	if result == nil {
		result = h.svc.Execute(ctx, req)
	}
	end := time.Now()

	if cache != nil && !hit && !result.HasErrors() && result.Data != nil {
		if data, err := json.Marshal(result.Data); err == nil {
			cache.Set(key, data, ttl)
		}
	}

	if h.tracing {
		if result.Extensions == nil {
			result.Extensions = make(map[string]any)
		}
		result.Extensions["tracing"] = tracingExtension{
			Version:   tracingVersion,
			StartTime: start.UTC().Format(time.RFC3339Nano),
			EndTime:   end.UTC().Format(time.RFC3339Nano),
			Duration:  end.Sub(start).Nanoseconds(),
		}
	}
	if h.engine != nil {
		h.engine.RecordTrace(engine.Trace{
			OperationName: req.OperationName,
			QueryHash:     hashString(req.Query),
			StartTime:     start,
			EndTime:       end,
			Duration:      end.Sub(start),
			ErrorCount:    len(result.Errors),
			Anonymous:     principal == nil,
			CacheHit:      hit,
		})
	}

	body, err := json.Marshal(result)
	if err != nil {
		return httperr.Internal(err)
	}

	status := http.StatusOK
	if result.HasErrors() && result.Data == nil {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("writing graphql response", "error", err)
	}
	return nil
}

// wireRequest accepts variables as an object or a JSON-encoded string.
type wireRequest struct {
	Query         string          `json:"query"`
	Variables     json.RawMessage `json:"variables"`
	OperationName string          `json:"operationName"`
}

func (h *Handler) parseRequest(w http.ResponseWriter, r *http.Request) (Request, error) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		vars, err := parseVariables([]byte(q.Get("variables")))
		if err != nil {
			return Request{}, err
		}
		return Request{Query: q.Get("query"), Variables: vars, OperationName: q.Get("operationName")}, nil

	case http.MethodPost:
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch mediaType {
		case "application/json":
			var wire wireRequest
			err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.limit)).Decode(&wire)
			if err != nil && !errors.Is(err, io.EOF) {
				return Request{}, httperr.Wrap(err, http.StatusBadRequest, "invalid JSON body")
			}
			vars, err := parseVariables(wire.Variables)
			if err != nil {
				return Request{}, err
			}
			return Request{Query: wire.Query, Variables: vars, OperationName: wire.OperationName}, nil
		case "application/graphql":
			data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.limit))
			if err != nil {
				return Request{}, httperr.Wrap(err, http.StatusBadRequest, "invalid request body")
			}
			return Request{Query: string(data)}, nil
		case "application/x-www-form-urlencoded":
			if err := r.ParseForm(); err != nil {
				return Request{}, httperr.Wrap(err, http.StatusBadRequest, "invalid form body")
			}
			vars, err := parseVariables([]byte(r.PostForm.Get("variables")))
			if err != nil {
				return Request{}, err
			}
			return Request{
				Query:         r.PostForm.Get("query"),
				Variables:     vars,
				OperationName: r.PostForm.Get("operationName"),
			}, nil
		default:
			return Request{}, httperr.BadRequest("expected a JSON body")
		}

	default:
		w.Header().Set("Allow", "GET, POST")
		return Request{}, httperr.New(http.StatusMethodNotAllowed, "GraphQL only supports GET and POST requests.")
	}
}

func parseVariables(raw []byte) (map[string]any, error) {
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, httperr.Wrap(err, http.StatusBadRequest, "Variables are invalid JSON.")
		}
		return parseVariables([]byte(s))
	}
	var vars map[string]any
	if err := json.Unmarshal(raw, &vars); err != nil {
		return nil, httperr.Wrap(err, http.StatusBadRequest, "Variables are invalid JSON.")
	}
	return vars, nil
}

// cacheKey identifies a full query response. Variables are encoded with
// sorted keys, so equal variable sets produce equal keys.
func cacheKey(req Request) string {
	vars, _ := json.Marshal(req.Variables)
	return hashString(req.Query + "\x00" + req.OperationName + "\x00" + string(vars))
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
