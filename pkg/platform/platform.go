package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	goredis "github.com/redis/go-redis/v9"

	"github.com/txn2/graphql-webapp/internal/server"
	"github.com/txn2/graphql-webapp/pkg/api"
	"github.com/txn2/graphql-webapp/pkg/authapi"
	"github.com/txn2/graphql-webapp/pkg/database/migrate"
	"github.com/txn2/graphql-webapp/pkg/engine"
	"github.com/txn2/graphql-webapp/pkg/graph"
	"github.com/txn2/graphql-webapp/pkg/health"
	"github.com/txn2/graphql-webapp/pkg/metrics"
	"github.com/txn2/graphql-webapp/pkg/pipeline"
	"github.com/txn2/graphql-webapp/pkg/session"
	sessionpostgres "github.com/txn2/graphql-webapp/pkg/session/postgres"
	sessionredis "github.com/txn2/graphql-webapp/pkg/session/redis"
	"github.com/txn2/graphql-webapp/pkg/users"
	userspostgres "github.com/txn2/graphql-webapp/pkg/users/postgres"
)

// State is a step of the startup sequence.
type State int

// States in startup order. ModeEmbedded goes from StateUninitialized
// directly to StatePipelineAssembled.
const (
	StateUninitialized State = iota
	StateStoreSynced
	StateDBSynced
	StatePipelineAssembled
	StateListening
	StateStopped
)

var stateNames = [...]string{
	StateUninitialized:     "uninitialized",
	StateStoreSynced:       "store_synced",
	StateDBSynced:          "db_synced",
	StatePipelineAssembled: "pipeline_assembled",
	StateListening:         "listening",
	StateStopped:           "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Mode selects the startup sequence.
type Mode int

const (
	// ModeStandalone syncs the session store and database, assembles the
	// pipeline and listens.
	ModeStandalone Mode = iota

	// ModeEmbedded only assembles the pipeline, for hosts and test harnesses
	// that serve Handler themselves.
	ModeEmbedded
)

func (m Mode) String() string {
	if m == ModeEmbedded {
		return "embedded"
	}
	return "standalone"
}

// StepObserver is called after every state transition.
type StepObserver func(from, to State)

// Startup step names, used to wrap step failures.
const (
	stepSyncStore = "syncing session store"
	stepSyncDB    = "syncing database"
	stepAssemble  = "assembling pipeline"
	stepListen    = "listening"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("platform: already started")

	errNoConfig = errors.New("config is required")
)

// Platform owns every component and runs the startup sequence.
type Platform struct {
	cfg       *Config
	logger    *slog.Logger
	lifecycle *Lifecycle
	observers []StepObserver
	dbSync    DatabaseSyncFunc
	listener  net.Listener

	db       *sql.DB
	ownsDB   bool // opened by the platform, closed on Stop
	store    session.Store
	sessions *session.Manager
	users    *users.Service
	engine   *engine.Engine
	metrics  *metrics.Metrics
	health   *health.Checker

	mu       sync.RWMutex
	state    State
	started  bool
	pipeline *pipeline.Pipeline
	server   *server.Server
}

// New creates the platform and starts the engine. No I/O other than
// opening (not pinging) the database handle happens here.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, errNoConfig
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{
		cfg:       options.Config,
		logger:    options.Logger,
		lifecycle: NewLifecycle(),
		observers: options.Observers,
		dbSync:    options.DatabaseSync,
		listener:  options.Listener,
		metrics:   metrics.New(),
		health:    health.NewChecker(),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.dbSync == nil {
		p.dbSync = migrateDatabase
	}

	if err := p.initDatabase(options); err != nil {
		return nil, err
	}
	if err := p.initSessions(options); err != nil {
		p.closeDatabase()
		return nil, err
	}
	p.initUsers(options)
	if err := p.initEngine(); err != nil {
		_ = p.store.Close()
		p.closeDatabase()
		return nil, err
	}

	p.lifecycle.OnStop("closing database", func(_ context.Context) error {
		return p.closeDatabase()
	})
	p.lifecycle.RegisterCloser("closing session store", p.store)
	p.lifecycle.OnStop("stopping engine", func(ctx context.Context) error {
		if err := p.engine.Stop(ctx); err != nil && !errors.Is(err, engine.ErrNotStarted) {
			return err
		}
		return nil
	})
	p.lifecycle.OnStop("shutting down http server", func(ctx context.Context) error {
		p.mu.RLock()
		srv := p.server
		p.mu.RUnlock()
		if srv == nil {
			return nil
		}
		return srv.Shutdown(ctx)
	})

	return p, nil
}

func (p *Platform) initDatabase(opts *Options) error {
	if opts.DB != nil {
		p.db = opts.DB
	} else if p.cfg.Database.DSN != "" {
		db, err := sql.Open("postgres", p.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(p.cfg.Database.MaxOpenConns)
		p.db = db
		p.ownsDB = true
	}
	if p.db != nil {
		db := p.db
		p.health.AddProbe("database", func(ctx context.Context) error {
			return db.PingContext(ctx)
		})
	}
	return nil
}

func (p *Platform) closeDatabase() error {
	if p.db == nil || !p.ownsDB {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

func (p *Platform) initSessions(opts *Options) error {
	store := opts.SessionStore
	if store == nil {
		var err error
		if store, err = p.newSessionStore(); err != nil {
			return err
		}
	}
	p.store = store

	mgr, err := session.NewManager(session.Config{
		Store:      store,
		Secret:     []byte(p.cfg.Session.Secret),
		CookieName: p.cfg.Session.CookieName,
		TTL:        p.cfg.Session.TTL,
		Secure:     p.cfg.Session.Secure,
		Logger:     p.logger,
	})
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}
	p.sessions = mgr
	return nil
}

func (p *Platform) newSessionStore() (session.Store, error) {
	ttl := p.cfg.Session.TTL
	switch p.cfg.Session.Store {
	case StorePostgres:
		if p.db == nil {
			return nil, errors.New("postgres session store requires a database")
		}
		return sessionpostgres.New(p.db, sessionpostgres.Config{TTL: ttl}), nil
	case StoreRedis:
		rc := p.cfg.Session.Redis
		client := goredis.NewClient(&goredis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		p.health.AddProbe("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		return sessionredis.New(client, sessionredis.Config{TTL: ttl, Prefix: rc.Prefix}), nil
	default:
		return session.NewMemoryStore(ttl), nil
	}
}

func (p *Platform) initUsers(opts *Options) {
	repo := opts.UserRepository
	if repo == nil {
		if p.db != nil {
			repo = userspostgres.New(p.db)
		} else {
			repo = users.NewMemoryRepository()
		}
	}
	p.users = users.NewService(repo)
}

// initEngine creates the engine and starts it, once, before any request.
func (p *Platform) initEngine() error {
	e, err := engine.New(p.cfg.Engine,
		engine.WithLogger(p.logger),
		engine.WithRegisterer(p.metrics.Registerer()),
	)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	if err := e.Start(context.Background()); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	p.engine = e
	p.health.AddProbe("engine", func(context.Context) error {
		if !e.Started() {
			return engine.ErrNotStarted
		}
		return nil
	})
	return nil
}

// Start runs the startup sequence for mode. Each step begins only after the
// previous one completed; the first failure aborts and is returned wrapped
// with the step name. Start may be called once.
func (p *Platform) Start(ctx context.Context, mode Mode) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Info("platform starting", "mode", mode.String(), "env", p.cfg.Env)

	if mode == ModeStandalone {
		p.lifecycle.OnStart(stepSyncStore, p.syncStore)
		p.lifecycle.OnStart(stepSyncDB, p.syncDatabase)
	}
	p.lifecycle.OnStart(stepAssemble, p.assemble)
	if mode == ModeStandalone {
		p.lifecycle.OnStart(stepListen, p.listen)
	}

	return p.lifecycle.Start(ctx)
}

func (p *Platform) syncStore(ctx context.Context) error {
	if err := p.store.Sync(ctx); err != nil {
		return err //nolint:wrapcheck // wrapped with the step name by Lifecycle
	}
	if c, ok := p.store.(interface{ StartCleanupRoutine(time.Duration) }); ok && p.cfg.Session.CleanupInterval > 0 {
		c.StartCleanupRoutine(p.cfg.Session.CleanupInterval)
	}
	p.transition(StateStoreSynced)
	return nil
}

func (p *Platform) syncDatabase(ctx context.Context) error {
	if p.db == nil {
		p.logger.Info("no database configured, using in-memory users")
		p.transition(StateDBSynced)
		return nil
	}
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	if err := p.dbSync(ctx, p.db); err != nil {
		return err
	}
	p.transition(StateDBSynced)
	return nil
}

// migrateDatabase is the default DatabaseSyncFunc.
func migrateDatabase(_ context.Context, db *sql.DB) error {
	return migrate.Run(db)
}

func (p *Platform) assemble(_ context.Context) error {
	gsvc, err := graph.NewService(p.users.Repository())
	if err != nil {
		return err
	}

	pl, err := pipeline.Assemble(pipeline.Deps{
		Sessions:   p.sessions,
		Strategy:   p.users.Strategy(),
		AuthRouter: authapi.New(p.users, p.logger),
		APIRouter:  api.New(p.users.Repository()),
		Query: graph.NewHandler(gsvc,
			graph.WithEngine(p.engine),
			graph.WithTracing(true),
			graph.WithLogger(p.logger),
		),
		PublicDir:  p.cfg.PublicDir,
		Production: p.cfg.Production(),
		BodyLimit:  p.cfg.Server.BodyLimit,
		Logger:     p.logger,
	})
	if err != nil {
		return err //nolint:wrapcheck // wrapped with the step name by Lifecycle
	}

	p.mu.Lock()
	p.pipeline = pl
	p.mu.Unlock()
	p.transition(StatePipelineAssembled)
	return nil
}

func (p *Platform) listen(_ context.Context) error {
	handler := server.Handler(p.Handler(), p.health, p.metrics, p.cfg.Server.CORS.AllowedOrigins, p.logger)
	srv := server.New(server.Config{
		Address:           p.cfg.Server.Address,
		ReadHeaderTimeout: p.cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   p.cfg.Server.ShutdownTimeout,
	}, handler, p.logger)

	var err error
	if p.listener != nil {
		err = srv.Serve(p.listener)
	} else {
		err = srv.Listen()
	}
	if err != nil {
		return err //nolint:wrapcheck // wrapped with the step name by Lifecycle
	}

	p.mu.Lock()
	p.server = srv
	p.mu.Unlock()
	p.health.SetReady()
	p.transition(StateListening)
	return nil
}

// transition moves to state to and notifies observers.
func (p *Platform) transition(to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()

	p.logger.Info("platform state changed", "from", from.String(), "to", to.String())
	for _, obs := range p.observers {
		obs(from, to)
	}
}

// Stop drains readiness and runs the stop callbacks in reverse order:
// HTTP shutdown, engine stop, session store close, database close.
func (p *Platform) Stop(ctx context.Context) error {
	p.health.SetDraining()
	err := p.lifecycle.Stop(ctx)
	p.transition(StateStopped)
	return err
}

// State returns the current state.
func (p *Platform) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Handler returns the assembled pipeline, or nil before assembly.
func (p *Platform) Handler() http.Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pipeline == nil {
		return nil
	}
	return p.pipeline
}

// Addr returns the listening address, or "" when not listening.
func (p *Platform) Addr() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.server == nil {
		return ""
	}
	return p.server.Addr()
}

// Done reports the result of serving once the server stops. It is nil
// when not listening.
func (p *Platform) Done() <-chan error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.server == nil {
		return nil
	}
	return p.server.Done()
}

// Config returns the configuration.
func (p *Platform) Config() *Config {
	return p.cfg
}

// Engine returns the tracing and cache engine.
func (p *Platform) Engine() *engine.Engine {
	return p.engine
}

// Sessions returns the session manager.
func (p *Platform) Sessions() *session.Manager {
	return p.sessions
}

// Users returns the user service.
func (p *Platform) Users() *users.Service {
	return p.users
}
