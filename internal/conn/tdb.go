package conn

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tobsdb/tdb/internal/adapter"
	"github.com/tobsdb/tdb/internal/adapter/memory"
	"github.com/tobsdb/tdb/internal/adapter/sqlite"
	"github.com/tobsdb/tdb/internal/auth"
	"github.com/tobsdb/tdb/internal/builder"
	"github.com/tobsdb/tdb/internal/query"
	"github.com/tobsdb/tdb/pkg"
)

const (
	AdapterMemory = "memory"
	AdapterSqlite = "sqlite"

	defaultMaxConnections = 1024
	metaFile              = "meta.tdb"
)

type AuthSettings struct {
	Username string
	Password string
}

type Settings struct {
	// memory or sqlite
	Adapter string
	// where databases are persisted. Empty keeps everything in memory.
	DataPath         string
	SnapshotInterval time.Duration
	MaxConnections   int
}

type snapshotter interface {
	Snapshot(ctx context.Context) error
}

type dbEntry struct {
	db     *builder.Database
	schema string
	// set for adapters that persist on a timer
	snap snapshotter
}

type TobsDB struct {
	Locker sync.RWMutex
	// db_name -> database
	data     pkg.Map[string, *dbEntry]
	settings Settings
	Users    *auth.Users
	pool     *ants.Pool

	// unix nanos of the last write, and of the last snapshot that saw it
	last_change atomic.Int64
	last_write  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

func NewTobsDB(auth_settings AuthSettings, settings Settings) (*TobsDB, error) {
	switch settings.Adapter {
	case "":
		settings.Adapter = AdapterMemory
	case AdapterMemory, AdapterSqlite:
	default:
		return nil, errors.Errorf("unknown adapter %q", settings.Adapter)
	}
	if settings.MaxConnections <= 0 {
		settings.MaxConnections = defaultMaxConnections
	}

	pool, err := ants.NewPool(settings.MaxConnections,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) { pkg.ErrorLog("connection handler panicked:", p) }),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating connection pool")
	}

	ctx, cancel := context.WithCancel(context.Background())
	tdb := &TobsDB{
		data:     pkg.Map[string, *dbEntry]{},
		settings: settings,
		Users:    auth.NewUsers(),
		pool:     pool,
		ctx:      ctx,
		cancel:   cancel,
	}

	if auth_settings.Username != "" {
		if _, err := tdb.Users.Add(auth_settings.Username, auth_settings.Password, auth.TdbUserRoleAdmin); err != nil {
			tdb.Close(context.Background())
			return nil, err
		}
	} else {
		pkg.WarnLog("no root user configured; only users created later can connect")
	}

	if err := tdb.ReadFromFile(ctx); err != nil {
		tdb.Close(context.Background())
		return nil, err
	}
	return tdb, nil
}

func (tdb *TobsDB) GetLocker() *sync.RWMutex { return &tdb.Locker }

func (tdb *TobsDB) Settings() Settings { return tdb.settings }

func (tdb *TobsDB) newAdapter(name string) (adapter.Adapter, snapshotter) {
	if tdb.settings.Adapter == AdapterSqlite {
		file := ":memory:"
		if tdb.settings.DataPath != "" {
			file = path.Join(tdb.settings.DataPath, name+".db")
		}
		return sqlite.New(file), nil
	}
	a := memory.New(memory.Options{Dir: tdb.settings.DataPath})
	return a, a
}

// ResolveDatabase opens the database db_name, creating it when it does not
// exist yet, and applies schema to it. An empty schema keeps the tables the
// database already has.
func (tdb *TobsDB) ResolveDatabase(ctx context.Context, db_name, schema string) (*builder.Database, error) {
	tdb.Locker.Lock()
	defer tdb.Locker.Unlock()
	return tdb.resolveLocked(ctx, db_name, schema)
}

func (tdb *TobsDB) resolveLocked(ctx context.Context, db_name, schema string) (*builder.Database, error) {
	e, ok := tdb.data.Lookup(db_name)
	if !ok {
		if tdb.settings.DataPath != "" {
			if err := os.MkdirAll(tdb.settings.DataPath, 0755); err != nil {
				return nil, err
			}
		}
		a, snap := tdb.newAdapter(db_name)
		db, err := builder.NewDatabase(ctx, db_name, a)
		if err != nil {
			return nil, err
		}
		e = &dbEntry{db: db, snap: snap}
		pkg.InfoLog("created database", db_name)
	}

	if schema != "" && schema != e.schema {
		if err := query.CreateTables(ctx, e.db, schema); err != nil {
			if !ok {
				e.db.Close(context.WithoutCancel(ctx))
			}
			return nil, err
		}
		e.schema = schema
		tdb.MarkChanged()
	}
	tdb.data.Set(db_name, e)
	return e.db, nil
}

func (tdb *TobsDB) Database(db_name string) (db *builder.Database) {
	pkg.RLockWrap(tdb, func() {
		if e, ok := tdb.data.Lookup(db_name); ok {
			db = e.db
		}
	})
	return db
}

// DropDatabase removes every table of db_name and closes it.
func (tdb *TobsDB) DropDatabase(ctx context.Context, db_name string) error {
	tdb.Locker.Lock()
	defer tdb.Locker.Unlock()
	e, ok := tdb.data.Lookup(db_name)
	if !ok {
		return errors.Errorf("Database %s not found", db_name)
	}
	for _, t := range e.db.Tables() {
		if err := e.db.Adapter.DropTable(ctx, t.Name); err != nil {
			return err
		}
		e.db.RemoveTable(t.Name)
	}
	if err := e.db.Close(ctx); err != nil {
		pkg.ErrorLog("closing database", db_name, err)
	}
	tdb.data.Delete(db_name)
	tdb.MarkChanged()
	pkg.InfoLog("dropped database", db_name)
	return nil
}

func (tdb *TobsDB) DatabaseNames() []string {
	tdb.Locker.RLock()
	defer tdb.Locker.RUnlock()
	names := tdb.data.Keys()
	slices.Sort(names)
	return names
}

func (tdb *TobsDB) MarkChanged() { tdb.last_change.Store(time.Now().UnixNano()) }

// Handler serves websocket connections on / next to the /health and
// /metrics endpoints.
func (tdb *TobsDB) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", tdb.ServeWs)
	return mux
}

func (tdb *TobsDB) Listen(port int) {
	exit := make(chan os.Signal, 2)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	s := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: tdb.Handler(),
	}

	go func() {
		err := s.ListenAndServe()
		if err != http.ErrServerClosed {
			pkg.FatalLog(err)
		}
	}()

	go tdb.snapshotLoop()

	pkg.InfoLog("TobsDB listening on port", port)
	<-exit
	pkg.DebugLog("Shutting down...")
	s.Shutdown(context.Background())
	tdb.Close(context.Background())
}

func (tdb *TobsDB) snapshotLoop() {
	if tdb.settings.DataPath == "" || tdb.settings.SnapshotInterval <= 0 {
		return
	}
	ticker := time.NewTicker(tdb.settings.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-tdb.ctx.Done():
			return
		case <-ticker.C:
			if tdb.last_change.Load() > tdb.last_write.Load() {
				if err := tdb.WriteToFile(tdb.ctx); err != nil {
					pkg.ErrorLog("writing snapshot;", err)
				}
			}
		}
	}
}

// Close stops accepting connections, writes everything to disk and closes
// every database.
func (tdb *TobsDB) Close(ctx context.Context) {
	tdb.cancel()
	tdb.pool.Release()
	if err := tdb.WriteToFile(ctx); err != nil {
		pkg.ErrorLog("writing database to disk;", err)
	}

	tdb.Locker.Lock()
	defer tdb.Locker.Unlock()
	for name, e := range tdb.data {
		if err := e.db.Close(ctx); err != nil {
			pkg.ErrorLog("closing database", name, err)
		}
	}
	pkg.SyncLogs()
}

// ReadFromFile reopens the databases recorded in the data directory with
// the schemas they last used.
func (tdb *TobsDB) ReadFromFile(ctx context.Context) error {
	if tdb.settings.DataPath == "" {
		return nil
	}

	data, err := os.ReadFile(path.Join(tdb.settings.DataPath, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to open db file")
	}
	if len(data) == 0 {
		pkg.WarnLog("read empty db file")
		return nil
	}

	schemas := map[string]string{}
	if err := json.Unmarshal(data, &schemas); err != nil {
		return errors.Wrap(err, "failed to read db file")
	}

	tdb.Locker.Lock()
	defer tdb.Locker.Unlock()
	for name, schema := range schemas {
		if _, err := tdb.resolveLocked(ctx, name, schema); err != nil {
			return errors.Wrapf(err, "loading database %s", name)
		}
	}
	pkg.InfoLog("loaded database from file", tdb.settings.DataPath)
	return nil
}

// WriteToFile snapshots every database and records their schemas.
func (tdb *TobsDB) WriteToFile(ctx context.Context) error {
	if tdb.settings.DataPath == "" {
		return nil
	}
	pkg.DebugLog("writing database to disk")
	started := time.Now().UnixNano()

	tdb.Locker.RLock()
	defer tdb.Locker.RUnlock()

	schemas := map[string]string{}
	for name, e := range tdb.data {
		schemas[name] = e.schema
		if e.snap == nil {
			continue
		}
		if err := e.snap.Snapshot(ctx); err != nil {
			return errors.Wrapf(err, "snapshot of %s", name)
		}
	}

	meta, err := json.Marshal(schemas)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(tdb.settings.DataPath, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path.Join(tdb.settings.DataPath, metaFile), meta, 0644); err != nil {
		return err
	}
	tdb.last_write.Store(started)
	return nil
}
