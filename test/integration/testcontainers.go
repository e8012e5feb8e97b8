package integration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	ncogdb "github.com/ncog-id/ncog/db"
	"github.com/ncog-id/ncog/pkg/config"
	"github.com/ncog-id/ncog/pkg/logger"
	"github.com/ncog-id/ncog/pkg/pubsub"
	"github.com/ncog-id/ncog/pkg/registry"
	"github.com/ncog-id/ncog/pkg/server"
	gormstore "github.com/ncog-id/ncog/pkg/server/store/gorm"
)

// callbackSecret signs the login-callback tokens the steps present to the
// server. Binary mode passes the same value through the environment.
const callbackSecret = "integration-callback-secret"

// TestContext holds all the resources needed for integration tests
type TestContext struct {
	DB             *gorm.DB
	RawDB          *sql.DB
	Container      testcontainers.Container
	ServerURL      string
	WebSocketURL   string
	DatabaseURL    string
	CallbackSecret string
	HTTPClient     *http.Client
	Cancel         context.CancelFunc
	ServerProcess  *exec.Cmd
	InlineServer   *server.Server
}

// NewTestContext creates a new test context with a PostgreSQL testcontainer.
// Modes:
//   - Inline mode (default): the server runs in-process
//   - Binary mode: set NCOG_BINARY to the path of the ncogctl binary
func NewTestContext(ctx context.Context) (*TestContext, error) {
	binaryPath := os.Getenv("NCOG_BINARY")
	if binaryPath != "" {
		if _, err := os.Stat(binaryPath); err != nil {
			return nil, fmt.Errorf("NCOG_BINARY path does not exist: %s", binaryPath)
		}
		log.Printf("Using binary: %s", binaryPath)
	} else {
		log.Println("Using inline server mode")
	}

	// Start PostgreSQL container
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ncog_test"),
		tcpostgres.WithUsername("ncog"),
		tcpostgres.WithPassword("ncog"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}
	connStr := fmt.Sprintf("postgres://ncog:ncog@%s:%s/ncog_test?sslmode=disable", host, port.Port())

	// Connect with GORM for test setup/assertions
	db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{
		DSN:                  connStr,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rawDB, err := db.DB()
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get raw db: %w", err)
	}

	if err := runMigrations(rawDB); err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	const serverPort = 18080
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", serverPort)
	wsURL := fmt.Sprintf("ws://127.0.0.1:%d/ws", serverPort)

	var serverProcess *exec.Cmd
	var inlineServer *server.Server
	var cancel context.CancelFunc

	if binaryPath == "" {
		inlineServer, cancel, err = startInlineServer(connStr, serverPort)
		if err != nil {
			_ = pgContainer.Terminate(ctx)
			return nil, fmt.Errorf("failed to start inline server: %w", err)
		}
	} else {
		serverProcess, cancel, err = startBinary(binaryPath, connStr, fmt.Sprintf("%d", serverPort))
		if err != nil {
			_ = pgContainer.Terminate(ctx)
			return nil, fmt.Errorf("failed to start server binary: %w", err)
		}
	}

	if err := waitForServer(serverURL, 30*time.Second); err != nil {
		cancel()
		if serverProcess != nil && serverProcess.Process != nil {
			_ = serverProcess.Process.Kill()
		}
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("server failed to become ready: %w", err)
	}

	return &TestContext{
		DB:             db,
		RawDB:          rawDB,
		Container:      pgContainer,
		ServerURL:      serverURL,
		WebSocketURL:   wsURL,
		DatabaseURL:    connStr,
		CallbackSecret: callbackSecret,
		HTTPClient:     &http.Client{Timeout: 10 * time.Second},
		Cancel:         cancel,
		ServerProcess:  serverProcess,
		InlineServer:   inlineServer,
	}, nil
}

// startInlineServer runs the full server wiring in-process: store, session
// registry, notification listener and ping loop.
func startInlineServer(dbURL string, port int) (*server.Server, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{
		DSN:                  dbURL,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	cfg := &config.Config{
		BindAddress:      "127.0.0.1",
		Port:             port,
		DatabaseURL:      dbURL,
		AuthorizationURL: "https://login.example.com/auth",
		CallbackSecret:   callbackSecret,
		PingIntervalMS:   100,
		OutboundBuffer:   16,
		LogLevel:         "warn",
		LogFormat:        "json",
	}

	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	st := gormstore.NewStore(db)
	accounts := registry.NewAccounts(st, logger.Get("accounts"))
	clients := registry.NewClients(accounts, logger.Get("registry"))
	s := server.NewServer(cfg, db, st, clients, logger.Get("server"))

	listener := pubsub.NewListener(dbURL, clients, logger.Get("pubsub"))
	go func() {
		_ = listener.Run(ctx)
	}()
	go s.RunPingLoop(ctx)
	go func() {
		_ = s.Start()
	}()

	return s, cancel, nil
}

// startBinary starts the ncogctl server binary
func startBinary(binaryPath, dbURL, port string) (*exec.Cmd, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// Migrations already ran in the test setup
	cmd := exec.CommandContext(ctx, binaryPath, "server", "--no-migrate")
	cmd.Env = append(os.Environ(),
		"DATABASE_URL="+dbURL,
		"NCOG_BIND_ADDRESS=127.0.0.1",
		"NCOG_PORT="+port,
		"NCOG_CALLBACK_SECRET="+callbackSecret,
		"NCOG_PING_INTERVAL_MS=100",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to start binary: %w", err)
	}

	return cmd, cancel, nil
}

// waitForServer polls the healthcheck until it responds or times out
func waitForServer(serverURL string, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(serverURL + "/__healthcheck")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server did not become ready within %v", timeout)
}

// Close cleans up all test resources
func (tc *TestContext) Close(ctx context.Context) {
	if tc.Cancel != nil {
		tc.Cancel()
	}
	if tc.InlineServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
		_ = tc.InlineServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	if tc.ServerProcess != nil && tc.ServerProcess.Process != nil {
		_ = tc.ServerProcess.Process.Kill()
		_ = tc.ServerProcess.Wait()
	}
	if tc.RawDB != nil {
		_ = tc.RawDB.Close()
	}
	if tc.Container != nil {
		_ = tc.Container.Terminate(ctx)
	}
}

// runMigrations applies the embedded schema migrations
func runMigrations(db *sql.DB) error {
	migrations, err := fs.Sub(ncogdb.Migrations, "migrations")
	if err != nil {
		return err
	}
	source, err := iofs.New(migrations, ".")
	if err != nil {
		return err
	}
	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
