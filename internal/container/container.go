package container

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gosens/adapters/excel"
	"gosens/adapters/memory"
	"gosens/adapters/postgres"
	"gosens/adapters/postgres/migrations"
	"gosens/adapters/report"
	"gosens/app"
	"gosens/internal"
	"gosens/internal/config"
	"gosens/ports"

	"github.com/jmoiron/sqlx"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB       *sqlx.DB
	Workbook *excel.Workbook

	// Adapters
	Runs     ports.RunRepository
	Exporter *excel.Exporter
	Reports  *report.Writer

	Service *app.SensitivityService
}

// New validates cfg and wires every component. Without a database URL the
// run ledger lives in memory.
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		Config: cfg,
		Logger: internal.DefaultLogger,
	}

	wb, err := excel.OpenWorkbook(cfg.Model.Workbook)
	if err != nil {
		return nil, err
	}
	c.Workbook = wb

	if cfg.Database.URL != "" {
		if err := c.initDatabase(context.Background()); err != nil {
			c.Shutdown()
			return nil, err
		}
	} else {
		log.Printf("[Container] No DATABASE_URL configured, keeping run records in memory")
		c.Runs = memory.NewRunStore()
	}

	var exporter ports.ResultExporter
	if cfg.Run.ExportPath != "" {
		c.Exporter = excel.NewExporter(cfg.Run.ExportPath)
		exporter = c.Exporter
	}
	var reports ports.ReportWriter
	if cfg.Run.ReportPath != "" {
		c.Reports = report.NewWriter(cfg.Run.ReportPath)
		reports = c.Reports
	}

	c.Service = app.NewSensitivityService(wb, wb, c.Runs, exporter, reports, c.Logger)
	return c, nil
}

// initDatabase connects, applies the schema and installs the PostgreSQL ledger
func (c *Container) initDatabase(ctx context.Context) error {
	db, err := sqlx.Connect("postgres", c.Config.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DB = db

	if err := migrations.NewMigrator(db.DB).Up(ctx); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	c.Runs = postgres.NewRunRepository(db)
	log.Printf("[Container] Run records stored in PostgreSQL")
	return nil
}

// SaveModel writes the workbook back to disk
func (c *Container) SaveModel() error {
	return c.Workbook.Save()
}

// Shutdown releases the workbook and database connection
func (c *Container) Shutdown() error {
	var errs []error
	if c.Workbook != nil {
		errs = append(errs, c.Workbook.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}
