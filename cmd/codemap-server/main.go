package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/codemap/codemap/internal/config"
	"github.com/codemap/codemap/internal/domain/enrichment"
	"github.com/codemap/codemap/internal/domain/mapping"
	"github.com/codemap/codemap/internal/platform/db"
	"github.com/codemap/codemap/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "codemap-server",
		Short: "Composite code resolution engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(lookupCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the resolution API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("CODEMAP_DATABASE_URL is not set")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("CODEMAP_DATABASE_URL is not set")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func lookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup CODE...",
		Short: "Resolve codes to descriptions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mappersFile, _ := cmd.Flags().GetString("mappers")
			mapper, _ := cmd.Flags().GetString("mapper")
			autoRoute, _ := cmd.Flags().GetBool("auto-route")
			def, _ := cmd.Flags().GetString("default")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if mapper == "" {
				mapper = cfg.DefaultMapper
			}

			ctx := context.Background()
			reg, cleanup, err := openRegistry(ctx, cliLogger(), cfg, mappersFile)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := mapping.LookupOptions{AutoRoute: autoRoute, Default: def}
			for _, raw := range args {
				fmt.Printf("%s\t%s\n", raw, reg.GetDescription(mapper, raw, opts))
			}
			return nil
		},
	}
	cmd.Flags().String("mappers", "", "Path to the mappers YAML file")
	cmd.Flags().String("mapper", "", "Mapper to resolve against (default from config)")
	cmd.Flags().Bool("auto-route", true, "Route composite codes by token and prefix/version pair")
	cmd.Flags().String("default", mapping.DefaultDescription, "Description substituted on a miss")
	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search codes and descriptions by substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mappersFile, _ := cmd.Flags().GetString("mappers")
			mapper, _ := cmd.Flags().GetString("mapper")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if mapper == "" {
				mapper = cfg.DefaultMapper
			}

			ctx := context.Background()
			reg, cleanup, err := openRegistry(ctx, cliLogger(), cfg, mappersFile)
			if err != nil {
				return err
			}
			defer cleanup()

			table, err := reg.GetMapper(mapper)
			if err != nil {
				return err
			}
			for _, entry := range table.Search(args[0], limit) {
				fmt.Printf("%s\t%s\n", entry.Code, entry.Description)
			}
			return nil
		},
	}
	cmd.Flags().String("mappers", "", "Path to the mappers YAML file")
	cmd.Flags().String("mapper", "", "Mapper to search (default from config)")
	cmd.Flags().Int("limit", 20, "Maximum number of results")
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a mapping file and print a quality report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delimiter, _ := cmd.Flags().GetString("delimiter")
			codeColumn, _ := cmd.Flags().GetInt("code-column")
			descColumn, _ := cmd.Flags().GetInt("description-column")
			header, _ := cmd.Flags().GetBool("header")
			sample, _ := cmd.Flags().GetInt("sample")

			src := mapping.FileSource{
				Path:              args[0],
				Delimiter:         delimiter,
				CodeColumn:        codeColumn,
				DescriptionColumn: descColumn,
				Header:            header,
			}
			rep, err := mapping.ValidateSource(context.Background(), src, sample)
			if err != nil {
				return err
			}

			fmt.Printf("Rows:               %d\n", rep.TotalRows)
			fmt.Printf("Loaded:             %d\n", rep.Loaded)
			fmt.Printf("Skipped:            %d\n", rep.Skipped)
			if rep.Filtered > 0 {
				fmt.Printf("Filtered:           %d\n", rep.Filtered)
			}
			fmt.Printf("Unique codes:       %d\n", rep.UniqueCodes)
			fmt.Printf("Duplicate codes:    %d\n", rep.DuplicateCodes)
			fmt.Printf("Empty codes:        %d\n", rep.EmptyCodes)
			fmt.Printf("Empty descriptions: %d\n", rep.EmptyDescriptions)
			if len(rep.Sample) > 0 {
				fmt.Println("Sample:")
				for _, e := range rep.Sample {
					fmt.Printf("  %s\t%s\n", e.Code, e.Description)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("delimiter", ",", "Field delimiter")
	cmd.Flags().Int("code-column", 0, "Zero-based code column index")
	cmd.Flags().Int("description-column", 1, "Zero-based description column index")
	cmd.Flags().Bool("header", true, "Skip the first row as a header")
	cmd.Flags().Int("sample", 5, "Number of sample entries to print")
	return cmd
}

func enrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich IN OUT",
		Short: "Append resolved descriptions to a delimited event file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mappersFile, _ := cmd.Flags().GetString("mappers")
			defaultMapper, _ := cmd.Flags().GetString("default-mapper")
			column, _ := cmd.Flags().GetString("column")
			delimiter, _ := cmd.Flags().GetString("delimiter")
			workers, _ := cmd.Flags().GetInt("workers")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if defaultMapper == "" {
				defaultMapper = cfg.DefaultMapper
			}

			ctx := context.Background()
			reg, cleanup, err := openRegistry(ctx, cliLogger(), cfg, mappersFile)
			if err != nil {
				return err
			}
			defer cleanup()

			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}

			enricher := enrichment.NewEnricher(reg, defaultMapper, cfg.DefaultDescription)
			res, err := enricher.Stream(ctx, in, out, enrichment.StreamConfig{
				CodeColumn: column,
				Delimiter:  delimiter,
				Workers:    workers,
			})
			if err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}

			fmt.Printf("Processed %d record(s): %d resolved, %d defaulted.\n",
				res.Processed, res.Resolved, res.Defaulted)
			return nil
		},
	}
	cmd.Flags().String("mappers", "", "Path to the mappers YAML file")
	cmd.Flags().String("default-mapper", "", "Mapper for codes without routable tokens")
	cmd.Flags().String("column", "code", "Header name of the code column")
	cmd.Flags().String("delimiter", ",", "Field delimiter")
	cmd.Flags().Int("workers", 0, "Resolution workers (0 = number of CPUs)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export NAME FILE",
		Short: "Dump a mapper's entries to CSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mappersFile, _ := cmd.Flags().GetString("mappers")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			reg, cleanup, err := openRegistry(ctx, cliLogger(), cfg, mappersFile)
			if err != nil {
				return err
			}
			defer cleanup()

			table, err := reg.GetMapper(args[0])
			if err != nil {
				return err
			}

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := mapping.ExportCSV(out, table); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}

			fmt.Printf("Exported %d code(s) to %s.\n", table.Size(), args[1])
			return nil
		},
	}
	cmd.Flags().String("mappers", "", "Path to the mappers YAML file")
	return cmd
}

// newLogger builds the process logger from config. LOG_FORMAT=console gives
// human-readable output for development; the default is JSON.
func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		logger = logger.Level(lvl)
	}
	return logger
}

// cliLogger keeps table-load logging off stdout so command output stays
// parseable; warnings still reach stderr.
func cliLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.WarnLevel)
}

// buildSources binds parsed mapper entries to concrete sources. Postgres
// entries need a live pool; that requirement surfaces here rather than at
// parse time so file-only deployments never open a database connection.
func buildSources(entries []config.MapperEntry, pool *pgxpool.Pool) ([]mapping.SourceSpec, error) {
	specs := make([]mapping.SourceSpec, 0, len(entries))
	for _, entry := range entries {
		mc := entry.Config
		var src mapping.Source
		switch mc.Source {
		case config.SourcePostgres:
			if pool == nil {
				return nil, fmt.Errorf("mapper %q: postgres source requires CODEMAP_DATABASE_URL", entry.Name)
			}
			src = mapping.NewPGMapperSource(pool, mc.Table, entry.Name)
		default:
			src = mapping.FileSource{
				Path:              mc.Path,
				Delimiter:         mc.Delimiter,
				CodeColumn:        mc.CodeColumn,
				DescriptionColumn: mc.DescriptionColumn,
				Header:            mc.Header,
				FilterColumn:      mc.FilterColumn,
				FilterValue:       mc.FilterValue,
			}
		}
		specs = append(specs, mapping.SourceSpec{
			Name:   entry.Name,
			Source: src,
			Config: mapping.TableConfig{
				CodeType: mc.CodeType,
				Tokens:   mc.Tokens,
				Floor:    mc.Floor,
			},
		})
	}
	return specs, nil
}

// needsDatabase reports whether any mapper entry loads from Postgres.
func needsDatabase(entries []config.MapperEntry) bool {
	for _, e := range entries {
		if e.Config.Source == config.SourcePostgres {
			return true
		}
	}
	return false
}

// openRegistry builds a registry from the mappers file named by --mappers,
// falling back to CODEMAP_MAPPERS_FILE. A database pool is opened only when
// an entry needs one; the returned cleanup closes it.
func openRegistry(ctx context.Context, logger zerolog.Logger, cfg *config.Config, mappersFile string) (*mapping.Registry, func(), error) {
	if mappersFile == "" {
		mappersFile = cfg.MappersFile
	}
	if mappersFile == "" {
		return nil, nil, fmt.Errorf("no mappers file: pass --mappers or set CODEMAP_MAPPERS_FILE")
	}

	entries, err := config.LoadMappers(mappersFile)
	if err != nil {
		return nil, nil, err
	}

	var pool *pgxpool.Pool
	cleanup := func() {}
	if needsDatabase(entries) {
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("mappers file uses postgres sources but CODEMAP_DATABASE_URL is not set")
		}
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		cleanup = pool.Close
	}

	specs, err := buildSources(entries, pool)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	reg, err := mapping.BuildRegistry(ctx, logger, specs)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return reg, cleanup, nil
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger = newLogger(cfg)

	// Database pool, only when configured. A server bootstrapped purely
	// from mapping files runs without one.
	ctx := context.Background()
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	// Mapping registry
	if cfg.MappersFile == "" {
		logger.Fatal().Msg("CODEMAP_MAPPERS_FILE is not set")
	}
	entries, err := config.LoadMappers(cfg.MappersFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load mappers file")
	}
	specs, err := buildSources(entries, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bind mapper sources")
	}
	registry, err := mapping.BuildRegistry(ctx, logger, specs)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build mapping registry")
	}
	if !registry.HasMapper(cfg.DefaultMapper) {
		logger.Warn().Str("mapper", cfg.DefaultMapper).Msg("default mapper is not registered")
	}
	svc := mapping.NewService(registry, cfg.DefaultMapper, cfg.SearchMaxLimit)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, "10M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// API group
	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Admin guard for the mutating endpoints
	var admin []echo.MiddlewareFunc
	if cfg.AuthEnabled {
		admin = append(admin, middleware.JWTAuth([]byte(cfg.JWTSecret)))
	}

	handler := mapping.NewHandler(svc)
	handler.RegisterRoutes(apiV1, admin...)

	// Health checks
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Int("mappers", registry.Len()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
