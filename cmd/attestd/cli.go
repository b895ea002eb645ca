package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/example/attendance-attest/internal/application"
	"github.com/example/attendance-attest/internal/config"
	"github.com/example/attendance-attest/internal/geo"
	"github.com/example/attendance-attest/internal/logging"
	"github.com/example/attendance-attest/internal/persistence/sqlite"
	"github.com/example/attendance-attest/internal/verification"
)

// rootOptions holds global flags and the configuration resolved from them.
type rootOptions struct {
	EnvFile  string
	LogLevel string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "attestd",
		Short:         "Location-attested attendance service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file read before ATTEST_* variables")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "overrides ATTEST_LOG_LEVEL (debug|info|warn|error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSeedMeetingsCommand(opts))
	cmd.AddCommand(newDistanceCommand())

	return cmd
}

// load reads the dotenv file, then the environment. A missing default .env is fine;
// a missing file named explicitly is not.
func (o *rootOptions) load(cmd *cobra.Command) error {
	if o.EnvFile != "" {
		if err := godotenv.Load(o.EnvFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load %s: %w", o.EnvFile, err)
			}
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	o.cfg = cfg
	o.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts.cfg, opts.logger)
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if status {
				if opts.cfg.Backend() != config.BackendSQLite {
					return fmt.Errorf("--status is only supported for sqlite, backend is %s", opts.cfg.Backend())
				}
				store, err := sqlite.Open(ctx, sqlite.DefaultConfig(opts.cfg.DatabaseURL), opts.logger)
				if err != nil {
					return err
				}
				defer store.Close()
				st, err := store.MigrationStatus(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "current version: %s\n", valueOr(st.CurrentVersion, "none"))
				for _, m := range st.Applied {
					fmt.Fprintf(out, "applied %s at %s\n", m.Version, m.AppliedAt.UTC().Format(time.RFC3339))
				}
				for _, m := range st.Pending {
					fmt.Fprintf(out, "pending %s %s\n", m.Version, m.Description)
				}
				return nil
			}

			store, err := openStore(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(out, "%s schema is up to date\n", opts.cfg.Backend())
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "list applied and pending migrations without applying them")
	return cmd
}

type meetingUpserter interface {
	UpsertMeeting(ctx context.Context, input application.MeetingInput) (application.Meeting, bool, error)
}

func newSeedMeetingsCommand(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-meetings",
		Short: "Create or update meetings from a YAML catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			catalog, err := config.LoadMeetingCatalog(file)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			service := application.NewMeetingServiceWithLogger(
				newMeetingRepositoryAdapter(store),
				uuid.NewString,
				time.Now,
				opts.cfg.DefaultRadiusMeters,
				opts.logger,
			)
			created, updated, err := seedMeetings(ctx, service, catalog)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d meetings (%d created, %d updated)\n", created+updated, created, updated)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to the meeting catalog")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// seedMeetings upserts every catalog entry in order and stops at the first failure.
func seedMeetings(ctx context.Context, service meetingUpserter, catalog config.MeetingCatalog) (created, updated int, err error) {
	for _, entry := range catalog.Meetings {
		_, isNew, err := service.UpsertMeeting(ctx, application.MeetingInput{
			ID:           entry.ID,
			Name:         entry.Name,
			Address:      entry.Address,
			Latitude:     entry.Latitude,
			Longitude:    entry.Longitude,
			RadiusMeters: entry.RadiusMeters,
			IsActive:     entry.Active,
		})
		if err != nil {
			return created, updated, fmt.Errorf("meeting %s: %w", entry.ID, err)
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}
	return created, updated, nil
}

func newDistanceCommand() *cobra.Command {
	var (
		from   string
		to     string
		radius float64
	)

	cmd := &cobra.Command{
		Use:     "distance",
		Short:   "Print the great-circle distance between two points",
		Example: "  attestd distance --from=38.5767,-121.4934 --to=38.5816,-121.4944 --radius 100",
		Args:    cobra.NoArgs,
		// Pure computation; skip config loading.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseCoordinate(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			b, err := parseCoordinate(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			meters, err := geo.DistanceMeters(a, b)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%.2f m\n", meters)

			if cmd.Flags().Changed("radius") {
				outcome, err := verification.Verify(
					verification.Destination{Lat: a.Lat, Lng: a.Lng, RadiusMeters: radius},
					verification.Sample{Lat: b.Lat, Lng: b.Lng},
				)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s within %.0f m\n", outcome.Flag, radius)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "destination as LAT,LNG")
	cmd.Flags().StringVar(&to, "to", "", "sample as LAT,LNG")
	cmd.Flags().Float64Var(&radius, "radius", 0, "verify --to against a radius around --from")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func parseCoordinate(value string) (geo.Coordinate, error) {
	latText, lngText, ok := strings.Cut(value, ",")
	if !ok {
		return geo.Coordinate{}, fmt.Errorf("expected LAT,LNG, got %q", value)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngText), 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("longitude: %w", err)
	}
	c := geo.Coordinate{Lat: lat, Lng: lng}
	return c, c.Validate()
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
