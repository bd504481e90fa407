package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opensupplyhub/dedupe-hub/internal/match"
	"github.com/opensupplyhub/dedupe-hub/internal/store"
	"github.com/opensupplyhub/dedupe-hub/internal/web"
)

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "dedupe-hub",
		Short:         "Open Supply Hub facility matching",
		Long:          `Matches contributed facility list items against existing facilities and creates new facilities for the rest`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&flags.memory, "memory", false, "use an empty in-memory store instead of Postgres")
	rootCmd.PersistentFlags().StringVar(&flags.fixtures, "fixtures", "", "load a JSON fixtures file into an in-memory store")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "print matcher debug output")

	rootCmd.AddCommand(createServeCmd(&flags))
	rootCmd.AddCommand(createConsumeCmd(&flags))
	rootCmd.AddCommand(createMatchCmd(&flags))
	rootCmd.AddCommand(createGazetteerCmd(&flags))
	rootCmd.AddCommand(createPingCmd(&flags))
	rootCmd.AddCommand(createDBCmd(&flags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		red.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// withApp builds the app for a command and closes it afterwards
func withApp(flags *globalFlags, fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, *flags)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a, args)
	}
}

// createServeCmd creates the HTTP API command
func createServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the matching HTTP API",
		RunE: withApp(flags, func(ctx context.Context, a *app, args []string) error {
			server := web.NewServer(web.ConfigFrom(a.cfg), web.Deps{
				Store:   a.store,
				Matcher: a.matcher,
				Cache:   a.cache,
				Queue:   a.queue,
			}, a.log)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.Run(ctx) })
			if a.postgres != nil {
				g.Go(func() error { return listen(ctx, a) })
			}
			return g.Wait()
		}),
	}
}

// createConsumeCmd creates the queue consumer command
func createConsumeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Consume match requests from the Redis stream",
		RunE: withApp(flags, func(ctx context.Context, a *app, args []string) error {
			if a.queue == nil {
				return errors.New("REDIS_ADDR is required to consume match requests")
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.queue.Consume(ctx, a.matcher) })
			if a.postgres != nil {
				g.Go(func() error { return listen(ctx, a) })
			}
			return g.Wait()
		}),
	}
}

// listen refreshes the gazetteer when the application announces changes
func listen(ctx context.Context, a *app) error {
	return store.ListenRefresh(ctx, a.cfg.DatabaseURL, a.cfg.RefreshChannel, a.log, func(ctx context.Context) {
		if _, err := a.cache.Latest(ctx); err != nil {
			a.log.Error().Err(err).Msg("gazetteer refresh failed")
		}
	})
}

// createMatchCmd creates the synchronous matching commands
func createMatchCmd(flags *globalFlags) *cobra.Command {
	var (
		asJSON  bool
		verbose bool
	)

	matchCmd := &cobra.Command{
		Use:   "match",
		Short: "Match a facility list or items",
	}
	matchCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	matchCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print one line per item")

	report := func(summary *match.Summary, err error) error {
		if summary != nil {
			if asJSON {
				if jerr := printJSON(os.Stdout, summary); jerr != nil {
					return jerr
				}
			} else {
				printSummary(os.Stdout, summary, verbose)
			}
		}
		return err
	}

	matchCmd.AddCommand(&cobra.Command{
		Use:   "list [list-id]",
		Short: "Match every item of a facility list",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(ctx context.Context, a *app, args []string) error {
			listID, err := parseID(args[0])
			if err != nil {
				return err
			}
			summary, err := a.matcher.MatchList(ctx, listID)
			return report(summary, err)
		}),
	})

	matchCmd.AddCommand(&cobra.Command{
		Use:   "items [item-id...]",
		Short: "Match individual facility list items",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(flags, func(ctx context.Context, a *app, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			summary, err := a.matcher.MatchItems(ctx, ids)
			return report(summary, err)
		}),
	})

	return matchCmd
}

// createGazetteerCmd creates the gazetteer cache commands
func createGazetteerCmd(flags *globalFlags) *cobra.Command {
	gazetteerCmd := &cobra.Command{
		Use:   "gazetteer",
		Short: "Inspect or rebuild the gazetteer",
	}

	gazetteerCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Build the gazetteer and show its status",
		RunE: withApp(flags, func(ctx context.Context, a *app, args []string) error {
			if _, err := a.cache.Latest(ctx); err != nil {
				return err
			}
			printStatus(os.Stdout, a.cache.Status())
			return nil
		}),
	})

	gazetteerCmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the gazetteer and retrain the pair model",
		RunE: withApp(flags, func(ctx context.Context, a *app, args []string) error {
			if _, err := a.cache.Rebuild(ctx); err != nil {
				return err
			}
			printStatus(os.Stdout, a.cache.Status())
			return nil
		}),
	})

	return gazetteerCmd
}

// createPingCmd creates a command to test connectivity
func createPingCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database and queue connectivity",
		RunE: withApp(flags, func(ctx context.Context, a *app, args []string) error {
			if err := a.store.Ping(ctx); err != nil {
				return fmt.Errorf("store: %w", err)
			}
			green.Println("Store connection successful")

			versions, err := a.store.LatestVersions(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("History versions: facility=%d match=%d\n", versions.Facility, versions.Match)

			if a.queue == nil {
				yellow.Println("No queue configured")
				return nil
			}
			if err := a.queue.Ping(ctx); err != nil {
				return fmt.Errorf("queue: %w", err)
			}
			green.Println("Queue connection successful")
			return nil
		}),
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}

// createDBCmd creates the database utility commands
func createDBCmd(flags *globalFlags) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database utility commands",
	}

	dbCmd.AddCommand(&cobra.Command{
		Use:   "apply [sql-file...]",
		Short: "Execute SQL files against the database in order",
		Long:  `Execute SQL files such as sql/01_refresh_notify.sql, which installs the history triggers the refresh listener waits on`,
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(flags, func(ctx context.Context, a *app, args []string) error {
			if a.postgres == nil {
				return errors.New("db apply needs a Postgres store")
			}
			if err := store.ExecSQLFiles(ctx, a.postgres.DB(), a.log, args...); err != nil {
				return err
			}
			green.Printf("Applied %d SQL file(s)\n", len(args))
			return nil
		}),
	})

	return dbCmd
}
