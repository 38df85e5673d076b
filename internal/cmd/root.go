package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-saas/txn"
	"github.com/go-saas/txn/internal/config"
	"github.com/go-saas/txn/internal/scenario"
	txsql "github.com/go-saas/txn/sql"
	"github.com/mattn/go-sqlite3"
	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "txnctl",
	Short: "Transaction propagation walkthroughs",
	Long:  `txnctl runs transaction propagation scenarios against a sqlite database and shows which rows survive.`,
	// errors are reported by the commands themselves
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	pflags := rootCmd.PersistentFlags()
	pflags.BoolP("verbose", "v", false, "Enable verbose output")
	pflags.String("dsn", "", "sqlite3 data source name (env TXNCTL_DSN)")
	pflags.Bool("log-sql", false, "Log every SQL statement")
	pflags.Lookup("verbose").NoOptDefVal = "true"
	pflags.VisitAll(func(flag *pflag.Flag) {
		// flags only override config when set
		key := strings.ReplaceAll(flag.Name, "-", "_")
		_ = viper.BindPFlag(key, flag)
	})
}

func NewRootCmd() *cobra.Command {
	// Create logger
	var logger kitlog.Logger
	{
		logger = kitlog.NewLogfmtLogger(os.Stderr)
		logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
	}

	// Initialize config
	c, err := config.Init(logger)
	if err != nil {
		fmt.Println("Error initializing config:", err)
		os.Exit(1)
	}

	// prepare runs once flags are parsed
	var env *scenario.Env
	var db *sql.DB
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid config/environment variables: %w", err)
		}
		filtered := logger
		if !c.Verbose() {
			filtered = level.NewFilter(logger, level.AllowInfo())
		}
		klog := newKitLogger(filtered)

		db, err = openDB(c, klog)
		if err != nil {
			return err
		}
		ds := txsql.NewDataSource(db)
		mgr := txn.NewManager(ds, txn.WithLogger(klog), txn.WithDefaultDefinition(c.DefaultDefinition()...))
		tpl := txn.NewTemplate(mgr)
		env = scenario.NewEnv(ds, tpl, klog)
		return nil
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if db == nil {
			return nil
		}
		return db.Close()
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "scenarios",
		Short: "List the available scenarios",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			for _, s := range scenario.All() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %s\n", s.Name, s.Description)
			}
		},
	})

	names := make([]string, 0, len(scenario.All()))
	for _, s := range scenario.All() {
		names = append(names, s.Name)
	}
	rootCmd.AddCommand(&cobra.Command{
		Use:       "scenario <name>",
		Short:     "Run a scenario and print the rows left behind",
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := scenario.Lookup(args[0])
			if err != nil {
				return err
			}
			res, err := env.Run(cmd.Context(), s)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			if !res.OK() {
				return errors.New("unexpected rows")
			}
			return nil
		},
	})

	return rootCmd
}

// Execute runs the root command and reports its error.
func Execute(ctx context.Context) error {
	cmd := NewRootCmd()
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

func printResult(cmd *cobra.Command, res *scenario.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "scenario: %s\n", res.Scenario.Name)
	fmt.Fprintf(out, "  %s\n", res.Scenario.Description)
	if res.Err != nil {
		fmt.Fprintf(out, "outcome:  %v\n", res.Err)
	} else {
		fmt.Fprintln(out, "outcome:  committed")
	}
	fmt.Fprintf(out, "visible:  [%s]\n", strings.Join(res.Rows, ", "))
	fmt.Fprintf(out, "expected: [%s]\n", strings.Join(res.Scenario.Expect, ", "))
}

func openDB(c *config.Config, logger log.Logger) (*sql.DB, error) {
	var db *sql.DB
	if c.LogSQL() {
		db = sqldblogger.OpenDriver(c.DSN(), &sqlite3.SQLiteDriver{}, txsql.NewQueryLogger(logger))
	} else {
		var err error
		db, err = sql.Open("sqlite3", c.DSN())
		if err != nil {
			return nil, err
		}
	}
	db.SetMaxOpenConns(c.MaxOpenConns())

	// Enable WAL mode so REQUIRES_NEW can commit while the outer transaction is open
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	return db, nil
}
