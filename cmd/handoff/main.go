package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/carebridge-hub/backend/internal/adapters/cache"
	"github.com/carebridge-hub/backend/internal/application/services"
	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	"github.com/carebridge-hub/backend/internal/infrastructure/clients/handoffapi"
	"github.com/carebridge-hub/backend/internal/review"
	"github.com/carebridge-hub/backend/pkg/config"
)

var (
	cfgFile string
	version = "dev"
	logger  = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	rootCmd = &cobra.Command{
		Use:   "handoff",
		Short: "Record, review and approve shift handoffs",
		Long: `handoff drives a session on the handoff API: it uploads a recorded
handoff, follows processing, and walks the reviewer through the extracted
form until it can be approved.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/handoff/config.yaml)")
	rootCmd.PersistentFlags().String("api-url", "http://localhost:8080", "handoff API base URL")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "timeout for short API calls")
	rootCmd.PersistentFlags().String("cache", cache.DefaultSQLitePath(), "local extraction cache file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("api.timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("cache.path", rootCmd.PersistentFlags().Lookup("cache"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(setCmd())
	rootCmd.AddCommand(answerCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(acceptCmd())
	rootCmd.AddCommand(nextCmd())
	rootCmd.AddCommand(pinCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("interrupted, shutting down")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		viper.AddConfigPath(fmt.Sprintf("%s/.config/handoff", home))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Processing and review settings default to the server's environment
	// configuration so both sides agree on required fields.
	base, err := config.Load()
	if err != nil {
		return err
	}
	viper.SetDefault("processing.poll_interval", base.Processing.PollInterval)
	viper.SetDefault("processing.offline_after", base.Processing.OfflineAfter)
	viper.SetDefault("review.required_fields", base.Review.RequiredFields)
	viper.SetDefault("review.keywords_file", base.Review.KeywordsFile)

	viper.SetEnvPrefix("HANDOFF")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	level, err := zerolog.ParseLevel(viper.GetString("logging.level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger = logger.Level(level)
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "handoff %s\n", version)
		},
	}
}

func apiClient() *handoffapi.HTTPClient {
	return handoffapi.NewClient(viper.GetString("api.url"), viper.GetDuration("api.timeout"))
}

// openReviewService wires the API client and the local cache. The caller
// closes the returned cache.
var openReviewService = func() (*services.ReviewService, io.Closer, error) {
	store, err := cache.OpenSQLite(viper.GetString("cache.path"))
	if err != nil {
		return nil, nil, err
	}
	svc, err := newReviewService(apiClient(), store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return svc, store, nil
}

func newReviewService(backend services.ReviewBackend, store providers.CacheProvider) (*services.ReviewService, error) {
	opts := []services.ReviewServiceOption{
		services.WithReviewLogger(logger),
		services.WithRequiredFields(requiredFields()...),
	}
	if path := viper.GetString("review.keywords_file"); path != "" {
		table, err := review.LoadKeywordTable(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, services.WithKeywordTable(table))
	}
	return services.NewReviewService(backend, store, opts...), nil
}

func requiredFields() []entities.FieldName {
	var out []entities.FieldName
	for _, name := range viper.GetStringSlice("review.required_fields") {
		out = append(out, entities.FieldName(name))
	}
	return out
}
