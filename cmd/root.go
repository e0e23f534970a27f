package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"cvtriage/internal/config"
	"cvtriage/internal/logger"
)

const app = "cvtriage"

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "cvtriage screens resumes against a job profile with an AI model",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// A missing .env is fine; real deployments set the environment directly.
			_ = godotenv.Load()
			return nil
		},
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is cvtriage.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// loadRuntime reads the configuration and builds the process logger.
// Command line flags win over the log section of the config.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CVTRIAGE_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	jsonLogs := cfg.Log.JSON || viper.GetBool("json")
	debug := cfg.Log.Debug || viper.GetBool("debug")
	log, err := logger.New(jsonLogs, debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
