package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cvtriage/internal/auth"
	"cvtriage/internal/service/profile"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create an account with its credit profile",
	Long: "Create an account and its credit profile. An email that is already " +
		"registered keeps its account; only the profile is updated.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return provision(cmd)
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)

	provisionCmd.Flags().String("email", "", "login email (required)")
	provisionCmd.Flags().String("name", "", "display name")
	provisionCmd.Flags().String("password", "", "password; prompted for when empty")
	provisionCmd.Flags().Int("credits", -1, "credit limit (default is credits.default_limit)")
	provisionCmd.Flags().Bool("admin", false, "grant administrator access")
	provisionCmd.MarkFlagRequired("email")
}

func provision(cmd *cobra.Command) error {
	flags := cmd.Flags()
	email, _ := flags.GetString("email")
	name, _ := flags.GetString("name")
	password, _ := flags.GetString("password")
	credits, _ := flags.GetInt("credits")
	admin, _ := flags.GetBool("admin")

	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Sync()

	if credits < 0 {
		credits = cfg.Credits.DefaultLimit
	}
	if password == "" {
		password, err = promptPassword()
		if err != nil {
			return err
		}
	}

	db, store, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	profiles := profile.NewService(store, store, profile.Options{DefaultLimit: cfg.Credits.DefaultLimit}, log)
	gate := auth.NewGate(auth.NewService(store, nil, cfg.Auth.TokenTTL, log), profiles, log)

	p, err := gate.Register(cmd.Context(), auth.NewUser{
		Email:      email,
		Name:       name,
		Password:   password,
		IsAdmin:    admin,
		MaxCredits: credits,
	})
	if err != nil {
		return fmt.Errorf("provision %s: %w", email, err)
	}
	log.Info("profile provisioned",
		zap.String("user_id", p.ID),
		zap.String("email", p.Email),
		zap.Bool("is_admin", p.IsAdmin),
		zap.Int("max_credits", p.MaxCredits),
		zap.Int("usage_count", p.UsageCount),
	)
	return nil
}

func promptPassword() (string, error) {
	prompt := promptui.Prompt{
		Label: "Password",
		Mask:  '*',
		Validate: func(v string) error {
			if len(strings.TrimSpace(v)) < 6 {
				return errors.New("password must have at least 6 characters")
			}
			return nil
		},
	}
	return prompt.Run()
}
