package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/handhunter/internal/apikey"
	"github.com/kiranshivaraju/handhunter/internal/config"
	"github.com/kiranshivaraju/handhunter/internal/store"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user and an API key for it",
	Long:  "Creates a user with the given role and mints an API key. The raw key is printed once and cannot be recovered.",
	RunE:  runKeysCreate,
}

type keyOptions struct {
	userName string
	role     string
	keyName  string
	scopes   []string
}

var keysCreate keyOptions

func init() {
	keysCreateCmd.Flags().StringVar(&keysCreate.userName, "user-name", "", "Name of the user to create (required)")
	keysCreateCmd.Flags().StringVar(&keysCreate.role, "role", models.RoleReporter, "User role")
	keysCreateCmd.Flags().StringVar(&keysCreate.keyName, "name", "default", "Key name")
	keysCreateCmd.Flags().StringSliceVar(&keysCreate.scopes, "scopes", []string{"read"}, "Key scopes, e.g. read,admin")

	if err := keysCreateCmd.MarkFlagRequired("user-name"); err != nil {
		panic(fmt.Sprintf("failed to mark user-name flag as required: %v", err))
	}

	keysCmd.AddCommand(keysCreateCmd)
	rootCmd.AddCommand(keysCmd)
}

var knownRoles = map[string]bool{
	models.RoleHighTemplar: true,
	models.RoleReporter:    true,
	models.RoleAdmin:       true,
	models.RoleUser:        true,
}

func runKeysCreate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := store.Connect(cmd.Context(), cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return createKey(cmd.Context(), store.NewPostgresStore(pool), keysCreate, cmd.OutOrStdout())
}

type keyCreator interface {
	CreateUser(ctx context.Context, user *models.User) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

func createKey(ctx context.Context, s keyCreator, opts keyOptions, out io.Writer) error {
	opts.userName = strings.TrimSpace(opts.userName)
	if opts.userName == "" {
		return fmt.Errorf("--user-name is required")
	}
	if !knownRoles[opts.role] {
		return fmt.Errorf("unknown role %q", opts.role)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.New(),
		Name:      opts.userName,
		Role:      opts.role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	raw, key, err := apikey.Generate(user.ID, opts.keyName, opts.scopes)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("store key: %w", err)
	}

	fmt.Fprintf(out, "user_id: %s\nrole:    %s\nkey_id:  %s\nscopes:  %s\nkey:     %s\n",
		user.ID, user.Role, key.ID, strings.Join(key.Scopes, ","), raw)
	return nil
}
