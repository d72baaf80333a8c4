// Command seed creates development users and prints a bearer token for each,
// so a fresh database can be driven end to end with chatclient.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ngabarin/messaging/internal/config"
	"ngabarin/messaging/internal/database"
	"ngabarin/messaging/internal/logger"
	"ngabarin/messaging/internal/models"
	"ngabarin/messaging/internal/utils"
)

var defaultUsers = []string{
	"Andi:andi@example.com",
	"Budi:budi@example.com",
	"Siti:siti@example.com",
}

type userCreator interface {
	CreateUser(ctx context.Context, name, email string) (models.User, error)
}

// opener connects to the configured database; release closes it.
type opener func(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (store userCreator, release func(), err error)

type seedUser struct {
	name  string
	email string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openStore).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	var (
		configPath string
		users      []string
		force      bool
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Create development users and print their tokens",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.IsDevelopment() && !force {
				return fmt.Errorf("refusing to seed the %q environment without --force", cfg.Env)
			}

			specs := make([]seedUser, 0, len(users))
			for _, arg := range users {
				u, err := parseUser(arg)
				if err != nil {
					return err
				}
				specs = append(specs, u)
			}

			tokens, err := utils.NewTokenManager(cfg.Server.JWTSecret, ttl)
			if err != nil {
				return err
			}

			zlog, err := logger.New(cfg.Env)
			if err != nil {
				return err
			}
			defer zlog.Sync()

			store, closeStore, err := open(cmd.Context(), cfg, zlog)
			if err != nil {
				return err
			}
			defer closeStore()

			return seed(cmd.Context(), store, tokens, specs, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "config.yaml", "optional YAML configuration file")
	flags.StringArrayVarP(&users, "user", "u", defaultUsers, "user to create as name or name:email; repeatable")
	flags.BoolVar(&force, "force", false, "seed outside the development environment")
	flags.DurationVar(&ttl, "ttl", 24*time.Hour, "lifetime of the printed tokens")
	return cmd
}

func openStore(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (userCreator, func(), error) {
	pool, err := database.Connect(ctx, cfg.Server.DatabaseURL, zlog)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Server.Migrate {
		if err := database.Migrate(cfg.Server.DatabaseURL, zlog); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return database.NewStore(pool), pool.Close, nil
}

// parseUser splits "name:email"; the email part is optional.
func parseUser(arg string) (seedUser, error) {
	name, email, _ := strings.Cut(arg, ":")
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" {
		return seedUser{}, fmt.Errorf("invalid user %q: name is required", arg)
	}
	if email != "" && !strings.Contains(email, "@") {
		return seedUser{}, fmt.Errorf("invalid user %q: malformed email", arg)
	}
	return seedUser{name: name, email: email}, nil
}

func seed(ctx context.Context, store userCreator, tokens *utils.TokenManager, users []seedUser, w io.Writer) error {
	if len(users) == 0 {
		return errors.New("no users to create")
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTOKEN")
	for _, u := range users {
		user, err := store.CreateUser(ctx, u.name, u.email)
		if err != nil {
			return err
		}
		token, err := tokens.GenerateToken(user.ID, user.Name)
		if err != nil {
			return fmt.Errorf("failed to sign token for %s: %w", user.Name, err)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", user.ID, user.Name, token)
	}
	return tw.Flush()
}
