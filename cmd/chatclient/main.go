// Command chatclient drives the messaging sync core from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ngabarin/messaging/internal/api"
	"ngabarin/messaging/internal/config"
	"ngabarin/messaging/internal/gateway"
	"ngabarin/messaging/internal/logger"
	"ngabarin/messaging/internal/messenger"
	"ngabarin/messaging/internal/utils"
)

type app struct {
	configPath string
	verbose    bool
	userID     int64

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if hint := errorHint(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(1)
	}
}

func errorHint(err error) string {
	if api.IsUnauthorized(err) {
		return "token rejected: mint a fresh one with `chatclient token <user-id>` or `seed`"
	}
	return ""
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "chatclient",
		Short:        "Terminal client for Ngabarin conversations",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "config.yaml", "optional YAML configuration file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log sync activity to stderr")
	flags.Int64Var(&a.userID, "user", 0, "user id; read from the token when omitted")
	flags.String("token", "", "bearer token (overrides API_TOKEN)")
	flags.String("api", "", "REST base URL (overrides API_BASE_URL)")
	flags.String("ws", "", "push channel URL (overrides WS_URL)")

	root.AddCommand(
		newListCmd(a),
		newFollowCmd(a),
		newSendCmd(a),
		newStartCmd(a),
		newLeaveCmd(a),
		newReadAllCmd(a),
		newTokenCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	for name, dst := range map[string]*string{
		"token": &cfg.Client.Token,
		"api":   &cfg.Client.APIBaseURL,
		"ws":    &cfg.Client.WSURL,
	} {
		if v, _ := flags.GetString(name); v != "" {
			*dst = v
		}
	}

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		return err
	}
	if !a.verbose {
		zlog = zlog.WithOptions(zap.IncreaseLevel(zapcore.ErrorLevel))
	}

	a.cfg = cfg
	a.logger = zlog
	return nil
}

// login builds the core and starts a session for the token's user.
func (a *app) login(ctx context.Context, opts ...messenger.Option) (*messenger.Messenger, error) {
	if a.cfg.Client.Token == "" {
		return nil, errors.New("no token: set API_TOKEN or pass --token")
	}

	userID := a.userID
	if userID == 0 {
		id, err := userFromToken(a.cfg.Client.Token)
		if err != nil {
			return nil, err
		}
		userID = id
	}

	client := api.NewClient(a.cfg.Client.APIBaseURL, a.cfg.Client.Token, a.cfg.Client.RequestTimeout, a.logger)
	gw := gateway.New(a.cfg.Client.WSURL, a.cfg.Client.Token, a.logger,
		gateway.WithBackOff(gateway.DefaultBackOff(a.cfg.Client.ReconnectMaxDelay)))

	m := messenger.New(a.cfg.Client, client, gw, a.logger, opts...)
	if _, err := m.Login(ctx, userID); err != nil {
		m.Logout()
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	return m, nil
}

// userFromToken reads the user id without verifying the signature; the
// server does that.
func userFromToken(token string) (int64, error) {
	claims := &utils.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, fmt.Errorf("failed to read token: %w", err)
	}
	if claims.UserID <= 0 {
		return 0, errors.New("token carries no user id; pass --user")
	}
	return claims.UserID, nil
}
