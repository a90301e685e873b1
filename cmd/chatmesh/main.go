package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amoylab/chatmesh/internal/auth"
	"github.com/amoylab/chatmesh/internal/auth/jwt"
	"github.com/amoylab/chatmesh/internal/broker"
	"github.com/amoylab/chatmesh/internal/chat"
	"github.com/amoylab/chatmesh/internal/common/cnst"
	"github.com/amoylab/chatmesh/internal/common/config"
	"github.com/amoylab/chatmesh/internal/i18n"
	"github.com/amoylab/chatmesh/internal/server"
	"github.com/amoylab/chatmesh/internal/session"
	"github.com/amoylab/chatmesh/internal/storage"
	"github.com/amoylab/chatmesh/internal/tracker"
	"github.com/amoylab/chatmesh/internal/ws"
	"github.com/amoylab/chatmesh/pkg/logger"
	"github.com/amoylab/chatmesh/pkg/metrics"
	"github.com/amoylab/chatmesh/pkg/trace"
	"github.com/amoylab/chatmesh/pkg/version"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of " + cnst.CommandName,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", cnst.CommandName, version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   cnst.CommandName,
		Short: "Distributed chat delivery server",
		Long:  `chatmesh serves chat websocket clients and fans room messages out across instances through Redis`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", cnst.ChatMeshYaml, "path to configuration file, like /etc/chatmesh/chatmesh.yaml")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(roomCmd())
	rootCmd.AddCommand(tokenCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	lg.Info("Loaded configuration",
		zap.String("path", cfgPath),
		zap.String("instance_id", cfg.Server.InstanceID),
		zap.String("version", version.Get()))

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		lg.Fatal("failed to initialize tracing", zap.Error(err))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	store, err := storage.NewStore(lg, &cfg.Database)
	if err != nil {
		lg.Fatal("failed to initialize database", zap.Error(err))
	}

	client, err := tracker.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		lg.Fatal("failed to connect to redis", zap.Error(err))
	}

	rooms := tracker.NewRedisStore(lg, client, cfg.Broker.RoomsKeyPrefix, cfg.Server.InstanceID)
	brokerOpts := broker.OptionsFromConfig(cfg.Server.InstanceID, cfg.Broker)
	mgr, err := session.NewManager(lg, rooms, store, func(d broker.Deliverer) (session.Bus, error) {
		return broker.New(ctx, lg, client, brokerOpts, d, m)
	}, m)
	if err != nil {
		lg.Fatal("failed to initialize session manager", zap.Error(err))
	}
	if err := mgr.Recover(ctx); err != nil {
		lg.Error("failed to recover room subscription record", zap.Error(err))
	}

	chatSvc := chat.NewService(lg, store, mgr.Bus(), mgr)

	tr, err := i18n.New(cfg.I18n.DefaultLang)
	if err != nil {
		lg.Fatal("failed to load translations", zap.Error(err))
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		lg.Fatal("failed to initialize authenticator", zap.Error(err))
	}

	wsHandler := ws.NewHandler(lg, cfg.Server, cfg.CORS, authenticator, mgr, chatSvc, tr, m)
	srv := server.NewServer(lg, cfg, wsHandler.Handle, &health{
		mgr:    mgr,
		client: client,
		id:     cfg.Server.InstanceID,
	}, m)

	go func() {
		if err := srv.Start(); err != nil {
			lg.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	lg.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("failed to shutdown http server", zap.Error(err))
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		lg.Error("failed to shutdown session manager", zap.Error(err))
	}
	if err := client.Close(); err != nil {
		lg.Error("failed to close redis client", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		lg.Error("failed to close database", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		lg.Error("failed to shutdown tracing", zap.Error(err))
	}
	lg.Info("Server shutdown completed")
}

// health adapts the running components to server.Health
type health struct {
	mgr    *session.Manager
	client redis.UniversalClient
	id     string
}

func (h *health) InstanceID() string { return h.id }

func (h *health) OpenConnections() int { return h.mgr.OpenConnections() }

func (h *health) SubscribedRooms() []int64 { return h.mgr.Bus().SubscribedRooms() }

func (h *health) Ping(ctx context.Context) error { return h.client.Ping(ctx).Err() }

func loadConfigOrExit() *config.ChatMeshConfig {
	cfg, _, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func userCmd() *cobra.Command {
	var username, displayName string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrExit()
			store, err := storage.NewStore(zap.NewNop(), &cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			user := &storage.User{Username: username, DisplayName: displayName}
			if err := store.CreateUser(cmd.Context(), user); err != nil {
				return err
			}
			fmt.Printf("created user %d (%s)\n", user.ID, user.Username)
			return nil
		},
	}
	create.Flags().StringVar(&username, "username", "", "unique user name")
	create.Flags().StringVar(&displayName, "display-name", "", "name shown as message sender")
	_ = create.MarkFlagRequired("username")

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(create)
	return cmd
}

func roomCmd() *cobra.Command {
	var (
		name        string
		description string
		creator     int64
		members     []int64
	)

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a chat room with its initial members",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrExit()
			store, err := storage.NewStore(zap.NewNop(), &cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			// no broadcasts are made while creating rooms
			svc := chat.NewService(zap.NewNop(), store, nil, nil)
			room, err := svc.CreateRoom(cmd.Context(), name, description, creator, members...)
			if err != nil {
				return err
			}
			fmt.Printf("created room %d (%s)\n", room.ID, room.Type)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "room name")
	create.Flags().StringVar(&description, "description", "", "room description")
	create.Flags().Int64Var(&creator, "creator", 0, "id of the creating user")
	create.Flags().Int64SliceVar(&members, "member", nil, "ids of additional members")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("creator")

	var roomID, userID int64
	join := &cobra.Command{
		Use:   "join",
		Short: "Add a user to a chat room",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrExit()
			store, err := storage.NewStore(zap.NewNop(), &cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()
			return chat.NewService(zap.NewNop(), store, nil, nil).JoinRoom(cmd.Context(), roomID, userID)
		},
	}
	join.Flags().Int64Var(&roomID, "room", 0, "room id")
	join.Flags().Int64Var(&userID, "user", 0, "user id")
	_ = join.MarkFlagRequired("room")
	_ = join.MarkFlagRequired("user")

	leave := &cobra.Command{
		Use:   "leave",
		Short: "Deactivate a user's membership in a chat room",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrExit()
			store, err := storage.NewStore(zap.NewNop(), &cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()
			return chat.NewService(zap.NewNop(), store, nil, nil).LeaveRoom(cmd.Context(), roomID, userID)
		},
	}
	leave.Flags().Int64Var(&roomID, "room", 0, "room id")
	leave.Flags().Int64Var(&userID, "user", 0, "user id")
	_ = leave.MarkFlagRequired("room")
	_ = leave.MarkFlagRequired("user")

	var page, size int
	messages := &cobra.Command{
		Use:   "messages",
		Short: "Print a page of a room's messages, newest first, as seen by a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrExit()
			store, err := storage.NewStore(zap.NewNop(), &cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			msgs, err := chat.NewService(zap.NewNop(), store, nil, nil).GetMessages(cmd.Context(), roomID, userID, page, size)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for i := range msgs {
				if err := enc.Encode(&msgs[i]); err != nil {
					return err
				}
			}
			return nil
		},
	}
	messages.Flags().Int64Var(&roomID, "room", 0, "room id")
	messages.Flags().Int64Var(&userID, "user", 0, "id of a member reading the room")
	messages.Flags().IntVar(&page, "page", 0, "zero-based page")
	messages.Flags().IntVar(&size, "size", chat.DefaultPageSize, "page size")
	_ = messages.MarkFlagRequired("room")
	_ = messages.MarkFlagRequired("user")

	cmd := &cobra.Command{
		Use:   "room",
		Short: "Manage chat rooms",
	}
	cmd.AddCommand(create, join, leave, messages)
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID   int64
		username string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a handshake token for jwt auth mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrExit()
			svc, err := jwt.NewService(cfg.Auth.JWT)
			if err != nil {
				return err
			}
			ticket, expires, err := svc.Issue(userID, username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ticket)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&username, "username", "", "user name")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
