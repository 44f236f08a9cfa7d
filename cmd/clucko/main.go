package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"clucko/internal/app"
	"clucko/internal/config"
	"clucko/internal/db"
	"clucko/internal/domain"
	"clucko/internal/migrate"
	"clucko/internal/repo"
	"clucko/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "clucko",
	Short: "Clucko CLI",
	Long: `Clucko signs you in with a one-time email code and manages on-chain missions.
Core concepts:
- Session: anonymous -> code_requested -> authenticated; an error is shown on top of the current step.
- Missions: reward-bearing tasks read from the mission manager contract with getMissions.
- Create: createMission is sent from a node-managed account and pays the contract's missionFee.
- Journal: an optional activity log in .clucko/journal.db, view with 'clucko log tail'.
- Gateway: 'clucko serve' exposes the same controllers over HTTP; 'clucko shell' is the interactive client.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CLUCKO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("rpc-url", "", "JSON-RPC endpoint (overrides config)")
	rootCmd.PersistentFlags().String("identity-url", "", "identity service base URL (overrides config)")
	rootCmd.PersistentFlags().String("from", "", "node-managed sender account (overrides config)")
	rootCmd.PersistentFlags().String("access-token", "", "gateway access token")
	for _, name := range []string{"workspace", "json", "rpc-url", "identity-url", "from", "access-token"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(missionsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(shellCmd())
}

func overrides() app.Overrides {
	return app.Overrides{
		RPCURL:      viper.GetString("rpc-url"),
		IdentityURL: viper.GetString("identity-url"),
		From:        viper.GetString("from"),
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage clucko.yml",
		Long:  "clucko.yml holds the network, contract addresses, sender account and identity service. Missing values fall back to the built-in Scroll Sepolia defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default clucko.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"path": path})
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), overrides())
			if err != nil {
				return err
			}
			return printJSONOrYAML(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate clucko.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func missionsCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "missions",
		Short: "Read and create on-chain missions",
	}
	m.AddCommand(missionsListCmd())
	m.AddCommand(missionsFeeCmd())
	m.AddCommand(missionsCreateCmd())
	return m
}

func missionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List missions from the contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res := a.Ledger.FetchMissions(ctx)
				if res.Error != "" {
					return errors.New(res.Error)
				}
				if viper.GetBool("json") {
					return printJSON(res.Missions)
				}
				printMissions(os.Stdout, res.Missions)
				return nil
			})
		},
	}
}

func missionsFeeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fee",
		Short: "Show the createMission fee in wei",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fee, err := a.Ledger.MissionFee(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"fee": fee.String()})
				}
				fmt.Printf("Mission fee: %s wei\n", fee)
				return nil
			})
		},
	}
}

func missionsCreateCmd() *cobra.Command {
	var draft domain.MissionDraft
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit createMission and wait for confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if strings.TrimSpace(draft.RewardToken) == "" {
					draft.RewardToken = a.Config.Contracts.FeedsToken
				}
				in, err := draft.Validate()
				if err != nil {
					return err
				}
				tx, err := a.Ledger.CreateMission(ctx, in)
				if viper.GetBool("json") {
					if perr := printJSON(tx); perr != nil {
						return perr
					}
					return err
				}
				if err != nil {
					return err
				}
				fmt.Printf("Mission created in %s\n", tx.Hash)
				printMissions(os.Stdout, a.Ledger.Snapshot().Missions)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&draft.Name, "name", "", "mission name")
	cmd.Flags().StringVar(&draft.Description, "description", "", "mission description")
	cmd.Flags().StringVar(&draft.TargetContract, "target", "", "target contract address")
	cmd.Flags().StringVar(&draft.RewardAmount, "reward", "", "reward amount in the token's smallest unit")
	cmd.Flags().StringVar(&draft.RewardToken, "token", "", "reward token (defaults to the configured feeds token)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("reward")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Activity journal",
		Long:  "The journal records login steps and mission transactions. One-time codes and session tokens are never written.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var filter repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.LatestEvents(ctx, n, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Payload"})
				for _, evt := range items {
					entity := evt.EntityKind
					if evt.EntityID != "" {
						entity += ":" + evt.EntityID
					}
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, entity, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&filter.Type, "type", "", "event type filter (prefix.* allowed)")
	cmd.Flags().StringVar(&filter.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&filter.EntityID, "entity-id", "", "entity id")
	return cmd
}

type gatewayOptions struct {
	addr        string
	basePath    string
	devIdentity bool
}

// gateway is a running HTTP gateway plus its webhook relay.
type gateway struct {
	URL  string
	app  *app.App
	srv  *http.Server
	ln   net.Listener
	hook *server.WebhookDispatcher
}

// startGateway listens on opts.addr and builds the controllers. With the dev
// identity provider mounted, the identity client is pointed at this listener
// unless an identity URL was given explicitly.
func startGateway(ctx context.Context, opts gatewayOptions, logger *log.Logger) (*gateway, error) {
	workspace := viper.GetString("workspace")
	ov := overrides()
	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return nil, err
	}
	baseURL := "http://" + ln.Addr().String()
	if opts.devIdentity && ov.IdentityURL == "" {
		ov.IdentityURL = baseURL + strings.TrimRight(opts.basePath, "/") + "/dev-identity/"
	}
	cfg, err := app.ResolveConfig(workspace, ov)
	if err != nil {
		ln.Close()
		return nil, err
	}
	a, err := app.Build(ctx, workspace, cfg, logger)
	if err != nil {
		ln.Close()
		return nil, err
	}
	if err := a.CheckNetwork(ctx); err != nil {
		logger.Printf("warning: %v", err)
	}
	var dev *server.DevIdentity
	if opts.devIdentity {
		dev = server.NewDevIdentity(cfg.Identity.CodeLength, logger)
	}
	handler, err := server.New(server.Config{
		Auth:               a.Auth,
		Ledger:             a.Ledger,
		Journal:            a.Events,
		DefaultRewardToken: cfg.FeedsToken(),
		DevIdentity:        dev,
		BasePath:           opts.basePath,
		Access:             server.AuthConfig{AccessToken: viper.GetString("access-token"), Logger: logger},
		Logger:             logger,
	})
	if err != nil {
		ln.Close()
		a.Close()
		return nil, err
	}
	g := &gateway{URL: baseURL, app: a, srv: &http.Server{Handler: handler}, ln: ln}
	if a.Events != nil && len(cfg.Webhooks) > 0 {
		g.hook = server.NewWebhookDispatcher(*a.Events, cfg.Webhooks, logger)
		a.Journal.OnRecord(func(int64, string) { g.hook.Notify() })
	}
	return g, nil
}

// Run serves until ctx is cancelled.
func (g *gateway) Run(ctx context.Context) error {
	defer g.app.Close()
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := g.srv.Serve(g.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return g.srv.Shutdown(shutdownCtx)
	})
	if g.hook != nil {
		group.Go(func() error { return g.hook.Run(ctx) })
	}
	return group.Wait()
}

func serveCmd() *cobra.Command {
	var opts gatewayOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.Default()
			g, err := startGateway(cmd.Context(), opts, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Serving Clucko gateway on %s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", g.URL, opts.basePath)
			if opts.devIdentity {
				fmt.Println("Dev identity provider enabled: one-time codes are printed to this log.")
			}
			return g.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&opts.basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&opts.devIdentity, "dev-identity", false, "mount an in-memory identity provider that logs codes")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := app.ResolveConfig(workspace, overrides())
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, workspace, cfg, log.Default())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	r := repo.Repo{DB: conn}
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, r)
}

func printMissions(out io.Writer, missions []domain.Mission) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"ID", "Name", "Target", "Reward", "Token", "Active"})
	for _, m := range missions {
		reward := "0"
		if m.RewardAmount != nil {
			reward = m.RewardAmount.String()
		}
		tw.AppendRow(table.Row{m.ID, m.Name, m.TargetContract.Hex(), reward, m.RewardToken.Hex(), m.IsActive})
	}
	tw.Render()
}

func printJSONOrYAML(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
