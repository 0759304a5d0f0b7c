package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tala-companion/internal/analytics"
	"tala-companion/internal/api"
	"tala-companion/internal/app"
	"tala-companion/internal/auth"
	"tala-companion/internal/chat"
	"tala-companion/internal/chatlog"
	"tala-companion/internal/config"
	"tala-companion/internal/mood"
	"tala-companion/internal/services"
)

var (
	configPath string
	email      string
	password   string
	moodFlag   string
	remote     bool
	timeframe  string
	noStream   bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "tala",
	Short:         "Tala companion: a Telegram shell for the Tala wellness assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if err := cfg.Validate(cmd.Name() == botCmd.Name()); err != nil {
			return err
		}
		logger, err = cfg.Log.NewLogger()
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram bot until interrupted",
	RunE:  runBot,
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Print the mood dashboard of an account as JSON",
	RunE:  runDashboard,
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one message to Tala and stream the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the Tala backend is online",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	for _, cmd := range []*cobra.Command{dashboardCmd, chatCmd} {
		cmd.Flags().StringVar(&email, "email", os.Getenv("TALA_EMAIL"), "account email")
		cmd.Flags().StringVar(&password, "password", os.Getenv("TALA_PASSWORD"), "account password")
	}
	chatCmd.Flags().StringVarP(&moodFlag, "mood", "m", "", "mood to attach to the message")
	chatCmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole reply instead of streaming it")
	dashboardCmd.Flags().BoolVar(&remote, "remote", false, "print the server-side dashboard, merged with the chat history, and the mood calendar instead")
	dashboardCmd.Flags().StringVar(&timeframe, "timeframe", "", "timeframe of the server-side dashboard")
	rootCmd.AddCommand(botCmd, dashboardCmd, chatCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func runBot(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return application.Run(ctx)
}

func newClient() *api.Client {
	return api.New(api.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Logger:  logger,
	}, auth.NewSession(auth.NewMemoryStore()))
}

// login signs in with the account flags and returns the client.
func login(ctx context.Context) (*api.Client, error) {
	if email == "" || password == "" {
		return nil, errors.New("--email and --password are required")
	}
	client := newClient()
	if _, err := client.Login(ctx, email, password); err != nil {
		return nil, fmt.Errorf("login: %s", api.Message(err, "login failed"))
	}
	return client, nil
}

func newAnalytics() (*services.AnalyticsService, services.Options) {
	opts := app.ServiceOptions(cfg, logger)
	return services.NewAnalyticsService(chatlog.NewNormalizer(opts.MatchWindow, opts.Location), opts.DedupeWindow, logger), opts
}

func runDashboard(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	client, err := login(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if remote {
		return printRemoteDashboard(ctx, client, enc)
	}
	as, _ := newAnalytics()
	d, err := as.Dashboard(ctx, email, client)
	if err != nil {
		return err
	}
	return enc.Encode(d)
}

func printRemoteDashboard(ctx context.Context, client *api.Client, enc *json.Encoder) error {
	as, _ := newAnalytics()
	d, err := as.RemoteDashboard(ctx, email, client, timeframe)
	if err != nil {
		return err
	}
	r := api.DefaultRange(time.Now().In(cfg.Location()))
	calendar, err := client.MoodCalendar(ctx, &r)
	if err != nil {
		return err
	}
	return enc.Encode(struct {
		Dashboard *api.DashboardData      `json:"dashboard"`
		Calendar  []analytics.CalendarDay `json:"calendar"`
	}{d, calendar})
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	var m mood.Type
	if moodFlag != "" {
		var err error
		if m, err = mood.Parse(moodFlag); err != nil {
			return err
		}
	}
	client, err := login(ctx)
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	if noStream {
		reply, err := client.SendMessage(ctx, text, m)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	}

	as, opts := newAnalytics()
	cs := services.NewChatService(as, opts.Chat, logger)
	defer cs.CloseAll()

	out := cmd.OutOrStdout()
	p := &printer{w: out}
	reply, err := cs.Send(ctx, 0, client, text, m, p.update)
	if err != nil && len(reply.State.Messages) == 0 {
		return err
	}
	p.finish(reply.State)
	if reply.Summary != nil {
		fmt.Fprintf(out, "\n📝 %s\n", reply.Summary.Summary)
	}
	return err
}

// printer writes the streamed reply to a terminal as it grows.
type printer struct {
	w       io.Writer
	printed string
}

func (p *printer) update(st chat.State) {
	ph, ok := st.Placeholder()
	if !ok || !strings.HasPrefix(ph.Text, p.printed) {
		return
	}
	fmt.Fprint(p.w, ph.Text[len(p.printed):])
	p.printed = ph.Text
}

// finish prints the final reply again when it differs from what streamed.
func (p *printer) finish(st chat.State) {
	final := ""
	if n := len(st.Messages); n > 0 && st.Messages[n-1].From == chatlog.Tala {
		final = st.Messages[n-1].Text
	}
	if final != "" && final != p.printed {
		if p.printed != "" {
			fmt.Fprintln(p.w)
		}
		fmt.Fprint(p.w, final)
	}
	fmt.Fprintln(p.w)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	status := services.NewStatusService(newClient(), logger)
	r := status.Check(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", r.Status.Status, r.Message)
	if !r.Online() {
		return errors.New("tala is offline")
	}
	return nil
}
