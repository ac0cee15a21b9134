package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/logx"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Answer leads on the configured WhatsApp transport and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Transport == config.TransportConsole {
		return errors.New("the console transport is interactive; use the chat command")
	}

	lock, err := lockfile.AcquireLock(cfg.StateDir, "serve")
	if err != nil {
		return err
	}
	defer lock.Release()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ag, err := newAgent(cfg, st)
	if err != nil {
		return err
	}

	tr, err := newTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer tr.close()
	if err := tr.svc.Start(ctx); err != nil {
		return fmt.Errorf("start %s transport: %w", cfg.Transport, err)
	}

	opts := []api.Option{api.WithAddr(cfg.APIAddr), api.WithMessagingService(tr.svc)}
	if tr.twilio != nil {
		opts = append(opts, api.WithTwilioWebhook(tr.twilio, cfg.Twilio.WebhookPath))
	}
	server := api.NewServer(st, ag, opts...)

	logx.Info().Str("transport", string(cfg.Transport)).Int("max_concurrent_handlers", cfg.MaxConcurrentHandlers).Msg("LeadPipe serving")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		err := messaging.NewResponseLoop(tr.svc, ag, cfg.MaxConcurrentHandlers).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		return tr.svc.Stop()
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logx.Info().Msg("LeadPipe exited successfully")
	return nil
}

func newChatCmd(a *app) *cobra.Command {
	var phone string
	var persist bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg
			cfg.Transport = config.TransportConsole
			if err := cfg.Validate(); err != nil {
				return err
			}

			var st store.Store = store.NewInMemoryStore()
			if persist {
				lock, err := lockfile.AcquireLock(cfg.StateDir, "chat")
				if err != nil {
					return err
				}
				defer lock.Release()
				opened, closeStore, err := openStore(ctx, cfg)
				if err != nil {
					return err
				}
				defer closeStore()
				st = opened
			}

			ag, err := newAgent(cfg, st)
			if err != nil {
				return err
			}
			return runChat(ctx, ag, cmd.InOrStdin(), cmd.OutOrStdout(), phone)
		},
	}
	cmd.Flags().StringVar(&phone, "phone", messaging.DefaultConsolePhone, "phone number the console lead writes from")
	cmd.Flags().BoolVar(&persist, "persist", false, "use the configured store instead of memory")
	return cmd
}

func runChat(ctx context.Context, h messaging.Handler, in io.Reader, out io.Writer, phone string) error {
	svc := messaging.NewConsoleService(in, out, phone)
	fmt.Fprintln(out, "Escribe como si fueras el lead. Ctrl-D para salir.")
	if err := svc.Start(ctx); err != nil {
		return err
	}
	err := messaging.NewResponseLoop(svc, h, 1).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var brief bool
	cmd := &cobra.Command{
		Use:   "analyze <transcript.yaml|->",
		Short: "Print the belief state and next action for a YAML transcript",
		Long: "Reads a transcript as a YAML list of {role, content, timestamp} messages, or a\n" +
			"mapping with a messages key, and prints what the agent believes and would do next.\n" +
			"No model is called.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			history, err := parseTranscript(data)
			if err != nil {
				return err
			}
			return writeAnalysis(cmd.OutOrStdout(), analyzeTranscript(history), brief)
		},
	}
	cmd.Flags().BoolVar(&brief, "brief", false, "print a one-line summary instead of JSON")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

type transcript struct {
	Messages []models.Message `yaml:"messages"`
}

func parseTranscript(data []byte) ([]models.Message, error) {
	var history []models.Message
	if err := yaml.Unmarshal(data, &history); err != nil {
		var t transcript
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse transcript: %w", err)
		}
		history = t.Messages
	}
	if len(history) == 0 {
		return nil, errors.New("transcript has no messages")
	}
	for i, m := range history {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i+1, m.Role)
		}
	}
	return history, nil
}

// analyzeTranscript evaluates history as of its last timestamp so results are
// reproducible; untimed transcripts use the current time.
func analyzeTranscript(history []models.Message) api.Analysis {
	now := time.Now()
	if last := history[len(history)-1].Timestamp; !last.IsZero() {
		now = last
	}
	return api.Analyze(history, now)
}

func writeAnalysis(w io.Writer, an api.Analysis, brief bool) error {
	if brief {
		_, err := fmt.Fprintf(w, "action=%s rule=%s phase=%s platform=%s pain=%s score=%d temperature=%s\n",
			an.Recommendation.Action, an.Recommendation.Rule, an.State.Phase, an.State.Platform,
			an.State.PainLevel, an.LeadScore, an.Temperature)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(an)
}
