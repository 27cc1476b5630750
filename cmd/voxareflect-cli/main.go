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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"voxareflect/internal/backend"
	"voxareflect/internal/bootstrap"
	"voxareflect/internal/domain"
	"voxareflect/internal/usecase"
)

type rootOptions struct {
	configPath   string
	username     string
	language     string
	conversation int
	verbose      bool

	out    io.Writer
	errOut io.Writer
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func newRootCommand(out io.Writer, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:          "voxareflect-cli",
		Short:        "Headless client for the reflective-writing coach",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default ~/.config/voxareflect/config.yaml)")
	root.PersistentFlags().StringVarP(&opts.username, "user", "u", "", "username (overrides config)")
	root.PersistentFlags().StringVar(&opts.language, "language", "", "session language: en or de")
	root.PersistentFlags().IntVarP(&opts.conversation, "conversation", "c", 0, "conversation id to resume")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(conversationsCmd(opts))
	root.AddCommand(sendCmd(opts))
	root.AddCommand(speakCmd(opts))
	root.AddCommand(dictateCmd(opts))
	root.AddCommand(feedbackCmd(opts))
	root.AddCommand(turnPresetCmd(opts))
	root.AddCommand(voicesCmd(opts))
	root.AddCommand(schemaCmd(opts))
	return root
}

// session is a logged-in coach for the duration of one command.
type session struct {
	coach    *usecase.Coach
	services bootstrap.Services
	sink     *logSink
	list     []domain.Conversation
}

func (o *rootOptions) open(cmd *cobra.Command) (*session, error) {
	if o.configPath != "" {
		_ = os.Setenv("VOXAREFLECT_CONFIG", o.configPath)
	}
	if o.verbose {
		_ = os.Setenv("VOXAREFLECT_LOG_LEVEL", "debug")
	}

	sink := newLogSink(o.errOut)
	services, err := bootstrap.Build(bootstrap.Options{Events: sink, LogOutput: o.errOut})
	if err != nil {
		return nil, err
	}
	sink.setLogger(services.Logger)

	cfg := services.Session()
	if o.username != "" {
		cfg.Username = o.username
	}
	if o.language != "" {
		cfg.Language = o.language
	}

	s := &session{coach: services.Coach, services: services, sink: sink}
	list, err := s.coach.Login(cmd.Context(), cfg)
	if err != nil {
		_ = services.Close()
		return nil, err
	}
	s.list = list

	if cmd.Flags().Changed("conversation") {
		if _, err := s.coach.SelectConversation(o.conversation); err != nil {
			_ = services.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) close() {
	if err := s.services.Close(); err != nil {
		s.services.Logger.Warn().Err(err).Msg("shutdown incomplete")
	}
}

func conversationsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			tw := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTAGE\tTIME\tTITLE")
			for _, conv := range s.list {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", conv.ID, conv.Stage, conv.Time, conv.Title)
			}
			return tw.Flush()
		},
	}
}

func sendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <message>",
		Short: "Send a text message and print the coach's reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			view, err := s.coach.SendMessage(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printReply(opts.out, view)
			return nil
		},
	}
}

func speakCmd(opts *rootOptions) *cobra.Command {
	var duration time.Duration
	var play bool
	var rate float64

	cmd := &cobra.Command{
		Use:   "speak",
		Short: "Record a voice message and send it as a voice job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if play {
				s.coach.SetVoiceOutput(string(domain.VoiceOutputVoice))
				s.coach.SetPlaybackRate(rate)
			} else {
				s.coach.SetVoiceOutput(string(domain.VoiceOutputText))
			}

			if err := record(cmd.Context(), s.coach, domain.TargetChat, duration, opts.errOut); err != nil {
				return err
			}
			result, err := s.coach.StopRecording(cmd.Context(), domain.TargetChat)
			if err != nil {
				return err
			}
			if result.Transcript != "" {
				fmt.Fprintf(opts.out, "you: %s\n", result.Transcript)
			}
			printReply(opts.out, result.View)

			if play {
				return waitForPlayback(cmd.Context(), s.coach)
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "recording length")
	cmd.Flags().BoolVar(&play, "play", false, "play the spoken reply")
	cmd.Flags().Float64Var(&rate, "rate", usecase.DefaultPlaybackRate, "playback rate")
	return cmd
}

func dictateCmd(opts *rootOptions) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "dictate",
		Short: "Dictate into the conversation draft and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			if err := record(cmd.Context(), s.coach, domain.TargetEditor, duration, opts.errOut); err != nil {
				return err
			}
			result, err := s.coach.StopRecording(cmd.Context(), domain.TargetEditor)
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.out, result.Draft)
			return nil
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "recording length")
	return cmd
}

func feedbackCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <text>",
		Short: "Ask for feedback on a written reflection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			s.coach.SetDraft(strings.Join(args, " "))
			view, err := s.coach.RequestFeedback(cmd.Context())
			if err != nil {
				return err
			}
			printReply(opts.out, view)
			return nil
		},
	}
}

func turnPresetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "turn-preset <short|standard|long>",
		Short:     "Change how long the coach's turns are for a conversation",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"short", "standard", "long"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("conversation") {
				return errors.New("--conversation is required")
			}
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			view, err := s.coach.SetTurnPreset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "conversation %d: %s\n", view.Conversation.ID, view.TurnPreset)
			return nil
		},
	}
}

func voicesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices the server allows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			for _, voice := range s.coach.LoadVoices(cmd.Context()) {
				fmt.Fprintln(opts.out, voice)
			}
			return nil
		},
	}
}

func schemaCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print JSON schemas of the backend endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoints, err := backend.Contract()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(opts.out)
			enc.SetIndent("", "  ")
			return enc.Encode(endpoints)
		},
	}
}

// record captures for d or until ctx ends.
func record(ctx context.Context, coach *usecase.Coach, target domain.Target, d time.Duration, errOut io.Writer) error {
	if err := coach.StartRecording(ctx, target); err != nil {
		return err
	}
	fmt.Fprintf(errOut, "recording for %s...\n", d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return nil
}

func waitForPlayback(ctx context.Context, coach *usecase.Coach) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for coach.Status().Playing {
		select {
		case <-ctx.Done():
			coach.StopPlayback()
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func printReply(out io.Writer, view domain.ConversationView) {
	msgs := view.Conversation.Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == domain.SenderSystem {
			fmt.Fprintf(out, "coach: %s\n", msgs[i].Content)
			break
		}
	}
	if view.Conversation.Phase != nil {
		fmt.Fprintf(out, "stage: %s\n", view.Conversation.Stage)
	}
}
