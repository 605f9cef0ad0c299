package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stemsi/exstem-oral/internal/client"
	"github.com/stemsi/exstem-oral/internal/console"
	"github.com/stemsi/exstem-oral/internal/logger"
	"github.com/stemsi/exstem-oral/internal/notify"
	"github.com/stemsi/exstem-oral/internal/recording"
	"github.com/stemsi/exstem-oral/internal/runner"
	"github.com/stemsi/exstem-oral/internal/upload"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "exstem-runner",
		Short:         "Run an oral exam attempt with a local browser console",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	f := root.PersistentFlags()
	f.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	f.String("log-format", "pretty", "log format (pretty, json)")

	run := runCmd()
	root.AddCommand(run)
	root.AddCommand(micCheckCmd())

	// Running an exam is the default action.
	root.RunE = run.RunE
	root.Flags().AddFlagSet(run.Flags())

	return root
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a test, check the microphone and run the exam",
		RunE:  runExam,
	}

	f := cmd.Flags()
	f.String("api-url", "http://localhost:8080/api/v1", "exam API base URL")
	f.String("email", "", "student email")
	f.String("password", "", "student password")
	f.String("token", "", "student bearer token (skips login)")
	f.String("test-id", "", "test to take")
	f.String("purchase-id", "", "paid purchase of the test")
	f.String("listen", "127.0.0.1:7070", "console listen address")
	f.Bool("demo", false, "run the built-in practice test without an API")
	f.String("mic-command", "", "capture command printing raw PCM to stdout (default arecord)")
	f.Int("sample-rate", recording.DefaultFormat.SampleRate, "sample rate of the capture command")
	f.Int("channels", recording.DefaultFormat.Channels, "channel count of the capture command")
	f.Duration("grace", 500*time.Millisecond, "delay after the last recording stops before the exam is submitted")
	f.Duration("api-timeout", 30*time.Second, "timeout of a single API call")
	f.Int("upload-concurrency", 2, "parallel answer uploads")
	f.Int("fetch-concurrency", 4, "parallel question fetches")
	f.StringSlice("allowed-origins", nil, "console origins allowed to open the socket (default same host)")

	return cmd
}

// micCheckCmd records a few seconds and reports the peak level, so the
// capture command can be verified before an exam.
func micCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mic-check",
		Short: "Record a short sample and print its level",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := viperForCmd(cmd)
			log := setupLogging(v)

			mic, err := microphone(v)
			if err != nil {
				return err
			}
			levels := notify.NewBus[recording.Level](log)
			ch, cancel := levels.Subscribe(64)
			defer cancel()

			rec := recording.NewRecorder(mic, levels, log)
			ctx := cmd.Context()
			if err := rec.Start(ctx, uuid.Nil); err != nil {
				return fmt.Errorf("start microphone: %w", err)
			}

			var peak float64
			deadline := time.After(v.GetDuration("duration"))
		loop:
			for {
				select {
				case l := <-ch:
					peak = max(peak, l.Peak)
				case <-deadline:
					break loop
				case <-ctx.Done():
					break loop
				}
			}

			r, err := rec.Stop(context.Background())
			if err != nil {
				return fmt.Errorf("stop microphone: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s, %d bytes, peak %.2f\n", r.Duration.Round(time.Millisecond), len(r.Data), peak)
			if peak == 0 {
				return errors.New("no signal: check the capture command and input device")
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.String("mic-command", "", "capture command printing raw PCM to stdout (default arecord)")
	f.Int("sample-rate", recording.DefaultFormat.SampleRate, "sample rate of the capture command")
	f.Int("channels", recording.DefaultFormat.Channels, "channel count of the capture command")
	f.Duration("duration", 3*time.Second, "sample length")

	return cmd
}

func setupLogging(v *viper.Viper) zerolog.Logger {
	return logger.New(os.Stderr, v.GetString("log-level"), v.GetString("log-format"))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())
	_ = v.BindPFlags(cmd.InheritedFlags())

	v.SetEnvPrefix("EXSTEM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("exstem-runner")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/exstem")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "warning: reading config file: %v\n", err)
		}
	}

	return v
}

func microphone(v *viper.Viper) (recording.Microphone, error) {
	mic := recording.DefaultCommandMicrophone()
	if line := strings.Fields(v.GetString("mic-command")); len(line) > 0 {
		mic.Path, mic.Args = line[0], line[1:]
	}
	mic.Format.SampleRate = v.GetInt("sample-rate")
	mic.Format.Channels = v.GetInt("channels")
	if mic.Format.SampleRate <= 0 || mic.Format.Channels <= 0 {
		return nil, fmt.Errorf("invalid capture format: %d Hz, %d channels", mic.Format.SampleRate, mic.Format.Channels)
	}
	return mic, nil
}

// backend connects to the exam API, or returns the practice backend in demo
// mode. It also returns the test and purchase to run.
func backend(ctx context.Context, v *viper.Viper, log zerolog.Logger) (runner.Backend, uuid.UUID, uuid.UUID, error) {
	if v.GetBool("demo") {
		return client.NewDemo(log), client.DemoTestID, uuid.New(), nil
	}

	testID, err := uuid.Parse(v.GetString("test-id"))
	if err != nil {
		return nil, uuid.Nil, uuid.Nil, fmt.Errorf("--test-id: %w", err)
	}
	purchaseID, err := uuid.Parse(v.GetString("purchase-id"))
	if err != nil {
		return nil, uuid.Nil, uuid.Nil, fmt.Errorf("--purchase-id: %w", err)
	}

	api := client.New(client.Config{
		BaseURL: v.GetString("api-url"),
		Timeout: v.GetDuration("api-timeout"),
	}, log)

	if token := v.GetString("token"); token != "" {
		api.SetToken(token)
		return api, testID, purchaseID, nil
	}

	email, password := v.GetString("email"), v.GetString("password")
	if email == "" || password == "" {
		return nil, uuid.Nil, uuid.Nil, errors.New("either --token or --email and --password are required")
	}
	student, err := api.Login(ctx, email, password)
	if err != nil {
		return nil, uuid.Nil, uuid.Nil, err
	}
	log.Info().Int("student_id", student.ID).Str("name", student.Name).Msg("Logged in")
	return api, testID, purchaseID, nil
}

func runExam(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	log := setupLogging(v)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mic, err := microphone(v)
	if err != nil {
		return err
	}
	api, testID, purchaseID, err := backend(ctx, v, log)
	if err != nil {
		return err
	}

	// ─── Wiring ───────────────────────────────────────────────────────
	notes := notify.NewBus[notify.Notification](log.With().Str("bus", "notifications").Logger())
	snapshots := notify.NewBus[runner.Snapshot](log.With().Str("bus", "snapshots").Logger())
	levels := notify.NewBus[recording.Level](log.With().Str("bus", "levels").Logger())

	library := recording.NewLibrary("/recordings/")
	if v.GetBool("demo") {
		library.RetainAudio()
	}
	recorder := recording.NewRecorder(mic, levels, log)
	uploads := upload.New(api, api, library, notes, log, upload.Options{
		Concurrency: v.GetInt("upload-concurrency"),
		Timeout:     v.GetDuration("api-timeout"),
	})

	session := runner.NewSession(runner.SessionConfig{
		TestID:           testID,
		PurchaseID:       purchaseID,
		FetchConcurrency: v.GetInt("fetch-concurrency"),
		Controller:       runner.Options{Grace: v.GetDuration("grace")},
	}, api, recorder, library, uploads, notes, snapshots, log)

	if err := session.Load(ctx); err != nil {
		return fmt.Errorf("load exam: %w", err)
	}

	// ─── Console ──────────────────────────────────────────────────────
	con := console.New(ctx, session, notes, snapshots, levels, v.GetStringSlice("allowed-origins"), log)
	srv := &http.Server{
		Addr:              v.GetString("listen"),
		Handler:           con.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", "http://"+srv.Addr).Msg("Console ready, open it in a browser")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-session.Done():
		runErr = session.Err()
		// Leave the final state visible for a moment.
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down runner...")
	case err := <-serveErr:
		runErr = fmt.Errorf("console: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Console forced to shutdown")
	}
	uploads.Wait()

	if runErr != nil && !errors.Is(runErr, runner.ErrCancelled) {
		return runErr
	}
	log.Info().Msg("Runner exited")
	return nil
}
