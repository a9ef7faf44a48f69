package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/client"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/session"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "proctor",
		Usage: "take a proctored ExStem exam from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "proctor.toml",
				Usage:   "path to the client config file",
				Sources: cli.EnvVars("PROCTOR_CONFIG"),
			},
			&cli.StringFlag{Name: "server", Usage: "API base URL", Sources: cli.EnvVars("PROCTOR_SERVER")},
			&cli.StringFlag{Name: "token", Usage: "student session token", Sources: cli.EnvVars("PROCTOR_TOKEN")},
			&cli.IntFlag{Name: "autosave-seconds", Usage: "autosave interval", Sources: cli.EnvVars("PROCTOR_AUTOSAVE_SECONDS")},
			&cli.IntFlag{Name: "unlock-poll-seconds", Usage: "unlock status poll interval", Sources: cli.EnvVars("PROCTOR_UNLOCK_POLL_SECONDS")},
			&cli.BoolFlag{Name: "push-status", Usage: "follow unlock decisions over the status stream instead of polling", Sources: cli.EnvVars("PROCTOR_PUSH_STATUS")},
			&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn or error", Sources: cli.EnvVars("PROCTOR_LOG_LEVEL")},
		},
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "sign in with a NISN and store the session token",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "nisn", Usage: "student NISN"}},
				Action: loginAction,
			},
			{
				Name:   "logout",
				Usage:  "end the session and forget the stored token",
				Action: logoutAction,
			},
			{
				Name:   "lobby",
				Usage:  "list the exams open to you",
				Action: lobbyAction,
			},
			{
				Name:      "take",
				Usage:     "start or resume an exam",
				ArgsUsage: "<exam-id>",
				Action:    takeAction,
			},
		},
	}
}

// env bundles what every subcommand needs.
type env struct {
	cfgPath string
	cfg     fileConfig
	log     zerolog.Logger
	api     *client.Client
}

func setup(cmd *cli.Command) (*env, error) {
	path := cmd.String("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg = applyFlags(cfg, cmd)

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	log := logger.New(os.Stderr, "pretty").Level(lvl)

	return &env{
		cfgPath: path,
		cfg:     cfg,
		log:     log,
		api:     client.New(cfg.ServerURL, cfg.Token, nil, log),
	}, nil
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	nisn := cmd.String("nisn")
	if nisn == "" {
		fmt.Print("NISN: ")
		line, _ := reader.ReadString('\n')
		nisn = strings.TrimSpace(line)
	}
	if nisn == "" {
		return errors.New("NISN is required")
	}

	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	student, err := e.api.Login(ctx, nisn, string(pw))
	if err != nil {
		return err
	}

	e.cfg.Token = e.api.Token()
	if err := saveConfig(e.cfgPath, e.cfg); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	fmt.Printf("Signed in as %s. Token saved to %s\n", student.Name, e.cfgPath)
	return nil
}

func logoutAction(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	if e.cfg.Token == "" {
		fmt.Println("Not signed in.")
		return nil
	}
	if err := e.api.Logout(ctx); err != nil && !client.IsUnauthorized(err) {
		return err
	}
	e.cfg.Token = ""
	if err := saveConfig(e.cfgPath, e.cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Println("Signed out.")
	return nil
}

func lobbyAction(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	exams, err := e.api.Lobby(ctx)
	if err != nil {
		return loginHint(err)
	}
	if len(exams) == 0 {
		fmt.Println("No exams are open right now.")
		return nil
	}
	for _, ex := range exams {
		fmt.Printf("%s  %-40s %3d min", ex.ID, ex.Title, ex.DurationMinutes)
		if ex.ScheduledEnd != nil {
			fmt.Printf("  closes %s", ex.ScheduledEnd.Local().Format(time.DateTime))
		}
		fmt.Println()
	}
	return nil
}

func takeAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("usage: proctor take <exam-id>")
	}
	examID, err := uuid.Parse(cmd.Args().First())
	if err != nil {
		return fmt.Errorf("invalid exam id: %w", err)
	}

	e, err := setup(cmd)
	if err != nil {
		return err
	}

	tenv := newTerminalEnv(os.Stdout)
	opts := session.Options{
		AutosaveInterval:   e.cfg.autosaveInterval(),
		UnlockPollInterval: e.cfg.unlockPollInterval(),
	}
	if e.cfg.PushStatus {
		opts.Observer = e.api.StreamObserver()
	}

	var ui *terminal
	opts.OnEvent = func(ev session.Event) {
		if ui != nil {
			ui.onEvent(ev)
		}
	}
	ctrl := session.New(e.api, tenv, e.log, opts)
	ui = newTerminal(ctrl, tenv, os.Stdin, os.Stdout)

	if _, err := ctrl.Start(ctx, examID); err != nil {
		return loginHint(err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ctrl.Close(closeCtx); err != nil {
			e.log.Warn().Err(err).Msg("Final autosave failed")
		}
	}()

	return ui.loop(ctx)
}

func loginHint(err error) error {
	if client.IsUnauthorized(err) {
		return fmt.Errorf("%w (run \"proctor login\" first)", err)
	}
	return err
}
