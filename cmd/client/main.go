package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const usage = `usage: client [flags] <command>

commands:
  status     show the restored session (default)
  login      sign in with --email (and --password, or a prompt)
  register   create an account with --email and optional --name
  logout     sign out and forget the stored session
  profile    fetch the signed-in user's profile from the API
  refresh    force an access token refresh
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		var ae *sessions.AuthError
		if errors.As(err, &ae) {
			fmt.Fprintln(os.Stderr, ae.UserMessage())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	flags := pflag.NewFlagSet("client", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage, "\nflags:\n", flags.FlagUsages())
	}
	email := flags.StringP("email", "e", "", "account email")
	password := flags.StringP("password", "p", "", "account password")
	name := flags.StringP("name", "n", "", "display name used by register")
	quiet := flags.BoolP("quiet", "q", false, "do not print the banner")
	showMetrics := flags.Bool("metrics", false, "print refresh metrics before exiting")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	c := config.New()
	logging.Setup(c.GetEnv(), c.GetLogLevel())
	if !*quiet {
		displayAppname(c.GetAppName())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.close()
	if *showMetrics {
		defer a.printMetrics(os.Stdout)
	}

	a.store.RestoreSession(ctx)

	command := flags.Arg(0)
	if command == "" {
		command = "status"
	}

	switch command {
	case "status":
		return a.status(os.Stdout)
	case "login", "register":
		if *email == "" {
			return fmt.Errorf("%s needs --email", command)
		}
		pw, err := passwordOrPrompt(*password)
		if err != nil {
			return err
		}
		if command == "login" {
			return a.login(ctx, os.Stdout, *email, pw)
		}
		return a.register(ctx, os.Stdout, *email, pw, *name)
	case "logout":
		a.store.Logout(ctx)
		fmt.Println("Signed out.")
		return nil
	case "profile":
		return a.profile(ctx, os.Stdout)
	case "refresh":
		return a.refresh(ctx, os.Stdout)
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// passwordOrPrompt returns the flag value, or reads the password from the terminal
// without echo.
func passwordOrPrompt(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no --password given and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
