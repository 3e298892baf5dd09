// Command userctl administers user accounts directly against the configured store.
//
//	userctl create -email a@example.com [-password pw | -generate-password] [-format plain|json]
//	userctl set-password -email a@example.com [-password pw | -generate-password]
//	userctl delete -email a@example.com
//	userctl list [-limit 10] [-format plain|json]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/userhub/userhub/internal/auth"
	"github.com/userhub/userhub/internal/config"
	"github.com/userhub/userhub/internal/email"
	"github.com/userhub/userhub/internal/idgen"
	"github.com/userhub/userhub/internal/metrics"
	"github.com/userhub/userhub/internal/model"
	"github.com/userhub/userhub/internal/repository"
	"github.com/userhub/userhub/internal/service"
)

type output struct {
	Email             string `json:"email"`
	UserID            string `json:"user_id"`
	GeneratedPassword string `json:"generated_password,omitempty"`
}

// cli holds what every subcommand needs.
type cli struct {
	users  *service.UserService
	hasher *auth.Hasher
	stdout io.Writer
	stderr io.Writer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open storage:", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.SyncSchema(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "sync schema:", err)
		os.Exit(1)
	}

	ids, err := idgen.New(cfg.UserIDScheme)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	hasher := auth.NewHasher(auth.Params{
		Time:    cfg.Argon2Time,
		Memory:  cfg.Argon2MemoryKiB,
		Threads: cfg.Argon2Threads,
	})
	validator := email.New(
		email.WithDeliverability(cfg.EmailCheckDeliverability),
		email.WithTimeout(cfg.EmailDNSTimeout),
	)

	c := &cli{
		users:  service.NewUserService(store, validator, hasher, ids, metrics.NewNoop()),
		hasher: hasher,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	code := c.run(ctx, os.Args[1:])
	cancel()
	_ = store.Close()
	os.Exit(code)
}

// run executes one subcommand and returns the process exit code.
func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		c.usage()
		return 2
	}

	var err error
	switch args[0] {
	case "create":
		err = c.create(ctx, args[1:])
	case "set-password":
		err = c.setPassword(ctx, args[1:])
	case "delete":
		err = c.delete(ctx, args[1:])
	case "list":
		err = c.list(ctx, args[1:])
	case "-h", "-help", "--help", "help":
		c.usage()
		return 0
	default:
		fmt.Fprintf(c.stderr, "unknown command %q\n", args[0])
		c.usage()
		return 2
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(c.stderr, err.Error())
		return 1
	}
	return 0
}

func (c *cli) usage() {
	fmt.Fprintln(c.stderr, "usage: userctl <create|set-password|delete|list> [flags]")
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) create(ctx context.Context, args []string) error {
	fs := c.flagSet("create")
	address := fs.String("email", "", "Email address of the new user")
	password := fs.String("password", "", "Password (omit to create the user without one)")
	generate := fs.Bool("generate-password", false, "Generate a random password and print it once")
	length := fs.Int("length", auth.DefaultGeneratedPasswordLen, "Length of a generated password")
	format := fs.String("format", "plain", "Output format: plain or json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *address == "" {
		return errors.New("-email is required")
	}
	if *generate && *password != "" {
		return errors.New("-password and -generate-password are mutually exclusive")
	}

	out := output{}
	if *generate {
		generated, err := auth.GeneratePassword(c.hasher, *length)
		if err != nil {
			return fmt.Errorf("generate password: %w", err)
		}
		*password = generated.Plaintext
		out.GeneratedPassword = generated.Plaintext
	}

	user, err := c.users.CreateUser(ctx, *address, *password)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	out.Email, out.UserID = user.Email, user.UserID.String()

	return c.print(*format, out, func(w io.Writer) {
		fmt.Fprintf(w, "%s\t%s\n", out.Email, out.UserID)
		if out.GeneratedPassword != "" {
			fmt.Fprintf(w, "password: %s\n", out.GeneratedPassword)
		}
	})
}

func (c *cli) setPassword(ctx context.Context, args []string) error {
	fs := c.flagSet("set-password")
	address := fs.String("email", "", "Email address of the user")
	password := fs.String("password", "", "New password")
	generate := fs.Bool("generate-password", false, "Generate a random password and print it once")
	length := fs.Int("length", auth.DefaultGeneratedPasswordLen, "Length of a generated password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *address == "" {
		return errors.New("-email is required")
	}
	if *generate == (*password != "") {
		return errors.New("exactly one of -password or -generate-password is required")
	}

	user, err := c.users.GetUser(ctx, *address)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}

	if *generate {
		generated, err := auth.GeneratePassword(c.hasher, *length)
		if err != nil {
			return fmt.Errorf("generate password: %w", err)
		}
		user.PasswordHash = generated.Hash
		if err := c.users.SaveUser(ctx, user); err != nil {
			return fmt.Errorf("save user: %w", err)
		}
		fmt.Fprintf(c.stdout, "password: %s\n", generated.Plaintext)
		return nil
	}

	if err := c.users.SetPassword(ctx, user, *password, true); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	fmt.Fprintln(c.stdout, "password updated")
	return nil
}

func (c *cli) delete(ctx context.Context, args []string) error {
	fs := c.flagSet("delete")
	address := fs.String("email", "", "Email address of the user to delete")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *address == "" {
		return errors.New("-email is required")
	}

	if err := c.users.DeleteUser(ctx, *address); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	fmt.Fprintf(c.stdout, "deleted %s\n", strings.TrimSpace(*address))
	return nil
}

func (c *cli) list(ctx context.Context, args []string) error {
	fs := c.flagSet("list")
	limit := fs.Int("limit", service.DefaultListLimit, "Maximum number of users to print")
	format := fs.String("format", "plain", "Output format: plain or json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	users, err := c.users.ListUsers(ctx, *limit)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	rows := make([]model.UserResponse, 0, len(users))
	for _, u := range users {
		rows = append(rows, u.ToResponse())
	}

	return c.print(*format, rows, func(w io.Writer) {
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%s\n", row.Email, row.UserID)
		}
	})
}

func (c *cli) print(format string, v any, plain func(io.Writer)) error {
	switch strings.ToLower(format) {
	case "plain":
		plain(c.stdout)
	case "json":
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
	default:
		return errors.New("invalid format; use plain or json")
	}
	return nil
}
