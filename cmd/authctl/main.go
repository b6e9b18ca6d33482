// Command authctl is a terminal client for the auth API.
//
// Usage:
//
//	authctl [-url URL] <command> [flags]
//
// The API base URL defaults to $AUTHCTL_URL. Tokens are kept in
// $AUTHCTL_TOKEN_FILE (default ~/.authctl/tokens.json).
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/utafrali/authservice/internal/session"
	pkgconfig "github.com/utafrali/authservice/pkg/config"
	"github.com/utafrali/authservice/pkg/logger"
	"github.com/utafrali/authservice/pkg/pagination"
)

const usage = `usage: authctl [-url URL] <command> [flags]

commands:
  register        -name NAME -email EMAIL
  login           -email EMAIL
  logout
  profile
  refresh
  forgot-password -email EMAIL
  reset-password  -token TOKEN
  users           [-page N] [-per-page N]
  assign-role     -user ID -role user|admin
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

// cli carries the streams and session of one invocation.
type cli struct {
	sess   *session.Session
	in     *bufio.Reader
	inFile *os.File
	out    io.Writer
}

// cliConfig is read from AUTHCTL_* environment variables.
type cliConfig struct {
	URL       string `env:"URL" envDefault:"http://localhost:5000/api/auth"`
	TokenFile string `env:"TOKEN_FILE"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"error"`
}

func loadConfig() (cliConfig, error) {
	var cfg cliConfig
	if err := pkgconfig.LoadPrefixed(&cfg, "AUTHCTL"); err != nil {
		return cliConfig{}, err
	}
	if cfg.TokenFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cliConfig{}, fmt.Errorf("locate home directory: %w", err)
		}
		cfg.TokenFile = filepath.Join(home, ".authctl", "tokens.json")
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	global := flag.NewFlagSet("authctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	baseURL := global.String("url", cfg.URL, "auth API base URL")
	verbose := global.Bool("v", false, "verbose logging")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	sess := session.New(*baseURL, session.NewFileStore(cfg.TokenFile),
		session.WithLogger(logger.NewWithWriter("authctl", level, stderr)),
	)
	if err := sess.Init(ctx); err != nil {
		return err
	}

	c := &cli{sess: sess, in: bufio.NewReader(stdin), out: stdout}
	if f, ok := stdin.(*os.File); ok {
		c.inFile = f
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "register":
		return c.register(ctx, rest)
	case "login":
		return c.login(ctx, rest)
	case "logout":
		return c.logout(ctx)
	case "profile":
		return c.profile(ctx)
	case "refresh":
		return c.refresh(ctx)
	case "forgot-password":
		return c.forgotPassword(ctx, rest)
	case "reset-password":
		return c.resetPassword(ctx, rest)
	case "users":
		return c.users(ctx, rest)
	case "assign-role":
		return c.assignRole(ctx, rest)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password, err := c.readPassword("Password: ")
	if err != nil {
		return err
	}

	fb, err := c.sess.Register(ctx, *name, *email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Registered and signed in as %s\n", c.sess.User().Email)
	if fb != nil {
		fmt.Fprintf(c.out, "Password strength: %s (%d/100)\n", fb.Strength, fb.Score)
		if fb.Feedback != "" {
			fmt.Fprintln(c.out, fb.Feedback)
		}
		for _, s := range fb.Suggestions {
			fmt.Fprintf(c.out, "  - %s\n", s)
		}
	}
	return nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password, err := c.readPassword("Password: ")
	if err != nil {
		return err
	}

	if err := c.sess.Login(ctx, *email, password); err != nil {
		var apiErr *session.APIError
		if errors.As(err, &apiErr) && apiErr.Explanation != nil {
			fmt.Fprintln(c.out, apiErr.Explanation.Explanation)
			if apiErr.Explanation.Solution != "" {
				fmt.Fprintln(c.out, "Try:", apiErr.Explanation.Solution)
			}
		}
		return err
	}
	u := c.sess.User()
	fmt.Fprintf(c.out, "Signed in as %s (%s)\n", u.Email, u.Role)
	return nil
}

func (c *cli) logout(ctx context.Context) error {
	if err := c.sess.Logout(ctx); err != nil {
		fmt.Fprintln(c.out, "Signed out locally")
		return err
	}
	fmt.Fprintln(c.out, "Signed out")
	return nil
}

func (c *cli) profile(ctx context.Context) error {
	p, err := c.sess.Profile(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "ID:       %s\nName:     %s\nEmail:    %s\nRole:     %s\nSessions: %d\n",
		p.User.ID, p.User.Name, p.User.Email, p.User.Role, p.ActiveSessions)
	return nil
}

func (c *cli) refresh(ctx context.Context) error {
	if err := c.sess.RefreshAccessToken(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Access token refreshed")
	return nil
}

func (c *cli) forgotPassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("forgot-password", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	msg, err := c.sess.ForgotPassword(ctx, *email)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, msg)
	return nil
}

func (c *cli) resetPassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)
	token := fs.String("token", "", "reset token from the email link")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password, err := c.readPassword("New password: ")
	if err != nil {
		return err
	}
	msg, err := c.sess.ResetPassword(ctx, *token, password)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, msg)
	return nil
}

func (c *cli) users(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("users", flag.ContinueOnError)
	page := fs.Int("page", 1, "page number")
	perPage := fs.Int("per-page", pagination.DefaultPerPage, "users per page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list, err := c.sess.ListUsers(ctx, pagination.New(*page, *perPage))
	if err != nil {
		return err
	}
	for _, u := range list.Users {
		fmt.Fprintf(c.out, "%s  %-6s  %s  %s\n", u.ID, u.Role, u.Email, u.Name)
	}
	if list.Pagination != nil {
		fmt.Fprintf(c.out, "page %d/%d, %d users total\n",
			list.Pagination.Page, list.Pagination.TotalPages, list.Pagination.Total)
	}
	return nil
}

func (c *cli) assignRole(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("assign-role", flag.ContinueOnError)
	userID := fs.String("user", "", "user ID")
	role := fs.String("role", "", "user or admin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	u, err := c.sess.AssignRole(ctx, *userID, *role)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "User role updated to %s for %s\n", u.Role, u.Email)
	return nil
}

// readPassword prompts without echo on a terminal and reads a plain line
// otherwise, so passwords can be piped in.
func (c *cli) readPassword(prompt string) (string, error) {
	if c.inFile != nil && term.IsTerminal(int(c.inFile.Fd())) {
		fmt.Fprint(c.out, prompt)
		b, err := term.ReadPassword(int(c.inFile.Fd()))
		fmt.Fprintln(c.out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
