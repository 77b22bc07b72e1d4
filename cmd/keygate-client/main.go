// ABOUTME: Entry point for the keygate client CLI
// ABOUTME: Manages the device key, identity binding, and per-channel tokens

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/keygate/internal/token"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: keygate-client <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  enroll [--user ID] [--label TEXT]  Register this device with the server")
		fmt.Println("  login --user ID                    Bind this device to a user")
		fmt.Println("  logout                             Clear the identity binding and cached tokens")
		fmt.Println("  token --aud CHANNEL                Print a token for http, ws, or sse")
		fmt.Println("  whoami                             Ask the server who this device is")
		fmt.Println("  passkeys                           List registered credentials")
		fmt.Println("  listen                             Stream server events over sse")
		fmt.Println("  ws                                 Open an interactive echo session")
		fmt.Println("  version                            Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "enroll":
		err = runEnroll(ctx)
	case "login":
		err = runLogin(ctx)
	case "logout":
		err = runLogout()
	case "token":
		err = runToken(ctx)
	case "whoami":
		err = runWhoami(ctx)
	case "passkeys":
		err = runPasskeys(ctx)
	case "listen":
		err = runListen(ctx)
	case "ws":
		err = runWS(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flagValue pulls a "--name value" or "--name=value" flag out of args.
func flagValue(args []string, long, short string) (string, error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == long || arg == short:
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s requires a value", long)
			}
			return args[i+1], nil
		case strings.HasPrefix(arg, long+"="):
			return strings.TrimPrefix(arg, long+"="), nil
		}
	}
	return "", nil
}

func runEnroll(ctx context.Context) error {
	userID, err := flagValue(os.Args[2:], "--user", "-u")
	if err != nil {
		return err
	}
	label, err := flagValue(os.Args[2:], "--label", "-l")
	if err != nil {
		return err
	}

	c, err := newClient(ctx)
	if err != nil {
		return err
	}

	enrolled, err := c.Enroll(ctx, userID, label)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Println("✓ Enrolled")
	fmt.Printf("  user_id:   %s\n", enrolled.UserID)
	fmt.Printf("  device_id: %s\n", enrolled.DeviceID)
	return nil
}

func runLogin(ctx context.Context) error {
	userID, err := flagValue(os.Args[2:], "--user", "-u")
	if err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("--user flag is required")
	}

	c, err := newClient(ctx)
	if err != nil {
		return err
	}

	ident, err := c.Login(ctx, userID)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Println("✓ Logged in")
	fmt.Printf("  user_id:   %s\n", ident.UserID)
	fmt.Printf("  device_id: %s\n", ident.DeviceID)
	return nil
}

func runLogout() error {
	cfg, err := loadConfig(defaultConfigPath())
	if err != nil {
		return err
	}
	if err := clearSession(cfg.Device.StateDir); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func runToken(ctx context.Context) error {
	audStr, err := flagValue(os.Args[2:], "--aud", "-a")
	if err != nil {
		return err
	}
	if audStr == "" {
		return fmt.Errorf("--aud flag is required (http, ws, or sse)")
	}

	c, err := newAuthenticatedClient(ctx)
	if err != nil {
		return err
	}

	tok, err := c.Token(ctx, token.Audience(audStr))
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func runWhoami(ctx context.Context) error {
	c, err := newAuthenticatedClient(ctx)
	if err != nil {
		return err
	}

	who, err := c.Whoami(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("user_id:   %s\n", who.UserID)
	fmt.Printf("device_id: %s\n", who.DeviceID)
	return nil
}

func runPasskeys(ctx context.Context) error {
	c, err := newAuthenticatedClient(ctx)
	if err != nil {
		return err
	}

	passkeys, err := c.Passkeys(ctx)
	if err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	red := color.New(color.FgRed)
	for _, pk := range passkeys {
		fmt.Printf("%s", pk.ID)
		if pk.Label != "" {
			fmt.Printf("  %s", pk.Label)
		}
		if pk.RevokedAt != "" {
			red.Print("  revoked")
		} else if pk.LastUsedAt != "" {
			gray.Printf("  last used %s", pk.LastUsedAt)
		}
		fmt.Println()
	}
	return nil
}

func runListen(ctx context.Context) error {
	c, err := newAuthenticatedClient(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Listening for events (ctrl-c to stop)...")
	return c.Listen(ctx, func(event, data string) {
		cyan := color.New(color.FgCyan)
		cyan.Printf("%s ", event)
		fmt.Println(data)
	})
}

func runWS(ctx context.Context) error {
	c, err := newAuthenticatedClient(ctx)
	if err != nil {
		return err
	}

	conn, err := c.DialWS(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	fmt.Println("Connected. Type a line to send it (ctrl-c to stop).")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		reply, err := conn.Echo(ctx, scanner.Text())
		if err != nil {
			return err
		}
		gray := color.New(color.FgHiBlack)
		gray.Printf("< %s\n", reply)
	}
	return scanner.Err()
}

// newClient builds an unauthenticated client from config.
func newClient(_ context.Context) (*Client, error) {
	cfg, err := loadConfig(defaultConfigPath())
	if err != nil {
		return nil, err
	}
	return NewClient(cfg), nil
}

// newAuthenticatedClient builds a client and restores the saved session.
func newAuthenticatedClient(ctx context.Context) (*Client, error) {
	c, err := newClient(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := loadSession(c.cfg.Device.StateDir)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("not logged in (run: keygate-client login --user ID)")
	}
	if _, err := c.Login(ctx, sess.UserID); err != nil {
		return nil, err
	}
	return c, nil
}
