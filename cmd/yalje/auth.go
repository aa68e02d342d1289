package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/johnwbyrd/yalje/pkg/auth"
	"github.com/johnwbyrd/yalje/pkg/config"
	"github.com/johnwbyrd/yalje/pkg/livejournal"
	"github.com/johnwbyrd/yalje/pkg/logger"
)

var loginNoVerify bool

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage LiveJournal credentials",
	Long: `Manage stored LiveJournal credentials securely.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (YALJE_USERNAME / YALJE_PASSWORD)

Never share your credentials or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store LiveJournal credentials securely",
	Long: `Store LiveJournal credentials in the system keychain or an encrypted file.

By default the credentials are verified against the server before being
stored, and the session cookies from that login are saved alongside them.`,
	Example: `  # Interactive login
  yalje auth login

  # Login with username
  yalje auth login myusername`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout <username>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(1),
	Run:   runLogout,
}

// statusCmd represents the auth status command
var statusCmd = &cobra.Command{
	Use:   "status <username>",
	Short: "Show stored credential status for an account",
	Long: `Show whether credentials are stored for an account and whether the
saved session, if any, is still accepted by the server.`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(statusCmd)

	loginCmd.Flags().BoolVar(&loginNoVerify, "no-verify", false, "store credentials without a test login")
}

func runLogin(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize credential manager: %v\n", err)
		os.Exit(1)
	}

	var username string
	if len(args) > 0 {
		username = args[0]
	}

	reader := bufio.NewReader(os.Stdin)

	if username == "" {
		fmt.Print("LiveJournal username: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read username: %v\n", err)
			os.Exit(1)
		}
		username = strings.TrimSpace(input)
	}

	if username == "" {
		fmt.Fprintln(os.Stderr, "Username is required")
		os.Exit(1)
	}

	if manager.Exists(username) {
		fmt.Printf("Account '%s' already exists. Update credentials? (y/N): ", username)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	fmt.Print("Password (hidden as you type): ")
	password, err := readPassword()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read password: %v\n", err)
		os.Exit(1)
	}
	if password == "" {
		fmt.Fprintln(os.Stderr, "Password is required")
		os.Exit(1)
	}

	account := &auth.Account{
		Username:     username,
		Password:     password,
		LastModified: time.Now(),
	}

	if !loginNoVerify {
		fmt.Println("Verifying credentials with the server...")
		session, err := testLogin(username, password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Login failed: %v\n", err)
			os.Exit(1)
		}
		account.Cookies = session.Cookies()
		fmt.Println("Login OK, session cookies saved.")
	}

	if err := manager.Store(account); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to store credentials: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Credentials stored for '%s'.\n", username)
	fmt.Println("\nExport your journal with:")
	fmt.Printf("  yalje export %s\n", username)
}

func runLogout(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize credential manager: %v\n", err)
		os.Exit(1)
	}

	username := args[0]
	if !manager.Exists(username) {
		fmt.Fprintf(os.Stderr, "No stored credentials for '%s'\n", username)
		os.Exit(1)
	}
	if err := manager.Delete(username); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to remove account: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Account removed: %s\n", username)
}

func runStatus(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize credential manager: %v\n", err)
		os.Exit(1)
	}

	username := args[0]
	account, err := manager.Retrieve(username)
	if err != nil {
		fmt.Printf("No stored credentials for '%s'.\n", username)
		fmt.Println("Use 'yalje auth login' to add the account.")
		return
	}

	fmt.Printf("Username:      %s\n", account.Username)
	fmt.Printf("Password:      stored (%d characters)\n", len(account.Password))
	fmt.Printf("Last modified: %s\n", account.LastModified.Format("2006-01-02 15:04:05"))

	if len(account.Cookies) == 0 {
		fmt.Println("Saved session: none")
		return
	}
	fmt.Printf("Saved session: %d cookie(s)", len(account.Cookies))

	session := newSession()
	session.RestoreCookies(account.Username, account.Cookies)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := session.Validate(ctx); err != nil {
		fmt.Println(", expired")
		return
	}
	fmt.Println(", still valid")
}

// testLogin performs a real login to confirm the credentials work
func testLogin(username, password string) (*livejournal.SessionManager, error) {
	session := newSession()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := session.Login(ctx, username, password); err != nil {
		return nil, err
	}
	return session, nil
}

func newSession() *livejournal.SessionManager {
	cfg := config.DefaultConfig()
	client := livejournal.NewClient(cfg.LiveJournal.BaseURL, cfg.HTTP.Timeout,
		cfg.LiveJournal.UserAgent, logger.GetLogger())
	return livejournal.NewSessionManager(client, logger.GetLogger())
}

// readPassword reads a password from stdin without echoing
func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return string(password), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
