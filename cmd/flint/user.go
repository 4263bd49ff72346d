package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foxzi/flint/internal/web/auth"
	"github.com/foxzi/flint/internal/web/config"
	"github.com/foxzi/flint/internal/web/db"
	"github.com/foxzi/flint/internal/web/repository"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management commands",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	RunE:  runUserCreate,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	RunE:  runUserList,
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete [email]",
	Short: "Delete a user and everything they own",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserDelete,
}

var userResetPasswordCmd = &cobra.Command{
	Use:   "reset-password [email]",
	Short: "Reset user password",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserResetPassword,
}

var (
	userEmail    string
	userPassword string
	userName     string
	userSSOOnly  bool
	userYes      bool
)

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "User email")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "User password (will prompt if not provided)")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "User name")
	userCreateCmd.Flags().BoolVar(&userSSOOnly, "sso-only", false, "Create the account without a password (OIDC login only)")
	userCreateCmd.MarkFlagRequired("email")

	userDeleteCmd.Flags().BoolVarP(&userYes, "yes", "y", false, "Do not ask for confirmation")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userResetPasswordCmd)
}

func openDatabase() (*config.Config, *db.DB, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, database, nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	cfg, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	password := userPassword
	if password == "" && !userSSOOnly {
		password, err = promptPassword("Enter password: ")
		if err != nil {
			return err
		}
	}

	users := repository.NewUserRepository(database.DB)
	authenticator := auth.NewAuthenticator(
		users,
		repository.NewProfileRepository(database.DB),
		auth.NewTokens(cfg.Auth.SessionSecret, cfg.Auth.TokenTTL),
		cfg.Auth.SessionTTL,
		auth.Plan{
			Credits:       cfg.Billing.DefaultCredits,
			CampaignLimit: cfg.Billing.CampaignLimit,
			LeadLimit:     cfg.Billing.LeadLimit,
		},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	user, err := authenticator.CreateUser(userEmail, userName, password)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("user with email %s already exists", userEmail)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("User %s created successfully (%s)\n", user.Email, user.ID)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	_, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	users, err := repository.NewUserRepository(database.DB).List()
	if err != nil {
		return err
	}

	fmt.Printf("%-36s  %-30s  %-20s  %-8s  %s\n", "ID", "Email", "Name", "Login", "Created")
	fmt.Println(strings.Repeat("-", 110))
	for _, u := range users {
		login := "password"
		if !u.HasPassword() {
			login = "sso"
		}
		fmt.Printf("%-36s  %-30s  %-20s  %-8s  %s\n", u.ID, u.Email, u.Name, login, u.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	email := args[0]

	_, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	if !userYes {
		fmt.Printf("Are you sure you want to delete user %s and all their campaigns? [y/N]: ", email)
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cancelled")
			return nil
		}
	}

	if err := repository.NewUserRepository(database.DB).DeleteByEmail(strings.ToLower(email)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("user %s not found", email)
		}
		return err
	}

	fmt.Printf("User %s deleted\n", email)
	return nil
}

func runUserResetPassword(cmd *cobra.Command, args []string) error {
	email := strings.ToLower(args[0])

	_, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	users := repository.NewUserRepository(database.DB)
	user, err := users.GetByEmail(email)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %s not found", email)
	}

	password, err := promptPassword("Enter new password: ")
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := users.SetPassword(email, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	fmt.Printf("Password for %s updated successfully\n", email)
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	first, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	if len(first) < auth.MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
	}
	return string(first), nil
}
