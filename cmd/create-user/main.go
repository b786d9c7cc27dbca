// Command create-user seeds a user account from an interactive prompt. It
// applies the users schema when missing, so it doubles as the bootstrap step
// on a fresh database: run it once, then sign in through POST /login.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"app_kernel/internal/config"
	"app_kernel/internal/handlers"
	"app_kernel/internal/security"
)

func main() {
	// Warnings only; JSON log lines interleaved with prompts are noise.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	if err := run(logger); err != nil {
		fmt.Fprintln(os.Stderr, "create-user:", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pool, err := config.NewPool(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := handlers.EnsureUserTable(ctx, pool); err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)

	username, err := prompt(scanner, "Username")
	if err != nil {
		return err
	}
	email, err := prompt(scanner, "Email")
	if err != nil {
		return err
	}
	fullName, err := promptOptional(scanner, "Full name (optional)")
	if err != nil {
		return err
	}

	var taken bool
	err = pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 OR username = $2)`,
		email, username,
	).Scan(&taken)
	if err != nil {
		return fmt.Errorf("checking for existing user: %w", err)
	}
	if taken {
		return errors.New("a user with that email or username already exists")
	}

	password, err := promptPassword("Password")
	if err != nil {
		return err
	}
	if err := security.CheckStrength(password); err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm password")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	// Empty full name stores NULL rather than an empty string.
	var fullNameArg any
	if fullName != "" {
		fullNameArg = fullName
	}

	var id int64
	err = pool.QueryRow(ctx, `
		INSERT INTO users (username, email, full_name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		username, email, fullNameArg, hash,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	fmt.Printf("User %q created (id %d)\n", username, id)
	return nil
}

func prompt(scanner *bufio.Scanner, label string) (string, error) {
	value, err := promptOptional(scanner, label)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return value, nil
}

func promptOptional(scanner *bufio.Scanner, label string) (string, error) {
	fmt.Printf("%s: ", label)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return "", errors.New("input closed")
	}
	return strings.TrimSpace(scanner.Text()), nil
}

func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(raw), nil
}
