package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/victorgomez09/escuela/internal/auth/database"
	"github.com/victorgomez09/escuela/internal/auth/lockout"
	"github.com/victorgomez09/escuela/internal/auth/models"
	"github.com/victorgomez09/escuela/internal/auth/password"
	"github.com/victorgomez09/escuela/internal/auth/service"
	"github.com/victorgomez09/escuela/internal/auth/token"
	"github.com/victorgomez09/escuela/internal/config"
)

func main() {
	var (
		name       = flag.String("name", "", "Display name for the new account")
		email      = flag.String("email", "", "Email for the new account")
		pass       = flag.String("password", "", "Password for the new account (prompted when empty)")
		role       = flag.String("role", string(models.RoleAdmin), "Role for the new account (user, teacher or admin)")
		listUsers  = flag.Bool("list", false, "List all accounts")
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		envFile    = flag.String("env", ".env", "Optional dotenv file")
	)
	flag.Parse()

	logger := zap.NewNop()
	config.LoadDotEnv(*envFile, logger)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(logger); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	if !cfg.Database.SkipMigrate {
		if err := database.Migrate(ctx, db, logger); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}
	store := database.NewStore(db)

	if *listUsers {
		if err := listAllUsers(ctx, store); err != nil {
			log.Fatalf("Failed to list accounts: %v", err)
		}
		return
	}

	if *name == "" || *email == "" {
		flag.Usage()
		os.Exit(1)
	}

	accountRole, err := models.ParseRole(*role)
	if err != nil {
		log.Fatalf("Invalid role. Must be 'user', 'teacher' or 'admin'")
	}

	secret := *pass
	if secret == "" {
		if secret, err = promptPassword(); err != nil {
			log.Fatalf("Failed to read password: %v", err)
		}
	}

	hasher, err := password.NewHasher(password.HasherConfig{Cost: cfg.Auth.BcryptCost})
	if err != nil {
		log.Fatalf("Failed to initialize hasher: %v", err)
	}
	tokens, err := token.NewManager(token.Config{Secret: []byte(cfg.Auth.JWTSecret), Issuer: cfg.Auth.Issuer})
	if err != nil {
		log.Fatalf("Failed to initialize token manager: %v", err)
	}
	authService := service.NewAuthService(store, hasher, tokens,
		lockout.NewPolicy(cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration),
		service.AuthConfig{PasswordPolicy: cfg.Auth.PasswordPolicy}, logger)
	defer authService.Close()

	account, err := authService.CreateAccount(ctx, *name, *email, secret, accountRole)
	if err != nil {
		log.Fatalf("Failed to create account: %v", err)
	}

	fmt.Printf("Successfully created account '%s' (id %d) with role '%s'\n", account.Email, account.ID, account.Role)
}

func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal, pass -password")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func listAllUsers(ctx context.Context, store *database.Store) error {
	accounts, err := store.ListAccounts(ctx, database.ListFilter{})
	if err != nil {
		return err
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts found in database")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tACTIVE\tCREATED AT")
	for _, a := range accounts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\n",
			a.ID,
			a.Email,
			a.Name,
			a.Role,
			a.Active,
			a.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}
