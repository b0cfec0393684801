package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/stemsi/presensi-backend/internal/config"
	"github.com/stemsi/presensi-backend/internal/database"
	"github.com/stemsi/presensi-backend/internal/logger"
	"github.com/stemsi/presensi-backend/internal/model"
	"github.com/stemsi/presensi-backend/internal/repository"
	"github.com/stemsi/presensi-backend/internal/service"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	accountRepo := repository.NewAccountRepository(pool)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create New Account ===")

	// Name
	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Println("Error: Name is required")
		return
	}

	// Login
	fmt.Print("Enter Login: ")
	login, _ := reader.ReadString('\n')
	login = strings.TrimSpace(login)
	if login == "" {
		fmt.Println("Error: Login is required")
		return
	}

	// Role
	fmt.Print("Enter Role (admin/teacher/student, default admin): ")
	roleStr, _ := reader.ReadString('\n')
	roleStr = strings.TrimSpace(roleStr)
	role := model.RoleAdmin
	switch roleStr {
	case "", "admin":
	case "teacher":
		role = model.RoleTeacher
	case "student":
		role = model.RoleStudent
	default:
		fmt.Println("Error: Role must be admin, teacher or student")
		return
	}

	// Group ID (students only)
	var groupID *int
	if role == model.RoleStudent {
		fmt.Print("Enter Group ID: ")
		groupStr, _ := reader.ReadString('\n')
		groupStr = strings.TrimSpace(groupStr)
		g, err := strconv.Atoi(groupStr)
		if err != nil {
			fmt.Println("Error: Group ID must be a number")
			return
		}
		groupID = &g
	}

	// Password
	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading password")
		return
	}
	password := string(bytePassword)
	fmt.Println() // Newline after password input
	if len(password) < 6 {
		fmt.Println("Error: Password must be at least 6 characters")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────

	// Hash Password
	hash, err := service.HashPassword(password, cfg.PBKDF2Iterations)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	account := &model.Account{
		Login:        login,
		Name:         name,
		Role:         role,
		PasswordHash: hash,
		GroupID:      groupID,
		Active:       true,
	}

	if err := accountRepo.Create(ctx, account); err != nil {
		log.Fatal().Err(err).Msg("Failed to create account")
	}

	fmt.Printf("\nSuccess! %s '%s' (%s) created with ID: %d\n", account.Role, account.Name, account.Login, account.ID)
}
