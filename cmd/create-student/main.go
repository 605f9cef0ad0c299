package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-oral/internal/config"
	"github.com/stemsi/exstem-oral/internal/database"
	"github.com/stemsi/exstem-oral/internal/logger"
	"github.com/stemsi/exstem-oral/internal/model"
	"github.com/stemsi/exstem-oral/internal/repository"
	"github.com/stemsi/exstem-oral/internal/service"
	"golang.org/x/term"
)

func main() {
	var grantTest string
	flag.StringVar(&grantTest, "grant", "", "Test ID to grant the new student as a paid purchase")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	var testID uuid.UUID
	if grantTest != "" {
		id, err := uuid.Parse(grantTest)
		if err != nil {
			fmt.Println("Error: -grant must be a test UUID")
			os.Exit(2)
		}
		testID = id
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)
	purchaseRepo := repository.NewPurchaseRepository(pool)
	authService := service.NewAuthService(cfg, studentRepo)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create New Student ===")

	fmt.Print("Enter Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Println("Error: Name is required")
		return
	}

	fmt.Print("Enter Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		fmt.Println("Error: A valid email is required")
		return
	}

	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		return
	}
	password := string(bytePassword)
	if len(password) < 6 {
		fmt.Println("Error: Password must be at least 6 characters")
		return
	}

	hash, err := authService.HashPassword(password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	student := &model.Student{Email: email, Name: name, PasswordHash: hash}
	if err := studentRepo.Create(ctx, student); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			fmt.Printf("Error: %s is already registered\n", email)
			return
		}
		log.Fatal().Err(err).Msg("Failed to create student")
	}
	fmt.Printf("Student created (id=%d)\n", student.ID)

	if testID != uuid.Nil {
		p, err := purchaseRepo.Create(ctx, student.ID, testID, model.PurchaseStatusPaid)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to grant purchase")
		}
		fmt.Printf("Purchase granted (id=%s)\n", p.ID)
	}
}
