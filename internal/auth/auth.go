package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/patmn/loanbook/pkg/models"
)

// AdminStore is the slice of storage the auth service needs.
type AdminStore interface {
	CreateAdmin(admin *models.Admin) error
	FindAdminByEmail(email string) (*models.Admin, error)
}

// Service handles admin registration and login.
type Service struct {
	store     AdminStore
	log       *logrus.Logger
	jwtSecret string
	tokenTTL  time.Duration
}

// NewService initializes a new auth service.
func NewService(store AdminStore, log *logrus.Logger, jwtSecret string) *Service {
	return &Service{
		store:     store,
		log:       log,
		jwtSecret: jwtSecret,
		tokenTTL:  24 * time.Hour,
	}
}

// Register creates a new admin with a hashed password.
func (s *Service) Register(username, email, password string) (*models.Admin, error) {
	if username == "" || email == "" {
		return nil, fmt.Errorf("username and email are required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	admin := &models.Admin{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateAdmin(admin); err != nil {
		return nil, err
	}

	s.log.WithField("email", admin.Email).Info("Admin registered")
	return admin, nil
}

// Login authenticates an admin and returns a signed JWT.
func (s *Service) Login(email, password string) (string, error) {
	admin, err := s.store.FindAdminByEmail(email)
	if err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   admin.ID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.WithField("email", admin.Email).Info("Admin logged in")
	return tokenString, nil
}
