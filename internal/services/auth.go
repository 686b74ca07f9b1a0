package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/pawtrait/storefront/internal/config"
	"github.com/pawtrait/storefront/pkg/models"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

type AuthService struct {
	config      *config.Config
	logger      *logrus.Logger
	db          DatabaseQuerier
	redisClient *redis.Client
	jwtSecret   []byte
}

func NewAuthService(cfg *config.Config, logger *logrus.Logger, db DatabaseQuerier, redisClient *redis.Client) *AuthService {
	return &AuthService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		jwtSecret:   []byte(cfg.Auth.JWTSecret),
	}
}

// Authenticate checks credentials against the users table and returns the
// account id on success.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (uuid.UUID, error) {
	var userID uuid.UUID
	var passwordHash string

	query := `SELECT id, password_hash FROM users WHERE email = $1`
	err := s.db.QueryRow(ctx, query, email).Scan(&userID, &passwordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrInvalidCredentials
		}
		return uuid.Nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return uuid.Nil, ErrInvalidCredentials
	}

	return userID, nil
}

func (s *AuthService) GenerateToken(userID uuid.UUID, email string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.Auth.SessionTTL)
	claims := &models.SessionClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "pawtrait-storefront",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	// Store token in Redis for session management
	sessionKey := fmt.Sprintf("session:%s", userID.String())
	err = s.redisClient.Set(context.Background(), sessionKey, tokenString, s.config.Auth.SessionTTL).Err()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to store session in Redis")
		// Don't fail token generation if Redis is down
	}

	return tokenString, expiresAt, nil
}

func (s *AuthService) ValidateToken(tokenString string) (*models.SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	// Check if session exists in Redis
	sessionKey := fmt.Sprintf("session:%s", claims.UserID.String())
	exists, err := s.redisClient.Exists(context.Background(), sessionKey).Result()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to check session in Redis")
		// Continue validation even if Redis is down
	} else if exists == 0 {
		return nil, fmt.Errorf("session not found or expired")
	}

	return claims, nil
}

func (s *AuthService) RevokeToken(userID uuid.UUID) error {
	sessionKey := fmt.Sprintf("session:%s", userID.String())
	err := s.redisClient.Del(context.Background(), sessionKey).Err()
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}
