package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrSessionAlreadyActive = errors.New("another session is already active, please contact a proctor to reset")
	ErrNoActiveSession      = errors.New("no active session")
	ErrSessionInvalidated   = errors.New("session invalidated")
)

// TokenType distinguishes student vs admin tokens.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
	TokenTypeAdmin   TokenType = "admin"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	UserID      int       `json:"user_id"`
	ClassID     int       `json:"class_id,omitempty"`    // Student only
	Permissions []string  `json:"permissions,omitempty"` // Admin only
}

// AuthService handles authentication, JWT, and the one-device student session.
type AuthService struct {
	cfg         *config.Config
	rdb         *redis.Client
	studentRepo *repository.StudentRepository
	adminRepo   *repository.AdminRepository
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	cfg *config.Config,
	rdb *redis.Client,
	studentRepo *repository.StudentRepository,
	adminRepo *repository.AdminRepository,
) *AuthService {
	return &AuthService{cfg: cfg, rdb: rdb, studentRepo: studentRepo, adminRepo: adminRepo}
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// LoginStudent verifies NISN and password and opens the student's session.
func (s *AuthService) LoginStudent(ctx context.Context, req model.StudentLoginRequest) (string, *model.Student, error) {
	student, err := s.studentRepo.GetByNISN(ctx, req.NISN)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := s.CheckPassword(student.PasswordHash, req.Password); err != nil {
		return "", nil, err
	}
	token, err := s.GenerateStudentToken(ctx, student.ID, student.ClassID)
	if err != nil {
		return "", nil, err
	}
	return token, student, nil
}

// LoginAdmin verifies a reviewer's credentials.
func (s *AuthService) LoginAdmin(ctx context.Context, req model.AdminLoginRequest) (string, *model.Admin, error) {
	admin, err := s.adminRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := s.CheckPassword(admin.PasswordHash, req.Password); err != nil {
		return "", nil, err
	}
	token, err := s.GenerateAdminToken(admin.ID, admin.Permissions)
	if err != nil {
		return "", nil, err
	}
	return token, admin, nil
}

// GenerateStudentToken creates a JWT for a student and registers the session in Redis.
// A second login is rejected while the first session is alive.
func (s *AuthService) GenerateStudentToken(ctx context.Context, studentID, classID int) (string, error) {
	jti := uuid.New().String()

	// SETNX makes the check-and-register atomic across concurrent logins.
	ok, err := s.rdb.SetNX(ctx, config.CacheKey.StudentSessionKey(studentID), jti, s.cfg.JWTExpiry).Result()
	if err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return "", ErrSessionAlreadyActive
	}

	token, err := s.sign(Claims{
		RegisteredClaims: s.registered(jti, studentID),
		TokenType:        TokenTypeStudent,
		UserID:           studentID,
		ClassID:          classID,
	})
	if err != nil {
		_ = s.ResetStudentSession(ctx, studentID)
		return "", err
	}
	return token, nil
}

// GenerateAdminToken creates a JWT for an admin with permissions embedded.
func (s *AuthService) GenerateAdminToken(adminID int, permissions []string) (string, error) {
	return s.sign(Claims{
		RegisteredClaims: s.registered(uuid.New().String(), adminID),
		TokenType:        TokenTypeAdmin,
		UserID:           adminID,
		Permissions:      permissions,
	})
}

func (s *AuthService) registered(jti string, userID int) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		ID:        jti,
		Subject:   strconv.Itoa(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
	}
}

func (s *AuthService) sign(claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ValidateStudentSession checks that the token's JTI matches the active session in Redis.
func (s *AuthService) ValidateStudentSession(ctx context.Context, studentID int, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.StudentSessionKey(studentID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNoActiveSession
		}
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// ResetStudentSession removes a student's session from Redis, allowing a new login.
func (s *AuthService) ResetStudentSession(ctx context.Context, studentID int) error {
	return s.rdb.Del(ctx, config.CacheKey.StudentSessionKey(studentID)).Err()
}

// StudentProfile returns the student behind a token.
func (s *AuthService) StudentProfile(ctx context.Context, studentID int) (*model.Student, error) {
	return s.studentRepo.GetByID(ctx, studentID)
}

// AdminProfile returns the reviewer behind a token.
func (s *AuthService) AdminProfile(ctx context.Context, adminID int) (*model.Admin, error) {
	return s.adminRepo.GetByID(ctx, adminID)
}
