package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/scriptoriumlab/scribe/backend/internal/auth"
	"github.com/scriptoriumlab/scribe/backend/internal/fault"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew  = "users.service.new"
	opRegister    = "users.register"
	opLogin       = "users.login"
	opFindByID    = "users.find_by_id"
	opFindByEmail = "users.find_by_email"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// IDProvider issues unique identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the accounts service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages account registration and credential checks.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the accounts service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fault.New(fault.KindInternal, opServiceNew, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fault.New(fault.KindInternal, opServiceNew, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Register creates an account with a bcrypt-hashed password. A duplicate email
// is a conflict; an unknown role is rejected.
func (s *Service) Register(ctx context.Context, email, password, name, role string) (User, error) {
	normalizedEmail := strings.ToLower(strings.TrimSpace(email))
	if normalizedEmail == "" {
		return User{}, fault.Newf(fault.KindInvalid, opRegister, "email is required")
	}
	if strings.TrimSpace(password) == "" {
		return User{}, fault.Newf(fault.KindInvalid, opRegister, "password is required")
	}
	if strings.TrimSpace(name) == "" {
		return User{}, fault.Newf(fault.KindInvalid, opRegister, "name is required")
	}
	parsedRole, ok := ParseRole(role)
	if !ok {
		return User{}, fault.Newf(fault.KindInvalid, opRegister, "unknown role %q", role)
	}

	var existing User
	err := s.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&existing).Error
	if err == nil {
		return User{}, fault.Newf(fault.KindConflict, opRegister, "email %s already registered", normalizedEmail)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opRegister, "email_lookup_failed", err)
		return User{}, fault.New(fault.KindInternal, opRegister, err)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		s.logError(opRegister, "password_hash_failed", err)
		return User{}, fault.New(fault.KindInternal, opRegister, err)
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, "id_generation_failed", err)
		return User{}, fault.New(fault.KindInternal, opRegister, err)
	}

	account := User{
		ID:           userID,
		Email:        normalizedEmail,
		PasswordHash: hashed,
		Name:         strings.TrimSpace(name),
		Role:         parsedRole,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		s.logError(opRegister, "insert_failed", err, zap.String("email", normalizedEmail))
		return User{}, fault.New(fault.KindInternal, opRegister, err)
	}

	s.logger.Info("account registered",
		zap.String("user_id", account.ID),
		zap.String("role", string(account.Role)))
	return account, nil
}

// Login verifies credentials and returns the stored account. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (User, error) {
	normalizedEmail := strings.ToLower(strings.TrimSpace(email))
	if normalizedEmail == "" || password == "" {
		return User{}, fault.Newf(fault.KindUnauthenticated, opLogin, "invalid credentials")
	}

	var account User
	err := s.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fault.Newf(fault.KindUnauthenticated, opLogin, "invalid credentials")
	}
	if err != nil {
		s.logError(opLogin, "email_lookup_failed", err)
		return User{}, fault.New(fault.KindInternal, opLogin, err)
	}

	if err := auth.ComparePassword(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return User{}, fault.Newf(fault.KindUnauthenticated, opLogin, "invalid credentials")
		}
		s.logError(opLogin, "password_compare_failed", err)
		return User{}, fault.New(fault.KindInternal, opLogin, err)
	}

	return account, nil
}

// FindByID loads an account by its identifier.
func (s *Service) FindByID(ctx context.Context, userID string) (User, error) {
	var account User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fault.Newf(fault.KindNotFound, opFindByID, "user %s not found", userID)
	}
	if err != nil {
		s.logError(opFindByID, "query_failed", err, zap.String("user_id", userID))
		return User{}, fault.New(fault.KindInternal, opFindByID, err)
	}
	return account, nil
}

// FindByEmail loads an account by its normalized email address.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	normalizedEmail := strings.ToLower(strings.TrimSpace(email))
	var account User
	err := s.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fault.Newf(fault.KindNotFound, opFindByEmail, "user %s not found", normalizedEmail)
	}
	if err != nil {
		s.logError(opFindByEmail, "query_failed", err)
		return User{}, fault.New(fault.KindInternal, opFindByEmail, err)
	}
	return account, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}
