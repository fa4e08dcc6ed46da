package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/course-signup-api/internal/models"
	appErrors "github.com/noah-isme/course-signup-api/pkg/errors"
)

const pretermAudience = "preterm-signup"

// AuthConfig defines configuration for token flows.
type AuthConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	PretermTokenExpiry time.Duration
	Issuer             string
}

// AuthService issues and validates admin access tokens and preterm signup tokens.
type AuthService struct {
	logger *zap.Logger
	config AuthConfig
	now    func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Issuer == "" {
		config.Issuer = "course-signup-api"
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 24 * time.Hour
	}
	if config.PretermTokenExpiry <= 0 {
		config.PretermTokenExpiry = 14 * 24 * time.Hour
	}
	return &AuthService{logger: logger, config: config, now: time.Now}
}

// GenerateToken signs an access token for an administrator.
func (s *AuthService) GenerateToken(userID string, role models.UserRole) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrValidation, "user id is required")
	}
	if role == "" {
		role = models.RoleAdmin
	}
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	if err := s.parse(tokenString, claims); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	if claims.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// IssuePretermToken signs a priority signup token bound to mail.
func (s *AuthService) IssuePretermToken(mail string) (string, time.Time, error) {
	mail = normalizeMail(mail)
	if mail == "" {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrValidation, "mail is required")
	}
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.config.PretermTokenExpiry)
	claims := &models.PretermClaims{
		Mail: mail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{pretermAudience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create preterm token")
	}
	s.logger.Info("preterm token issued", zap.String("mail", mail), zap.Time("expires_at", expiresAt))
	return signed, expiresAt, nil
}

// ValidatePretermToken reports whether token is a valid preterm token for mail.
func (s *AuthService) ValidatePretermToken(tokenString, mail string) bool {
	if tokenString == "" {
		return false
	}
	claims := &models.PretermClaims{}
	if err := s.parse(tokenString, claims, jwt.WithAudience(pretermAudience)); err != nil {
		s.logger.Debug("preterm token rejected", zap.Error(err))
		return false
	}
	return claims.Mail != "" && claims.Mail == normalizeMail(mail)
}

func (s *AuthService) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.AccessTokenSecret))
}

func (s *AuthService) parse(tokenString string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append(opts, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.config.Issuer))
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("token is not valid")
	}
	return nil
}

func normalizeMail(mail string) string {
	return strings.ToLower(strings.TrimSpace(mail))
}
