package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"whatsapp-inbox-backend/internal/database"
	internaljwt "whatsapp-inbox-backend/internal/jwt"
	"whatsapp-inbox-backend/internal/model"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleOwner = "owner"
	RoleAgent = "agent"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

var createTokenWithRefresh = internaljwt.CreateTokenWithRefresh

// SetTokenIssuer swaps the token issuer, used by tests to avoid the redis
// backed refresh store.
func SetTokenIssuer(issuer func(internaljwt.Operator, internaljwt.Role, int64) (internaljwt.TokenResponse, error)) {
	if issuer == nil {
		createTokenWithRefresh = internaljwt.CreateTokenWithRefresh
		return
	}
	createTokenWithRefresh = issuer
}

func New(db *database.Database) *Service {
	return &Service{
		repo: NewDynamoRepository(db),
		now:  time.Now,
	}
}

func NewWithRepository(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo: repo,
		now:  now,
	}
}

// Register creates a fresh tenant with its owner operator.
func (s *Service) Register(ctx context.Context, params RegisterParams) (AuthResult, error) {
	email := normalizeEmail(params.Email)
	password := strings.TrimSpace(params.Password)
	name := strings.TrimSpace(params.Name)

	if email == "" || password == "" || name == "" {
		return AuthResult{}, newError(ErrorCodeValidation, "missing required fields", nil)
	}

	existing, err := s.repo.ListOperatorsByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to check existing operators", err)
	}
	if len(existing) > 0 {
		return AuthResult{}, newError(ErrorCodeConflict, "email already registered", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to prepare operator", err)
	}

	now := s.now().UTC().Format(time.RFC3339)
	tenantID := uuid.NewString()
	operatorID := uuid.NewString()

	operator := model.OperatorItem{
		PK:           model.TenantScopedPK(tenantID, operatorID),
		TenantID:     tenantID,
		OperatorID:   operatorID,
		Email:        email,
		Name:         name,
		Role:         RoleOwner,
		Status:       "active",
		PasswordHash: string(hash),
		CreatedAt:    now,
	}

	if err := s.repo.CreateOperator(ctx, operator); err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to save operator", err)
	}

	tokens, err := createTokenWithRefresh(jwtOperator(operator), internaljwt.RoleOperator, 0)
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to issue tokens", err)
	}

	return AuthResult{
		Operator: operator,
		Tokens:   tokens,
	}, nil
}

// Invite provisions an additional operator in the caller's tenant with a
// generated one-time password.
func (s *Service) Invite(ctx context.Context, identity Identity, params InviteParams) (InviteResult, error) {
	email := normalizeEmail(params.Email)
	name := strings.TrimSpace(params.Name)
	tenantID := strings.TrimSpace(identity.TenantID)

	if email == "" || name == "" {
		return InviteResult{}, newError(ErrorCodeValidation, "missing required fields", nil)
	}
	if tenantID == "" {
		return InviteResult{}, newError(ErrorCodeUnauthorized, "invalid operator identity", nil)
	}

	caller, err := s.repo.GetOperator(ctx, tenantID, identity.OperatorID)
	if err != nil {
		return InviteResult{}, newError(ErrorCodeUnauthorized, "operator not found", err)
	}
	if caller.Role != RoleOwner {
		return InviteResult{}, newError(ErrorCodeUnauthorized, "only the owner can invite operators", nil)
	}

	role := strings.TrimSpace(params.Role)
	if role == "" {
		role = RoleAgent
	}
	if role != RoleOwner && role != RoleAgent {
		return InviteResult{}, newError(ErrorCodeValidation, "invalid role", nil)
	}

	tempPassword := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), 10)
	if err != nil {
		return InviteResult{}, newError(ErrorCodeInternal, "failed to prepare operator", err)
	}

	now := s.now().UTC().Format(time.RFC3339)
	operatorID := uuid.NewString()
	operator := model.OperatorItem{
		PK:           model.TenantScopedPK(tenantID, operatorID),
		TenantID:     tenantID,
		OperatorID:   operatorID,
		Email:        email,
		Name:         name,
		Role:         role,
		Status:       "active",
		PasswordHash: string(hash),
		CreatedAt:    now,
	}

	if err := s.repo.CreateOperator(ctx, operator); err != nil {
		return InviteResult{}, newError(ErrorCodeInternal, "failed to save operator", err)
	}

	return InviteResult{
		Operator:     operator,
		TempPassword: tempPassword,
	}, nil
}

func (s *Service) Login(ctx context.Context, params LoginParams) (AuthResult, error) {
	email := normalizeEmail(params.Email)
	password := strings.TrimSpace(params.Password)
	tenantID := strings.TrimSpace(params.TenantID)

	if email == "" || password == "" {
		return AuthResult{}, newError(ErrorCodeValidation, "missing required fields", nil)
	}

	candidates, err := s.repo.ListOperatorsByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to fetch operator", err)
	}

	var match *model.OperatorItem
	for i := range candidates {
		candidate := candidates[i]
		if candidate.Status != "active" {
			continue
		}
		if tenantID != "" && candidate.TenantID != tenantID {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(candidate.PasswordHash), []byte(password)) != nil {
			continue
		}
		match = &candidate
		break
	}
	if match == nil {
		return AuthResult{}, newError(ErrorCodeUnauthorized, "invalid credentials", nil)
	}

	tokens, err := createTokenWithRefresh(jwtOperator(*match), internaljwt.RoleOperator, 0)
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to issue tokens", err)
	}

	return AuthResult{
		Operator: *match,
		Tokens:   tokens,
	}, nil
}

func (s *Service) Me(ctx context.Context, identity Identity) (model.OperatorItem, error) {
	operatorID := strings.TrimSpace(identity.OperatorID)
	tenantID := strings.TrimSpace(identity.TenantID)

	if operatorID == "" || tenantID == "" {
		return model.OperatorItem{}, newError(ErrorCodeUnauthorized, "invalid operator identity", nil)
	}

	operator, err := s.repo.GetOperator(ctx, tenantID, operatorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.OperatorItem{}, newError(ErrorCodeNotFound, "operator not found", err)
		}
		return model.OperatorItem{}, newError(ErrorCodeInternal, "failed to fetch operator", err)
	}

	return operator, nil
}

func (s *Service) ListOperators(ctx context.Context, identity Identity) ([]model.OperatorItem, error) {
	tenantID := strings.TrimSpace(identity.TenantID)
	if tenantID == "" {
		return nil, newError(ErrorCodeUnauthorized, "invalid operator identity", nil)
	}

	operators, err := s.repo.ListOperators(ctx, tenantID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list operators", err)
	}
	return operators, nil
}

func (s *Service) IdentityFromAuthorizationHeader(header string) (Identity, error) {
	authHeader := strings.TrimSpace(header)
	if authHeader == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "missing authorization header", nil)
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return Identity{}, newError(ErrorCodeUnauthorized, "invalid authorization header format", nil)
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return s.identityFromToken(token)
}

func (s *Service) identityFromToken(token string) (Identity, error) {
	if token == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "empty token", nil)
	}

	claims, err := internaljwt.ParseToken(token, internaljwt.RoleOperator)
	if err != nil {
		return Identity{}, newError(ErrorCodeUnauthorized, "invalid token", err)
	}

	operatorID, _ := claims["id"].(string)
	email, _ := claims["email"].(string)
	tenantID, _ := claims["tenantId"].(string)

	if operatorID == "" || tenantID == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "token missing identifiers", nil)
	}

	return Identity{
		OperatorID: operatorID,
		TenantID:   tenantID,
		Email:      email,
	}, nil
}

func jwtOperator(operator model.OperatorItem) internaljwt.Operator {
	return internaljwt.Operator{
		Id:       operator.OperatorID,
		Email:    operator.Email,
		TenantId: operator.TenantID,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
