package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"whatsapp-inbox-backend/internal/api"
	"whatsapp-inbox-backend/internal/api/middleware"
	"whatsapp-inbox-backend/internal/dto"
	internaljwt "whatsapp-inbox-backend/internal/jwt"
	"whatsapp-inbox-backend/internal/model"
	"whatsapp-inbox-backend/internal/queue"
	authsvc "whatsapp-inbox-backend/internal/service/auth"
)

type testOperatorRepository struct {
	mu        sync.Mutex
	operators map[string]model.OperatorItem
}

func newTestOperatorRepository() *testOperatorRepository {
	return &testOperatorRepository{operators: make(map[string]model.OperatorItem)}
}

func (m *testOperatorRepository) CreateOperator(ctx context.Context, operator model.OperatorItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operators[operator.PK] = operator
	return nil
}

func (m *testOperatorRepository) GetOperator(ctx context.Context, tenantID, operatorID string) (model.OperatorItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	operator, ok := m.operators[model.TenantScopedPK(tenantID, operatorID)]
	if !ok {
		return model.OperatorItem{}, authsvc.ErrNotFound
	}
	return operator, nil
}

func (m *testOperatorRepository) ListOperatorsByEmail(ctx context.Context, email string) ([]model.OperatorItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	operators := make([]model.OperatorItem, 0)
	for _, operator := range m.operators {
		if operator.Email == email {
			operators = append(operators, operator)
		}
	}
	return operators, nil
}

func (m *testOperatorRepository) ListOperators(ctx context.Context, tenantID string) ([]model.OperatorItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	operators := make([]model.OperatorItem, 0)
	for _, operator := range m.operators {
		if operator.TenantID == tenantID {
			operators = append(operators, operator)
		}
	}
	return operators, nil
}

func fixedTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func setupTestJWT(t *testing.T) {
	t.Helper()
	internaljwt.RoleSecrets[internaljwt.RoleOperator] = "test-secret"
	authsvc.SetTokenIssuer(func(operator internaljwt.Operator, role internaljwt.Role, validUntil int64) (internaljwt.TokenResponse, error) {
		token, err := internaljwt.CreateToken(operator, role, validUntil)
		if err != nil {
			return internaljwt.TokenResponse{}, err
		}
		return internaljwt.TokenResponse{
			AccessToken: token,
		}, nil
	})
	t.Cleanup(func() {
		authsvc.SetTokenIssuer(nil)
	})
}

func setupAuthHandler(t *testing.T, svc *authsvc.Service) (http.Handler, func()) {
	t.Helper()

	authEndpoints := &authEndpoints{service: svc}

	queueManager := queue.NewRequestQueueManager(10, 1)

	server := api.NewAPIServer(":0", queueManager, nil, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", server.MakeHTTPHandleFunc(authEndpoints.Register))
	mux.HandleFunc("/api/auth/login", server.MakeHTTPHandleFunc(authEndpoints.Login))
	mux.HandleFunc("/api/auth/invite", server.MakeHTTPHandleFunc(authEndpoints.Invite, middleware.ValidateOperatorJWT))
	mux.HandleFunc("/api/auth/me", server.MakeHTTPHandleFunc(authEndpoints.Me, middleware.ValidateOperatorJWT))
	mux.HandleFunc("/api/auth/operators", server.MakeHTTPHandleFunc(authEndpoints.Operators, middleware.ValidateOperatorJWT))

	return mux, func() {
		queueManager.Shutdown()
	}
}

func doJSONRequest[T any](t *testing.T, handler http.Handler, method, target string, body interface{}, headers map[string]string, expectedStatus int) T {
	t.Helper()

	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		payload = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, target, payload)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, rec.Code, rec.Body.String())
	}

	var result T
	if expectedStatus != http.StatusNoContent {
		if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}

	return result
}

func TestAuthEndpointsEndToEnd(t *testing.T) {
	setupTestJWT(t)
	repo := newTestOperatorRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	registerPayload := map[string]interface{}{
		"name":     "Jane Owner",
		"email":    "owner@example.com",
		"password": "Sup3rS3cret!",
	}

	registerResp := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/register", registerPayload, nil, http.StatusCreated)

	if registerResp.Operator.Role != authsvc.RoleOwner {
		t.Fatalf("expected owner role, got %s", registerResp.Operator.Role)
	}
	if registerResp.AccessToken == "" {
		t.Fatal("expected access token in register response")
	}

	loginPayload := map[string]interface{}{
		"tenantId": registerResp.Operator.TenantID,
		"email":    registerResp.Operator.Email,
		"password": "Sup3rS3cret!",
	}

	loginResp := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/login", loginPayload, nil, http.StatusOK)

	if loginResp.AccessToken == "" {
		t.Fatal("expected access token in login response")
	}

	meHeaders := map[string]string{
		"Authorization": "Bearer " + loginResp.AccessToken,
	}

	meResp := doJSONRequest[dto.MeResponse](t, handler, http.MethodGet, "/api/auth/me", nil, meHeaders, http.StatusOK)

	if meResp.Operator.Email != registerResp.Operator.Email {
		t.Fatalf("expected email %s, got %s", registerResp.Operator.Email, meResp.Operator.Email)
	}
	if meResp.Operator.TenantID != registerResp.Operator.TenantID {
		t.Fatalf("expected tenant ID %s, got %s", registerResp.Operator.TenantID, meResp.Operator.TenantID)
	}
}

func TestAuthRegisterRejectsDuplicateEmail(t *testing.T) {
	setupTestJWT(t)
	repo := newTestOperatorRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	payload := map[string]interface{}{
		"name":     "Jane Owner",
		"email":    "owner@example.com",
		"password": "Sup3rS3cret!",
	}

	doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/register", payload, nil, http.StatusCreated)
	doJSONRequest[api.ApiError](t, handler, http.MethodPost, "/api/auth/register", payload, nil, http.StatusConflict)
}

func TestAuthInviteAndOperatorList(t *testing.T) {
	setupTestJWT(t)
	repo := newTestOperatorRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	registerResp := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/register", map[string]interface{}{
		"name":     "Jane Owner",
		"email":    "owner@example.com",
		"password": "Sup3rS3cret!",
	}, nil, http.StatusCreated)

	ownerHeaders := map[string]string{
		"Authorization": "Bearer " + registerResp.AccessToken,
	}

	inviteResp := doJSONRequest[dto.InviteResponse](t, handler, http.MethodPost, "/api/auth/invite", map[string]interface{}{
		"name":  "Bob Agent",
		"email": "agent@example.com",
	}, ownerHeaders, http.StatusCreated)

	if inviteResp.Operator.Role != authsvc.RoleAgent {
		t.Fatalf("expected agent role, got %s", inviteResp.Operator.Role)
	}
	if inviteResp.TempPassword == "" {
		t.Fatal("expected one-time password in invite response")
	}

	agentLogin := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "agent@example.com",
		"password": inviteResp.TempPassword,
	}, nil, http.StatusOK)

	agentHeaders := map[string]string{
		"Authorization": "Bearer " + agentLogin.AccessToken,
	}

	doJSONRequest[api.ApiError](t, handler, http.MethodPost, "/api/auth/invite", map[string]interface{}{
		"name":  "Eve Agent",
		"email": "eve@example.com",
	}, agentHeaders, http.StatusUnauthorized)

	listResp := doJSONRequest[dto.ListOperatorsResponse](t, handler, http.MethodGet, "/api/auth/operators", nil, ownerHeaders, http.StatusOK)
	if len(listResp.Operators) != 2 {
		t.Fatalf("expected 2 operators, got %d", len(listResp.Operators))
	}
}

func TestAuthLoginRejectsWrongPassword(t *testing.T) {
	setupTestJWT(t)
	repo := newTestOperatorRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/register", map[string]interface{}{
		"name":     "Jane Owner",
		"email":    "owner@example.com",
		"password": "Sup3rS3cret!",
	}, nil, http.StatusCreated)

	doJSONRequest[api.ApiError](t, handler, http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "owner@example.com",
		"password": "wrong",
	}, nil, http.StatusUnauthorized)
}
