package dto

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	TenantID string `json:"tenantId,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type InviteRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

type OperatorResponse struct {
	OperatorID string `json:"operatorId"`
	TenantID   string `json:"tenantId"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
}

type AuthResponse struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken,omitempty"`
	Operator     OperatorResponse `json:"operator"`
}

type InviteResponse struct {
	Operator OperatorResponse `json:"operator"`
	// TempPassword is shown once; the invited operator must change it on
	// first login.
	TempPassword string `json:"tempPassword"`
}

type MeResponse struct {
	Operator OperatorResponse `json:"operator"`
}

type ListOperatorsResponse struct {
	Operators []OperatorResponse `json:"operators"`
}
