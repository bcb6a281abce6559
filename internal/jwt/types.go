package jwt

type Role int

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type Operator struct {
	Id       string `json:"id"`
	Email    string `json:"email"`
	TenantId string `json:"tenantId"`
}
