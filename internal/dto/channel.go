package dto

type RegisterChannelRequest struct {
	Label string `json:"label"`
}

type ChannelResponse struct {
	ChannelID string `json:"channelId"`
	TenantID  string `json:"tenantId"`
	Label     string `json:"label"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

type RegisterChannelResponse struct {
	Channel ChannelResponse `json:"channel"`
	// WebhookKey is returned exactly once; only its hash is persisted.
	WebhookKey string `json:"webhookKey"`
}

type ListChannelsResponse struct {
	Channels []ChannelResponse `json:"channels"`
}

type UpdateChannelStatusRequest struct {
	Status string `json:"status"`
}
