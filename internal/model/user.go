package model

// User owns campaigns and holds the long-lived credentials the delivery
// pipeline needs at execution time.
type User struct {
	Base
	Email              string  `json:"email" db:"email"`
	Name               string  `json:"name" db:"name"`
	GoogleRefreshToken *string `json:"-" db:"google_refresh_token"`
	DiscordWebhookURL  *string `json:"discord_webhook_url,omitempty" db:"discord_webhook_url"`
}
