package models

// User is the author of a chat message.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Bot         bool   `json:"bot,omitempty"`
}
