package models

import "github.com/golang-jwt/jwt/v5"

// Claims представляет стандартные поля JWT и пользовательские данные,
// которые мы ожидаем в токене доступа.
type Claims struct {
	UserID               string   `json:"user_id"`
	Roles                []string `json:"roles"`
	jwt.RegisteredClaims          // Issuer, Subject, Audience, ExpiresAt, NotBefore, IssuedAt, ID (JTI)
}

// EffectiveUserID возвращает UserID, а при его отсутствии - Subject токена.
func (c *Claims) EffectiveUserID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}
