package models

import "time"

// Credential 本地持久化的登录凭证
// 客户端只保存一份凭证，重新登录时原地覆盖
type Credential struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	Username  string    `gorm:"size:64" json:"username"`
	Token     string    `gorm:"type:text" json:"token"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Credential) TableName() string {
	return "credentials"
}
