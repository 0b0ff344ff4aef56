package model

import "time"

// 用户角色的枚举值。
const (
	UserRoleAgent = "AGENT"
	UserRoleAdmin = "ADMIN"
)

// User 代表一个客服坐席或管理员账号。
// 访客不建档：访客身份只由会话的 SessionID 表达。
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"type:varchar(128);not null" json:"-"`
	Email     string    `gorm:"type:varchar(128)" json:"email"`
	Name      string    `gorm:"type:varchar(64)" json:"name"`
	Role      string    `gorm:"type:varchar(16);not null;default:'AGENT'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
