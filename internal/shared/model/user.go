package model

import "time"

// Location 用户所在地
type Location struct {
	City    string `json:"city,omitempty" bson:"city,omitempty"`
	State   string `json:"state,omitempty" bson:"state,omitempty"`
	Country string `json:"country,omitempty" bson:"country,omitempty"`
	ZipCode string `json:"zip_code,omitempty" bson:"zip_code,omitempty"`
}

// UserPreferences 用户偏好设置
type UserPreferences struct {
	Sizes              []string `json:"sizes,omitempty" bson:"sizes,omitempty"`
	Categories         []string `json:"categories,omitempty" bson:"categories,omitempty"`
	EmailNotifications bool     `json:"email_notifications" bson:"email_notifications"`
	SwapRequests       bool     `json:"swap_requests" bson:"swap_requests"`
}

// User 用户
//
// Points 余额只允许通过积分账本（ledger 包）修改：
// 账本更新余额时用 Version 做乐观锁（CAS），
// 其它更新路径（UpdateUser）不得触碰 Points/Version。
type User struct {
	ID           string `json:"id" bson:"_id"`
	Username     string `json:"username" bson:"username"`
	Email        string `json:"email" bson:"email"`
	PasswordHash string `json:"-" bson:"password_hash"` // never expose in JSON
	FirstName    string `json:"first_name" bson:"first_name"`
	LastName     string `json:"last_name" bson:"last_name"`
	Bio          string `json:"bio,omitempty" bson:"bio,omitempty"`

	Location     *Location        `json:"location,omitempty" bson:"location,omitempty"`
	ProfilePhoto *Image           `json:"profile_photo,omitempty" bson:"profile_photo,omitempty"`
	Preferences  *UserPreferences `json:"preferences,omitempty" bson:"preferences,omitempty"`

	Points  int   `json:"points" bson:"points"`
	Version int64 `json:"-" bson:"version"` // 余额乐观锁版本号

	IsActive bool `json:"is_active" bson:"is_active"`
	IsAdmin  bool `json:"is_admin" bson:"is_admin"`

	LastLogin *time.Time `json:"last_login,omitempty" bson:"last_login,omitempty"`

	// 密码重置：存 sha256(token) 的十六进制，明文只发给用户
	PasswordResetToken   string     `json:"-" bson:"password_reset_token,omitempty"`
	PasswordResetExpires *time.Time `json:"-" bson:"password_reset_expires,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// FullName 姓名全称
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// PublicProfile 公开资料视图（隐藏邮箱等敏感字段）
type PublicProfile struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Bio          string     `json:"bio,omitempty"`
	Location     *Location  `json:"location,omitempty"`
	ProfilePhoto *Image     `json:"profile_photo,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Public 返回用户的公开资料视图
func (u *User) Public() *PublicProfile {
	return &PublicProfile{
		ID:           u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Bio:          u.Bio,
		Location:     u.Location,
		ProfilePhoto: u.ProfilePhoto,
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLogin,
	}
}

// UserStats 平台用户统计（admin dashboard 用）
type UserStats struct {
	TotalUsers    int     `json:"total_users"`
	ActiveUsers   int     `json:"active_users"`
	TotalPoints   int     `json:"total_points"`
	AveragePoints float64 `json:"average_points"`
}
