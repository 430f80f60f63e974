package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"rewear/internal/shared/ledger"
	"rewear/internal/shared/model"
	"rewear/internal/shared/storage"
)

// Handler 认证 HTTP 处理器
type Handler struct {
	store        storage.UserStore
	ledger       *ledger.Ledger
	cfg          Config
	welcomeBonus int
	resetTTL     time.Duration
}

// NewHandler 创建认证处理器
func NewHandler(store storage.UserStore, lg *ledger.Ledger, cfg Config, welcomeBonus int, resetTTL time.Duration) *Handler {
	return &Handler{
		store:        store,
		ledger:       lg,
		cfg:          cfg,
		welcomeBonus: welcomeBonus,
		resetTTL:     resetTTL,
	}
}

// RegisterRoutes 注册认证相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.Register)
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("POST /api/auth/refresh", h.Refresh)
	mux.HandleFunc("POST /api/auth/logout", h.Logout)
	mux.HandleFunc("GET /api/auth/me", h.Me)
	mux.HandleFunc("PUT /api/auth/me", h.UpdateMe)
	mux.HandleFunc("PUT /api/auth/updatepassword", h.UpdatePassword)
	mux.HandleFunc("POST /api/auth/forgotpassword", h.ForgotPassword)
	mux.HandleFunc("PUT /api/auth/resetpassword/{token}", h.ResetPassword)
	mux.HandleFunc("GET /api/auth/check-username/{username}", h.CheckUsername)
	mux.HandleFunc("GET /api/auth/check-email/{email}", h.CheckEmail)
	mux.HandleFunc("DELETE /api/auth/deactivate", h.Deactivate)
}

// ============================================================================
// 请求/响应类型
// ============================================================================

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type updateProfileRequest struct {
	FirstName   *string                `json:"first_name"`
	LastName    *string                `json:"last_name"`
	Bio         *string                `json:"bio"`
	Location    *model.Location        `json:"location"`
	Preferences *model.UserPreferences `json:"preferences"`
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type authResponse struct {
	User         *model.User `json:"user"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
}

// ============================================================================
// Handlers
// ============================================================================

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// Register 用户注册
//
// 注册成功后通过账本发放欢迎积分（registration 类型）。
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)

	if req.Email == "" || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username, email, password are required")
		return
	}
	if !usernameRegex.MatchString(req.Username) {
		writeError(w, http.StatusBadRequest, "username must be 3-20 characters (letters, digits, underscore)")
		return
	}
	if !isValidEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "invalid email format")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	// 检查邮箱/用户名是否已被占用
	if _, err := h.store.GetUserByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.Printf("[auth.register] GetUserByEmail error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if _, err := h.store.GetUserByUsername(r.Context(), req.Username); err == nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.Printf("[auth.register] GetUserByUsername error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		log.Printf("[auth.register] HashPassword error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	now := time.Now()
	user := &model.User{
		ID:           generateID(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusConflict, "username or email already registered")
			return
		}
		log.Printf("[auth.register] CreateUser error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	// 欢迎积分走账本，保证余额和流水一致
	if h.welcomeBonus > 0 {
		tx, err := h.ledger.Record(r.Context(), ledger.Entry{
			UserID:    user.ID,
			Type:      model.TxRegistration,
			Amount:    h.welcomeBonus,
			Reason:    "Welcome bonus for joining ReWear",
			Reference: &model.Reference{Kind: model.RefUser, ID: user.ID},
		})
		if err != nil {
			log.Printf("[auth.register] welcome bonus failed for %s: %v", user.ID, err)
		} else {
			user.Points = tx.BalanceAfter
		}
	}

	accessToken, err := GenerateAccessToken(h.cfg, user.ID, user.Email, roleOf(user))
	if err != nil {
		log.Printf("[auth.register] GenerateAccessToken error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	refreshToken, err := GenerateRefreshToken(h.cfg, user.ID)
	if err != nil {
		log.Printf("[auth.register] GenerateRefreshToken error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	log.Printf("[auth] User registered: %s (%s)", user.Email, user.ID)
	writeJSON(w, http.StatusCreated, authResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// Login 用户登录
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		log.Printf("[auth.login] GetUserByEmail error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !CheckPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusForbidden, "account is deactivated")
		return
	}

	now := time.Now()
	user.LastLogin = &now
	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		log.Printf("[auth.login] update last_login error: %v", err)
	}

	accessToken, err := GenerateAccessToken(h.cfg, user.ID, user.Email, roleOf(user))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	refreshToken, err := GenerateRefreshToken(h.cfg, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	log.Printf("[auth] User logged in: %s", user.Email)
	writeJSON(w, http.StatusOK, authResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// Refresh 刷新访问令牌
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	claims, err := ParseToken(h.cfg, req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	if claims.Type != "refresh" {
		writeError(w, http.StatusUnauthorized, "invalid token type")
		return
	}

	// 查询用户确保仍然存在且有效
	user, err := h.store.GetUser(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "user not found")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusForbidden, "account is deactivated")
		return
	}

	accessToken, err := GenerateAccessToken(h.cfg, user.ID, user.Email, roleOf(user))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"access_token": accessToken})
}

// Logout 登出（JWT 无状态，客户端丢弃令牌即可）
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me 获取当前用户信息
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	authUser := GetAuthUser(r.Context())
	if authUser == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	user, err := h.store.GetUser(r.Context(), authUser.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateMe 更新当前用户资料
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	authUser := GetAuthUser(r.Context())
	if authUser == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.store.GetUser(r.Context(), authUser.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.Bio != nil {
		if len(*req.Bio) > 500 {
			writeError(w, http.StatusBadRequest, "bio must be at most 500 characters")
			return
		}
		user.Bio = *req.Bio
	}
	if req.Location != nil {
		user.Location = req.Location
	}
	if req.Preferences != nil {
		user.Preferences = req.Preferences
	}

	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		log.Printf("[auth.update] UpdateUser error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdatePassword 修改密码
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	authUser := GetAuthUser(r.Context())
	if authUser == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req updatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current_password and new_password are required")
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "new password must be at least 8 characters")
		return
	}

	user, err := h.store.GetUser(r.Context(), authUser.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if !CheckPassword(req.CurrentPassword, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "incorrect current password")
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	user.PasswordHash = hash
	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// ForgotPassword 发起密码重置
//
// 数据库只存 sha256(token)，明文 token 只出现在发送给用户的渠道里。
// 为防账号探测，无论邮箱是否存在都返回同样的提示。
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	const okMessage = "if the email is registered, a reset token has been sent"

	user, err := h.store.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]string{"message": okMessage})
			return
		}
		log.Printf("[auth.forgot] GetUserByEmail error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, tokenHash, err := generateResetToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	expires := time.Now().Add(h.resetTTL)
	user.PasswordResetToken = tokenHash
	user.PasswordResetExpires = &expires
	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		log.Printf("[auth.forgot] UpdateUser error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// 没有邮件网关，令牌打日志供运营转发
	log.Printf("[auth] password reset token issued for %s", user.Email)
	writeJSON(w, http.StatusOK, map[string]string{
		"message":     okMessage,
		"reset_token": token,
	})
}

// ResetPassword 用重置令牌设置新密码
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hashBytes := sha256.Sum256([]byte(token))
	user, err := h.store.GetUserByResetToken(r.Context(), hex.EncodeToString(hashBytes[:]))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or expired reset token")
		return
	}
	if user.PasswordResetExpires == nil || time.Now().After(*user.PasswordResetExpires) {
		writeError(w, http.StatusBadRequest, "invalid or expired reset token")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	user.PasswordHash = hash
	user.PasswordResetToken = ""
	user.PasswordResetExpires = nil
	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}

	log.Printf("[auth] password reset completed for %s", user.Email)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password reset"})
}

// CheckUsername 用户名是否可用
func (h *Handler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if !usernameRegex.MatchString(username) {
		writeJSON(w, http.StatusOK, map[string]bool{"available": false})
		return
	}
	_, err := h.store.GetUserByUsername(r.Context(), username)
	writeJSON(w, http.StatusOK, map[string]bool{"available": errors.Is(err, storage.ErrNotFound)})
}

// CheckEmail 邮箱是否可用
func (h *Handler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(r.PathValue("email"))
	if !isValidEmail(email) {
		writeJSON(w, http.StatusOK, map[string]bool{"available": false})
		return
	}
	_, err := h.store.GetUserByEmail(r.Context(), email)
	writeJSON(w, http.StatusOK, map[string]bool{"available": errors.Is(err, storage.ErrNotFound)})
}

// Deactivate 软停用当前账号
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	authUser := GetAuthUser(r.Context())
	if authUser == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	user, err := h.store.GetUser(r.Context(), authUser.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	user.IsActive = false
	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to deactivate account")
		return
	}

	log.Printf("[auth] account deactivated: %s", user.Email)
	writeJSON(w, http.StatusOK, map[string]string{"message": "account deactivated"})
}

// ============================================================================
// Admin Bootstrap
// ============================================================================

// EnsureAdminUser 确保管理员用户存在（启动时调用）
// 如果配置了 adminEmail 且数据库中不存在该用户，则自动创建
func EnsureAdminUser(store storage.UserStore, adminEmail, adminPassword string) error {
	if adminEmail == "" || adminPassword == "" {
		return nil
	}

	ctx := context.Background()
	existing, err := store.GetUserByEmail(ctx, strings.ToLower(adminEmail))
	if err == nil {
		log.Printf("[auth] Admin user already exists: %s (%s)", adminEmail, existing.ID)
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("check admin user: %w", err)
	}

	hash, err := HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           generateID(),
		Username:     "admin",
		Email:        strings.ToLower(adminEmail),
		PasswordHash: hash,
		IsActive:     true,
		IsAdmin:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	log.Printf("[auth] Created admin user: %s (%s)", adminEmail, user.ID)
	return nil
}

// ============================================================================
// 工具函数
// ============================================================================

func roleOf(u *model.User) string {
	if u.IsAdmin {
		return UserRoleAdmin
	}
	return "user"
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func isValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

func generateID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return "usr-" + hex.EncodeToString(b)
}

// generateResetToken 返回 (明文 token, sha256 hex)
func generateResetToken() (string, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token := hex.EncodeToString(b)
	hash := sha256.Sum256([]byte(token))
	return token, hex.EncodeToString(hash[:]), nil
}
