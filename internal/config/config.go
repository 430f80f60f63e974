// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（密钥、密码）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Redis     RedisConfig     `yaml:"redis"`
	Minio     MinioConfig     `yaml:"minio"`
	Auth      AuthConfig      `yaml:"auth"`
	Points    PointsConfig    `yaml:"points"`
	Swaps     SwapsConfig     `yaml:"swaps"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type MongoConfig struct {
	URI  string `yaml:"uri"`
	Name string `yaml:"name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
}

type MinioConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	UseSSL   bool   `yaml:"use_ssl"`
}

// AuthConfig JWT 令牌配置，密钥只从环境变量读取
type AuthConfig struct {
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	ResetTTL   time.Duration `yaml:"reset_ttl"`
}

// PointsConfig 积分规则配置
type PointsConfig struct {
	WelcomeBonus int `yaml:"welcome_bonus"`
	UploadReward int `yaml:"upload_reward"`
}

// SwapsConfig 交换请求配置
type SwapsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RateLimitConfig /api/ 限流配置
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env       Environment
	APIPort   string
	MongoURI  string
	MongoName string
	RedisURL  string
	Minio     MinioSettings
	JWTSecret string
	Auth      AuthConfig
	Points    PointsConfig
	Swaps     SwapsConfig
	RateLimit RateLimitConfig
}

// MinioSettings 对象存储连接参数
type MinioSettings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	// 加载 .env
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	// 解析环境
	env := parseEnv(getEnv("APP_ENV", "dev"))

	// 加载 YAML 配置
	yamlCfg := loadYAMLConfig(env)

	// 构建最终配置
	cfg := &Config{
		Env:       env,
		APIPort:   getEnv("PORT", yamlCfg.Server.Port),
		MongoURI:  getEnv("MONGO_URI", yamlCfg.Mongo.URI),
		MongoName: getEnv("MONGO_DB", yamlCfg.Mongo.Name),
		RedisURL:  buildRedisURL(yamlCfg.Redis),
		Minio: MinioSettings{
			Endpoint:  getEnv("MINIO_ENDPOINT", yamlCfg.Minio.Endpoint),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    yamlCfg.Minio.Bucket,
			UseSSL:    yamlCfg.Minio.UseSSL,
		},
		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),
		Auth:      yamlCfg.Auth,
		Points:    yamlCfg.Points,
		Swaps:     yamlCfg.Swaps,
		RateLimit: yamlCfg.RateLimit,
	}

	cfg.validate()
	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	// 1. 初始化默认值
	cfg := &YAMLConfig{
		Server: ServerConfig{Port: "8080"},
		Mongo:  MongoConfig{URI: "mongodb://localhost:27017", Name: "rewear"},
		Redis:  RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Minio:  MinioConfig{Endpoint: "localhost:9000", Bucket: "rewear-images"},
		Auth: AuthConfig{
			AccessTTL:  24 * time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
			ResetTTL:   10 * time.Minute,
		},
		Points:    PointsConfig{WelcomeBonus: 100, UploadReward: 5},
		Swaps:     SwapsConfig{TTL: 7 * 24 * time.Hour, SweepInterval: 10 * time.Minute},
		RateLimit: RateLimitConfig{Window: 15 * time.Minute, MaxRequests: 100},
	}

	// 2. 加载 common.yaml（公共配置）
	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	// 3. 加载 {env}.yaml（环境特定配置，覆盖公共配置）
	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// buildRedisURL 构建 Redis 连接字符串
func buildRedisURL(redis RedisConfig) string {
	return fmt.Sprintf("redis://%s:%d/%d", redis.Host, redis.Port, redis.DB)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏凭证）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Mongo: %s/%s, Redis: %s, Minio: %s}",
		c.Env, maskPassword(c.MongoURI), c.MongoName, c.RedisURL, c.Minio.Endpoint)
}

// maskPassword 隐藏连接串中的密码
func maskPassword(url string) string {
	re := regexp.MustCompile(`(://[^:/@]+:)([^@]+)(@)`)
	return re.ReplaceAllString(url, "${1}***${3}")
}

// validate 填充缺省值
func (c *Config) validate() {
	if c.Auth.AccessTTL == 0 {
		c.Auth.AccessTTL = 24 * time.Hour
	}
	if c.Auth.RefreshTTL == 0 {
		c.Auth.RefreshTTL = 7 * 24 * time.Hour
	}
	if c.Auth.ResetTTL == 0 {
		c.Auth.ResetTTL = 10 * time.Minute
	}
	if c.Points.WelcomeBonus == 0 {
		c.Points.WelcomeBonus = 100
	}
	if c.Points.UploadReward == 0 {
		c.Points.UploadReward = 5
	}
	if c.Swaps.TTL == 0 {
		c.Swaps.TTL = 7 * 24 * time.Hour
	}
	if c.Swaps.SweepInterval == 0 {
		c.Swaps.SweepInterval = 10 * time.Minute
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = 15 * time.Minute
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 100
	}
}
