// Package config loads quotagate configuration.
//
// Values come from three layers, later layers winning:
//
//  1. built-in defaults (Default)
//  2. an optional YAML file named by QUOTAGATE_CONFIG_FILE
//  3. QUOTAGATE_* environment variables, including any set by a .env file
//     in the working directory
//
// Common settings:
//
//	QUOTAGATE_PORT="8000"
//	QUOTAGATE_HEALTH_PORT="9090"
//	QUOTAGATE_APP_URL="https://app.example.com"
//	QUOTAGATE_DATABASE_URL="postgres://quotagate@db/quotagate?sslmode=disable"
//	QUOTAGATE_REDIS_URL="redis://localhost:6379/0"
//	QUOTAGATE_JWT_SECRET="..."
//	QUOTAGATE_MOMO_SECRET_KEY="..."
//	QUOTAGATE_MOMO_MIN_TOPUP="10000"
//	QUOTAGATE_PREDICT_URL="http://model:8501/predict"
//	QUOTAGATE_LOG_LEVEL="info"  # debug, info, warn, error
//
// The same settings in YAML:
//
//	server:
//	  port: "8000"
//	  app_url: https://app.example.com
//	database:
//	  url: postgres://quotagate@db/quotagate?sslmode=disable
//	momo:
//	  min_topup: 10000
//	  timeout: 30s
//
// The default JWT secret is rejected unless QUOTAGATE_DEBUG is set.
package config
