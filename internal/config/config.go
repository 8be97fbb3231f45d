package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// Sensor connection
	I2CDriver string
	I2CBus    string
	I2CAddr   uint16
	IRQPin    string

	// Engine
	PollInterval  time.Duration
	ALSPolling    bool
	PSPolling     bool
	ALSReportType string

	// Calibration storage
	CalibrationStore   string
	CalibrationFile    string
	CalibrationALSFile string

	// Service
	DBPath   string
	HTTPPort string
	SSL      bool
	LogLevel string
	LogFile  string

	// MQTT publishing, disabled when the broker is empty
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	// ClickHouse archive, disabled when the address is empty
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		I2CDriver: strings.ToLower(getEnv("I2C_DRIVER", "periph")),
		I2CBus:    getEnv("I2C_BUS", ""),
		I2CAddr:   getEnvUint16("I2C_ADDR", 0x49),
		IRQPin:    getEnv("IRQ_PIN", ""),

		PollInterval:  getEnvDuration("POLL_INTERVAL", 200*time.Millisecond),
		ALSPolling:    getEnvBool("ALS_POLLING", true),
		PSPolling:     getEnvBool("PS_POLLING", false),
		ALSReportType: getEnv("ALS_REPORT_TYPE", "adaptive"),

		CalibrationStore:   strings.ToLower(getEnv("CALIBRATION_STORE", "sqlite")),
		CalibrationFile:    getEnv("CALIBRATION_FILE", "ps.dat"),
		CalibrationALSFile: getEnv("CALIBRATION_ALS_FILE", "als.dat"),

		DBPath:   getEnv("DB_PATH", "alspsmeter.db"),
		HTTPPort: getEnv("HTTP_PORT", ""),
		SSL:      getEnvBool("SSL", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", "alsps.log"),

		MQTTBroker:      getEnv("MQTT_BROKER", ""),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "alsps-meter"),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "alsps"),

		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "alsps"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),
	}
}

// Port returns the listen port, defaulting on the TLS setting.
func (c *Config) Port() string {
	if c.HTTPPort != "" {
		return c.HTTPPort
	}
	if c.SSL {
		return "443"
	}
	return "80"
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		logrus.Warnf("failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		logrus.Warnf("failed to parse %s as a positive duration, using default: %v", key, err)
		return defaultValue
	}
	return d
}

// getEnvUint16 accepts decimal or 0x-prefixed hex.
func getEnvUint16(key string, defaultValue uint16) uint16 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	v, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		logrus.Warnf("failed to parse %s as uint16, using default: %v", key, err)
		return defaultValue
	}
	return uint16(v)
}
