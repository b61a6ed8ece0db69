package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	MQTT       MQTTConfig
	Influx     InfluxConfig
	SMTP       SMTPConfig
	ServiceBus ServiceBusConfig
	Elastic    ElasticConfig
	NewRelic   NewRelicConfig
	Alerting   AlertingConfig
	Status     StatusConfig
	Ingest     IngestConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port int
	Mode string // debug, release, test
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// MQTTConfig holds the broker connection configuration
type MQTTConfig struct {
	BrokerURL         string
	ClientIDPrefix    string
	Username          string
	Password          string
	CleanSession      bool
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	KeepAlive         time.Duration
}

// InfluxConfig holds the time-series store configuration
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// SMTPConfig holds the outbound mail configuration
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// ServiceBusConfig holds the Azure Service Bus configuration for
// publishing alert events
type ServiceBusConfig struct {
	ConnectionString string
	QueueName        string
}

// ElasticConfig holds the Elasticsearch configuration for alert-log
// indexing
type ElasticConfig struct {
	URLs     []string
	Username string
	Password string
	Index    string
	Enabled  bool
}

// NewRelicConfig holds the New Relic configuration
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// AlertingConfig holds alert evaluation and dispatch settings
type AlertingConfig struct {
	CooldownMinutes int
}

// StatusConfig holds the device status sweep settings
type StatusConfig struct {
	SweepInterval time.Duration
	OfflineAfter  time.Duration
}

// IngestConfig holds the ingestion pipeline settings
type IngestConfig struct {
	Workers   int
	QueueSize int
}

// InitConfig initializes the configuration using Viper
func InitConfig(cfgFile string) error {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/telemetry-service")
		viper.SetConfigName("config")
	}

	// Environment overrides, e.g. TELEMETRY_MQTT_BROKERURL
	viper.SetEnvPrefix("TELEMETRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("No config file found, using defaults and environment variables")
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8094)
	viper.SetDefault("server.mode", "debug")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "telemetry")
	viper.SetDefault("database.password", "telemetry")
	viper.SetDefault("database.dbname", "telemetry_service_db")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("mqtt.brokerurl", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientidprefix", "telemetry-service")
	viper.SetDefault("mqtt.cleansession", true)
	viper.SetDefault("mqtt.connecttimeout", 10*time.Second)
	viper.SetDefault("mqtt.reconnectinterval", 5*time.Second)
	viper.SetDefault("mqtt.keepalive", 60*time.Second)

	viper.SetDefault("influx.url", "http://localhost:8086")
	viper.SetDefault("influx.org", "iotmon")
	viper.SetDefault("influx.bucket", "sensor_data")
	viper.SetDefault("influx.measurement", "sensor_data")

	viper.SetDefault("smtp.host", "localhost")
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.from", "alerts@iotmon.local")

	// No default connection string for security
	viper.SetDefault("servicebus.queuename", "alert-events")

	viper.SetDefault("elastic.urls", []string{"http://localhost:9200"})
	viper.SetDefault("elastic.index", "alert-logs")
	viper.SetDefault("elastic.enabled", false)

	viper.SetDefault("newrelic.appname", "Telemetry Service Local")
	viper.SetDefault("newrelic.enabled", false)

	viper.SetDefault("alerting.cooldownminutes", 5)

	viper.SetDefault("status.sweepinterval", time.Minute)
	viper.SetDefault("status.offlineafter", 5*time.Minute)

	viper.SetDefault("ingest.workers", 8)
	viper.SetDefault("ingest.queuesize", 1024)
}

// Load loads the configuration
func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: viper.GetInt("server.port"),
			Mode: viper.GetString("server.mode"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetInt("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		MQTT: MQTTConfig{
			BrokerURL:         viper.GetString("mqtt.brokerurl"),
			ClientIDPrefix:    viper.GetString("mqtt.clientidprefix"),
			Username:          viper.GetString("mqtt.username"),
			Password:          viper.GetString("mqtt.password"),
			CleanSession:      viper.GetBool("mqtt.cleansession"),
			ConnectTimeout:    viper.GetDuration("mqtt.connecttimeout"),
			ReconnectInterval: viper.GetDuration("mqtt.reconnectinterval"),
			KeepAlive:         viper.GetDuration("mqtt.keepalive"),
		},
		Influx: InfluxConfig{
			URL:         viper.GetString("influx.url"),
			Token:       viper.GetString("influx.token"),
			Org:         viper.GetString("influx.org"),
			Bucket:      viper.GetString("influx.bucket"),
			Measurement: viper.GetString("influx.measurement"),
		},
		SMTP: SMTPConfig{
			Host:     viper.GetString("smtp.host"),
			Port:     viper.GetInt("smtp.port"),
			Username: viper.GetString("smtp.username"),
			Password: viper.GetString("smtp.password"),
			From:     viper.GetString("smtp.from"),
		},
		ServiceBus: ServiceBusConfig{
			ConnectionString: viper.GetString("servicebus.connectionstring"),
			QueueName:        viper.GetString("servicebus.queuename"),
		},
		Elastic: ElasticConfig{
			URLs:     viper.GetStringSlice("elastic.urls"),
			Username: viper.GetString("elastic.username"),
			Password: viper.GetString("elastic.password"),
			Index:    viper.GetString("elastic.index"),
			Enabled:  viper.GetBool("elastic.enabled"),
		},
		NewRelic: NewRelicConfig{
			AppName:    viper.GetString("newrelic.appname"),
			LicenseKey: viper.GetString("newrelic.licensekey"),
			Enabled:    viper.GetBool("newrelic.enabled"),
		},
		Alerting: AlertingConfig{
			CooldownMinutes: viper.GetInt("alerting.cooldownminutes"),
		},
		Status: StatusConfig{
			SweepInterval: viper.GetDuration("status.sweepinterval"),
			OfflineAfter:  viper.GetDuration("status.offlineafter"),
		},
		Ingest: IngestConfig{
			Workers:   viper.GetInt("ingest.workers"),
			QueueSize: viper.GetInt("ingest.queuesize"),
		},
	}, nil
}
