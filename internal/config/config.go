package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the router service.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	NATS struct {
		URL            string             `mapstructure:"url"`
		Inbound        ConsumerNatsConfig `mapstructure:"inbound"`
		RealtimePrefix string             `mapstructure:"realtimePrefix"` // realtime.<company>.<event>
		OutboundPrefix string             `mapstructure:"outboundPrefix"` // outbound.<company>.<channel>
		DLQStream      string             `mapstructure:"dlqStream"`
		DLQSubject     string             `mapstructure:"dlqSubject"`
		DLQConsumer    string             `mapstructure:"dlqConsumer"`
		DLQWorkers     int                `mapstructure:"dlqWorkers"`
		DLQBaseDelay   time.Duration      `mapstructure:"dlqBaseDelay"`
		DLQMaxDelay    time.Duration      `mapstructure:"dlqMaxDelay"`
		DLQMaxDeliver  int                `mapstructure:"dlqMaxDeliver"`
		DLQAckWait     time.Duration      `mapstructure:"dlqAckWait"`
		DLQMaxAge      time.Duration      `mapstructure:"dlqMaxAge"`
		DLQFetchBatch  int                `mapstructure:"dlqFetchBatch"`
		ConnectTimeout time.Duration      `mapstructure:"connectTimeout"`
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Company struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"company"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Chatbot   ChatbotConfig   `mapstructure:"chatbot"`
	AI        AIConfig        `mapstructure:"ai"`
	Campaign  CampaignConfig  `mapstructure:"campaign"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Twilio    TwilioConfig    `mapstructure:"twilio"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
}

// ConsumerNatsConfig holds the JetStream consumer settings for one stream.
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // days
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"`
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"`
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`
}

// RoutingConfig controls bot eligibility and per-conversation serialization.
type RoutingConfig struct {
	LockTimeout   time.Duration       `mapstructure:"lockTimeout"`
	BusinessHours BusinessHoursConfig `mapstructure:"businessHours"`
}

// BusinessHoursConfig describes the staffed window. Days use time.Weekday numbering.
type BusinessHoursConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Timezone string `mapstructure:"timezone"`
	Days     []int  `mapstructure:"days"`
	Start    string `mapstructure:"start"` // HH:MM
	End      string `mapstructure:"end"`   // HH:MM
}

type ChatbotConfig struct {
	HistoryLimit       int           `mapstructure:"historyLimit"`
	AITimeout          time.Duration `mapstructure:"aiTimeout"`
	EscalationKeywords []string      `mapstructure:"escalationKeywords"`
	DefaultLanguage    string        `mapstructure:"defaultLanguage"`
}

type AIConfig struct {
	BaseURL   string `mapstructure:"baseURL"`
	APIKey    string `mapstructure:"apiKey"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"maxTokens"`
}

// CampaignConfig sets the broadcast pacing.
type CampaignConfig struct {
	BatchSize     int           `mapstructure:"batchSize"`
	MessageDelay  time.Duration `mapstructure:"messageDelay"`
	BatchDelay    time.Duration `mapstructure:"batchDelay"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
	PoolSize      int           `mapstructure:"poolSize"`
	ExpiryTime    time.Duration `mapstructure:"expiryTime"`
}

type PresenceConfig struct {
	Shards int `mapstructure:"shards"`
}

type WhatsAppConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	StoreDSN string `mapstructure:"storeDSN"`
	LogLevel string `mapstructure:"logLevel"`
}

type TwilioConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	AccountSID     string `mapstructure:"accountSID"`
	AuthToken      string `mapstructure:"authToken"`
	From           string `mapstructure:"from"`
	StatusCallback string `mapstructure:"statusCallback"`
}

// RateLimitConfig is applied per (channel, account) pair.
type RateLimitConfig struct {
	PerSecond float64       `mapstructure:"perSecond"`
	Burst     int           `mapstructure:"burst"`
	MaxWait   time.Duration `mapstructure:"maxWait"`
}

// LoadConfig reads default.yaml from path or the standard locations, then
// applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("default")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, Config{})

	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		v.Set("logLevel", lvl)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if company := os.Getenv("COMPANY_ID"); company != "" {
		v.Set("company.id", company)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.connectTimeout", 30*time.Second)
	v.SetDefault("nats.inbound.stream", "conversation_events_stream")
	v.SetDefault("nats.inbound.consumer", "conversation_router")
	v.SetDefault("nats.inbound.group", "conversation_router_group")
	v.SetDefault("nats.inbound.subjectList", []string{"v1.>"})
	v.SetDefault("nats.inbound.maxAge", 7)
	v.SetDefault("nats.inbound.maxDeliver", 5)
	v.SetDefault("nats.inbound.nakBaseDelay", time.Second)
	v.SetDefault("nats.inbound.nakMaxDelay", time.Minute)
	v.SetDefault("nats.realtimePrefix", "realtime")
	v.SetDefault("nats.outboundPrefix", "outbound")
	v.SetDefault("nats.dlqStream", "conversation_dlq_stream")
	v.SetDefault("nats.dlqSubject", "dlq")
	v.SetDefault("nats.dlqConsumer", "conversation_dlq_worker")
	v.SetDefault("nats.dlqWorkers", 4)
	v.SetDefault("nats.dlqBaseDelay", time.Minute)
	v.SetDefault("nats.dlqMaxDelay", 15*time.Minute)
	v.SetDefault("nats.dlqMaxDeliver", 10)
	v.SetDefault("nats.dlqAckWait", 30*time.Second)
	v.SetDefault("nats.dlqMaxAge", 7*24*time.Hour)
	v.SetDefault("nats.dlqFetchBatch", 10)

	v.SetDefault("database.postgresAutoMigrate", true)

	v.SetDefault("routing.lockTimeout", 10*time.Second)
	v.SetDefault("routing.businessHours.enabled", false)
	v.SetDefault("routing.businessHours.timezone", "UTC")
	v.SetDefault("routing.businessHours.days", []int{1, 2, 3, 4, 5})
	v.SetDefault("routing.businessHours.start", "09:00")
	v.SetDefault("routing.businessHours.end", "18:00")

	v.SetDefault("chatbot.historyLimit", 10)
	v.SetDefault("chatbot.aiTimeout", 15*time.Second)
	v.SetDefault("chatbot.defaultLanguage", "en")
	v.SetDefault("chatbot.escalationKeywords", DefaultEscalationKeywords)

	v.SetDefault("ai.baseURL", "https://api.anthropic.com")
	v.SetDefault("ai.model", "claude-3-5-haiku-latest")
	v.SetDefault("ai.maxTokens", 512)

	v.SetDefault("campaign.batchSize", 10)
	v.SetDefault("campaign.messageDelay", 2*time.Second)
	v.SetDefault("campaign.batchDelay", 30*time.Second)
	v.SetDefault("campaign.sweepInterval", time.Minute)
	v.SetDefault("campaign.poolSize", 4)
	v.SetDefault("campaign.expiryTime", time.Minute)

	v.SetDefault("presence.shards", 32)

	v.SetDefault("whatsapp.enabled", false)
	v.SetDefault("whatsapp.storeDSN", "file:whatsapp.db?_foreign_keys=on")
	v.SetDefault("whatsapp.logLevel", "warn")

	v.SetDefault("rateLimit.perSecond", 1.0)
	v.SetDefault("rateLimit.burst", 5)
	v.SetDefault("rateLimit.maxWait", 5*time.Second)
}

// DefaultEscalationKeywords force a human handoff when found in either side
// of a bot exchange.
var DefaultEscalationKeywords = []string{
	"agent", "human", "supervisor", "manager", "complaint", "urgent",
	"atendente", "humano", "reclamação", "gerente",
}

// bindEnvs walks the struct tags so nested keys can be overridden with
// env vars such as CAMPAIGN_BATCHSIZE.
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		field := ift.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		path := append(append([]string{}, parts...), tag)
		if field.Type.Kind() == reflect.Struct {
			bindEnvs(v, ifv.Field(i).Interface(), path...)
			continue
		}
		_ = v.BindEnv(strings.Join(path, "."))
	}
}
