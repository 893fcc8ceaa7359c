package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/weiawesome/wes-chat/internal/idgen"
	"github.com/weiawesome/wes-chat/internal/repository"
	pkgconfig "github.com/weiawesome/wes-chat/pkg/config"
	"github.com/weiawesome/wes-chat/pkg/database"
	"github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/pubsub"
)

// ServiceName identifies the gateway in logs and health checks.
const ServiceName = "chat-gateway"

// DriverCassandra selects the Cassandra message store.
const DriverCassandra = "cassandra"

// History cache drivers.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
	CacheNone   = "none"
)

type Config struct {
	Env       string
	Instance  InstanceConfig
	Server    ServerConfig
	GRPC      GRPCConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Chat      ChatConfig
	ID        idgen.Config
	Database  database.Config
	Cassandra repository.CassandraConfig
	PubSub    pubsub.Config
	Redis     RedisConfig
	Cache     CacheConfig
	Registry  RegistryConfig
	Health    HealthConfig
	Log       log.Config
}

type InstanceConfig struct {
	ID string
}

type ServerConfig struct {
	Host string
	Port int
}

type GRPCConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	InboundBuffer  int           `mapstructure:"inbound_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type ChatConfig struct {
	MessageMaxLen int `mapstructure:"message_max_len"`
}

// RedisConfig is the shared client used by the history cache and the
// instance registry.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type CacheConfig struct {
	Driver string
	TTL    time.Duration
	Prefix string
}

type RegistryConfig struct {
	Enabled           bool
	Prefix            string
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
}

type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

var envBindings = map[string]string{
	"env":                       "APP_ENV",
	"instance.id":               "INSTANCE_ID",
	"server.port":               "PORT",
	"grpc.port":                 "GRPC_PORT",
	"websocket.allowed_origins": "CORS_ORIGIN",
	"auth.jwt_secret":           "JWT_SECRET",
	"auth.issuer":               "JWT_ISSUER",
	"auth.token_ttl":            "JWT_TOKEN_TTL",
	"chat.message_max_len":      "MESSAGE_MAX_LEN",
	"id.strategy":               "ID_STRATEGY",
	"id.snowflake.machine_id":   "SNOWFLAKE_MACHINE_ID",
	"database.driver":           "DB_DRIVER",
	"database.host":             "DB_HOST",
	"database.port":             "DB_PORT",
	"database.user":             "DB_USER",
	"database.password":         "DB_PASSWORD",
	"database.dbname":           "DB_NAME",
	"database.sslmode":          "DB_SSLMODE",
	"database.file_path":        "DB_FILE_PATH",
	"cassandra.hosts":           "CASSANDRA_HOSTS",
	"cassandra.keyspace":        "CASSANDRA_KEYSPACE",
	"pubsub.driver":             "PUBSUB_DRIVER",
	"pubsub.redis.address":      "REDIS_ADDRESS",
	"pubsub.redis.password":     "REDIS_PASSWORD",
	"pubsub.kafka.brokers":      "KAFKA_BROKERS",
	"pubsub.kafka.topic":        "KAFKA_TOPIC",
	"redis.address":             "REDIS_ADDRESS",
	"redis.password":            "REDIS_PASSWORD",
	"cache.driver":              "CACHE_DRIVER",
	"registry.enabled":          "REGISTRY_ENABLED",
	"log.level":                 "LOG_LEVEL",
	"log.pretty":                "LOG_PRETTY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("instance.id", "")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4000)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50060)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 16384)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.inbound_buffer", 64)
	v.SetDefault("websocket.allowed_origins", []string{})
	v.SetDefault("auth.jwt_secret", "dev_secret_change_me")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.token_ttl", "2h")
	v.SetDefault("chat.message_max_len", 2000)

	ids := idgen.DefaultConfig()
	v.SetDefault("id.strategy", ids.Strategy)
	v.SetDefault("id.snowflake.machine_id", ids.Snowflake.MachineID)
	v.SetDefault("id.snowflake.epoch", ids.Snowflake.Epoch)
	v.SetDefault("id.nanoid.size", ids.NanoID.Size)
	v.SetDefault("id.nanoid.alphabet", ids.NanoID.Alphabet)
	v.SetDefault("id.cuid2.length", ids.CUID2.Length)

	v.SetDefault("database.driver", database.DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "chat")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")
	v.SetDefault("database.file_path", "chat.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("cassandra.hosts", []string{"localhost"})
	v.SetDefault("cassandra.keyspace", "chat")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.connect_timeout", "5s")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("cassandra.num_conns", 2)

	ps := pubsub.DefaultConfig()
	v.SetDefault("pubsub.driver", ps.Driver)
	v.SetDefault("pubsub.redis.address", ps.Redis.Address)
	v.SetDefault("pubsub.redis.password", ps.Redis.Password)
	v.SetDefault("pubsub.redis.db", ps.Redis.DB)
	v.SetDefault("pubsub.redis.pool_size", ps.Redis.PoolSize)
	v.SetDefault("pubsub.redis.read_timeout", ps.Redis.ReadTimeout.String())
	v.SetDefault("pubsub.redis.write_timeout", ps.Redis.WriteTimeout.String())
	v.SetDefault("pubsub.kafka.brokers", ps.Kafka.Brokers)
	v.SetDefault("pubsub.kafka.topic", ps.Kafka.Topic)
	v.SetDefault("pubsub.kafka.group_id", ps.Kafka.GroupID)
	v.SetDefault("pubsub.kafka.partitions", ps.Kafka.Partitions)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.driver", CacheRedis)
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("cache.prefix", "chat:history")
	v.SetDefault("registry.enabled", true)
	v.SetDefault("registry.prefix", "chat:registry")
	v.SetDefault("registry.heartbeat_interval", "10s")
	v.SetDefault("registry.key_ttl", "30s")
	v.SetDefault("health.check_interval", "15s")
	v.SetDefault("health.probe_timeout", "3s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads ./config/config.yaml (optional), .env and the environment.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper applies defaults and env bindings to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	if err := pkgconfig.BindEnvs(v, envBindings); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Instance.ID == "" {
		cfg.Instance.ID = defaultInstanceID()
	}
	cfg.Log.ServiceName = ServiceName
	cfg.Log.InstanceID = cfg.Instance.ID

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Chat.MessageMaxLen <= 0 {
		return fmt.Errorf("chat.message_max_len must be positive, got %d", c.Chat.MessageMaxLen)
	}
	switch c.Database.Driver {
	case database.DriverPostgres, database.DriverMySQL, database.DriverSQLite, DriverCassandra:
	default:
		return fmt.Errorf("unsupported database.driver: %s", c.Database.Driver)
	}
	switch c.PubSub.Driver {
	case pubsub.DriverRedis, pubsub.DriverKafka, pubsub.DriverMemory:
	default:
		return fmt.Errorf("unsupported pubsub.driver: %s", c.PubSub.Driver)
	}
	switch c.Cache.Driver {
	case CacheRedis, CacheMemory, CacheNone:
	default:
		return fmt.Errorf("unsupported cache.driver: %s", c.Cache.Driver)
	}
	if c.WebSocket.SendBuffer <= 0 || c.WebSocket.InboundBuffer <= 0 {
		return fmt.Errorf("websocket buffers must be positive")
	}
	return nil
}

// NeedsRedis reports whether any enabled component uses the shared client.
func (c *Config) NeedsRedis() bool {
	return c.Cache.Driver == CacheRedis || c.Registry.Enabled
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gateway"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
