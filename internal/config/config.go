package config

import (
	"time"

	pkgconfig "github.com/weiawesome/wes-io-talk/pkg/config"
	"github.com/weiawesome/wes-io-talk/pkg/database"
	"github.com/weiawesome/wes-io-talk/pkg/log"
	"github.com/weiawesome/wes-io-talk/pkg/pubsub"
	"github.com/weiawesome/wes-io-talk/pkg/storage"
)

type Config struct {
	Server      ServerConfig
	GRPC        GRPCConfig
	WebSocket   WebSocketConfig
	Auth        AuthConfig
	Call        CallConfig
	Persistence PersistenceConfig
	Mongo       MongoConfig
	Cassandra   CassandraConfig
	Database    database.Config
	Redis       RedisConfig
	Events      pubsub.Config
	Storage     storage.Config
	Upload      UploadConfig
	WebRTC      WebRTCConfig
	Log         log.Config
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
}

type AuthConfig struct {
	Mode     string        // jwt, query
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type CallConfig struct {
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
}

type PersistenceConfig struct {
	Driver       string // memory, mongo, cassandra, sql
	HistoryLimit int    `mapstructure:"history_limit"`
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Consistency string
	Username    string
	Password    string
	Timeout     time.Duration
}

type RedisConfig struct {
	Enabled           bool
	Address           string
	Password          string
	DB                int
	PresencePrefix    string        `mapstructure:"presence_prefix"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
}

type UploadConfig struct {
	MaxImageBytes int64         `mapstructure:"max_image_bytes"`
	MaxDimension  int           `mapstructure:"max_dimension"` // larger png/jpeg images are downscaled
	URLExpiry     time.Duration `mapstructure:"url_expiry"`
}

type WebRTCConfig struct {
	STUNServers    []string `mapstructure:"stun_servers"`
	TURNServers    []string `mapstructure:"turn_servers"`
	TURNUsername   string   `mapstructure:"turn_username"`
	TURNCredential string   `mapstructure:"turn_credential"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50060)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8<<20)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("auth.mode", "jwt")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("call.ring_timeout", "45s")
	v.SetDefault("persistence.driver", "memory")
	v.SetDefault("persistence.history_limit", 200)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "talk")
	v.SetDefault("mongo.collection", "messages")
	v.SetDefault("mongo.timeout", "10s")
	v.SetDefault("cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("cassandra.keyspace", "talk")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.timeout", "10s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "./data/talk.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.presence_prefix", "talk:presence")
	v.SetDefault("redis.heartbeat_interval", "10s")
	v.SetDefault("redis.key_ttl", "30s")
	v.SetDefault("events.driver", "none")
	v.SetDefault("events.kafka.brokers", "localhost:9092")
	v.SetDefault("events.kafka.partitions", 4)
	v.SetDefault("events.redis.address", "localhost:6379")
	v.SetDefault("events.redis.channel_prefix", "talk:events")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_path", "./data/uploads")
	v.SetDefault("storage.local.url_prefix", "/uploads")
	v.SetDefault("upload.max_image_bytes", 5<<20)
	v.SetDefault("upload.max_dimension", 2048)
	v.SetDefault("upload.url_expiry", "168h")
	v.SetDefault("webrtc.stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "talk-service")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("grpc.port", "GRPC_PORT")
	v.BindEnv("auth.mode", "AUTH_MODE")
	v.BindEnv("auth.secret", "JWT_SECRET")
	v.BindEnv("call.ring_timeout", "CALL_RING_TIMEOUT")
	v.BindEnv("persistence.driver", "PERSISTENCE_DRIVER")
	v.BindEnv("mongo.uri", "MONGO_URI")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("events.driver", "EVENTS_DRIVER")
	v.BindEnv("events.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("storage.backend", "STORAGE_BACKEND")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Auth.TokenTTL = pkgconfig.Duration(v, "auth.token_ttl", 24*time.Hour)
	cfg.Call.RingTimeout = pkgconfig.Duration(v, "call.ring_timeout", 45*time.Second)
	cfg.Mongo.Timeout = pkgconfig.Duration(v, "mongo.timeout", 10*time.Second)
	cfg.Cassandra.Timeout = pkgconfig.Duration(v, "cassandra.timeout", 10*time.Second)
	cfg.Database.ConnMaxLifetime = pkgconfig.Duration(v, "database.conn_max_lifetime", time.Hour)
	cfg.Redis.HeartbeatInterval = pkgconfig.Duration(v, "redis.heartbeat_interval", 10*time.Second)
	cfg.Redis.KeyTTL = pkgconfig.Duration(v, "redis.key_ttl", 30*time.Second)
	cfg.Upload.URLExpiry = pkgconfig.Duration(v, "upload.url_expiry", 168*time.Hour)

	return &cfg, nil
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return joinHostPort(s.Host, s.Port)
}

// Addr returns host:port.
func (g GRPCConfig) Addr() string {
	return joinHostPort(g.Host, g.Port)
}
