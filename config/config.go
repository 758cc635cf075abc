package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Settings struct {
	Env  string `mapstructure:"APP_ENV"`
	Port string `mapstructure:"APP_PORT"`

	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     int    `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	DBSeed     bool   `mapstructure:"DB_SEED"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`

	JWTSecret   string `mapstructure:"JWT_SECRET"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	SeatLockTTL          time.Duration `mapstructure:"SEAT_LOCK_TTL"`
	BookingHoldTTL       time.Duration `mapstructure:"BOOKING_HOLD_TTL"`
	PaymentHoldTTL       time.Duration `mapstructure:"PAYMENT_HOLD_TTL"`
	MaxSeatsPerHolder    int           `mapstructure:"MAX_SEATS_PER_HOLDER"`
	SweepInterval        time.Duration `mapstructure:"SWEEP_INTERVAL"`
	BookingSweepInterval time.Duration `mapstructure:"BOOKING_SWEEP_INTERVAL"`
	ReconcileInterval    time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	ReconcileAfter       time.Duration `mapstructure:"RECONCILE_AFTER"`
	ArchiveSchedule      string        `mapstructure:"ARCHIVE_SCHEDULE"`
	ArchiveRetention     time.Duration `mapstructure:"ARCHIVE_RETENTION"`

	VNPTmnCode    string `mapstructure:"VNP_TMNCODE"`
	VNPHashSecret string `mapstructure:"VNP_HASHSECRET"`
	VNPURL        string `mapstructure:"VNP_URL"`
	VNPApiURL     string `mapstructure:"VNP_API_URL"`
	AppURL        string `mapstructure:"APP_URL"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
}

var defaults = map[string]any{
	"APP_ENV":    "dev",
	"APP_PORT":   "8002",
	"DB_HOST":    "localhost",
	"DB_PORT":    5432,
	"DB_USER":    "postgres",
	"DB_NAME":    "trip_booking",
	"DB_SSLMODE": "disable",
	"DB_SEED":    false,

	"REDIS_ADDR":   "",
	"REDIS_DB":     0,
	"RABBITMQ_URL": "",
	"CORS_ORIGINS": "http://localhost:5173",

	"SEAT_LOCK_TTL":          10 * time.Minute,
	"BOOKING_HOLD_TTL":       15 * time.Minute,
	"PAYMENT_HOLD_TTL":       15 * time.Minute,
	"MAX_SEATS_PER_HOLDER":   8,
	"SWEEP_INTERVAL":         30 * time.Second,
	"BOOKING_SWEEP_INTERVAL": time.Minute,
	"RECONCILE_INTERVAL":     2 * time.Minute,
	"RECONCILE_AFTER":        20 * time.Minute,
	"ARCHIVE_SCHEDULE":       "0 3 * * *",
	"ARCHIVE_RETENTION":      7 * 24 * time.Hour,

	"VNP_URL":     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
	"VNP_API_URL": "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction",
	"APP_URL":     "http://localhost:8002",
	"SMTP_PORT":   587,
}

// Load reads .env (when present) and the process environment into Settings.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range []string{"DB_PASSWORD", "REDIS_PASSWORD", "JWT_SECRET", "VNP_TMNCODE", "VNP_HASHSECRET",
		"SMTP_HOST", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM"} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) IsDev() bool {
	return s.Env == "dev" || s.Env == ""
}
