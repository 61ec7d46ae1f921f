package config

import (
	"testing"
	"time"
)

func baseConfig(env string) Config {
	return Config{
		App:   AppConfig{Env: env, Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "avalo", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
		Kafka: KafkaConfig{Brokers: []string{"localhost:9092"}},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := baseConfig("production")
	c.applyDefaults()
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestDefaults_LocalFillsLedgerAndPolicy(t *testing.T) {
	c := baseConfig("local")
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Ledger.PlatformAccountID != "avalo" || c.Ledger.TxMaxAttempts != 4 {
		t.Fatalf("ledger defaults missing: %+v", c.Ledger)
	}
	if c.Purchase.MaxPerWindow != 10 || c.Purchase.Window != time.Minute {
		t.Fatalf("purchase defaults missing: %+v", c.Purchase)
	}
	if c.Payout.MinTokens != 100 || c.Payout.Currency != "EUR" {
		t.Fatalf("payout defaults missing: %+v", c.Payout)
	}
}

func TestValidate_RejectsBadFeePercent(t *testing.T) {
	c := baseConfig("local")
	c.applyDefaults()
	c.Payout.FeePercent = 150
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for fee percent above 100")
	}
}
