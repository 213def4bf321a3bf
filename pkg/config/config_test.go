package config

import (
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				App:        AppConfig{Name: "test-service"},
				HTTP:       HTTPConfig{Port: 8080},
				Log:        LogConfig{Level: "info"},
				ETA:        ETAConfig{Alpha: 0.3},
				Queue:      QueueConfig{PerShipmentCapacity: 64},
				Subscriber: SubscriberConfig{Buffer: 32},
			},
			wantErr: false,
		},
		{
			name: "missing app name",
			cfg: Config{
				HTTP:       HTTPConfig{Port: 8080},
				Log:        LogConfig{Level: "info"},
				ETA:        ETAConfig{Alpha: 0.3},
				Queue:      QueueConfig{PerShipmentCapacity: 64},
				Subscriber: SubscriberConfig{Buffer: 32},
			},
			wantErr: true,
		},
		{
			name: "invalid port - zero",
			cfg: Config{
				App:        AppConfig{Name: "test"},
				HTTP:       HTTPConfig{Port: 0},
				ETA:        ETAConfig{Alpha: 0.3},
				Queue:      QueueConfig{PerShipmentCapacity: 64},
				Subscriber: SubscriberConfig{Buffer: 32},
			},
			wantErr: true,
		},
		{
			name: "invalid port - too high",
			cfg: Config{
				App:        AppConfig{Name: "test"},
				HTTP:       HTTPConfig{Port: 70000},
				ETA:        ETAConfig{Alpha: 0.3},
				Queue:      QueueConfig{PerShipmentCapacity: 64},
				Subscriber: SubscriberConfig{Buffer: 32},
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			cfg: Config{
				App:        AppConfig{Name: "test"},
				HTTP:       HTTPConfig{Port: 8080},
				Log:        LogConfig{Level: "invalid"},
				ETA:        ETAConfig{Alpha: 0.3},
				Queue:      QueueConfig{PerShipmentCapacity: 64},
				Subscriber: SubscriberConfig{Buffer: 32},
			},
			wantErr: true,
		},
		{
			name: "valid debug level",
			cfg: Config{
				App:        AppConfig{Name: "test"},
				HTTP:       HTTPConfig{Port: 8080},
				Log:        LogConfig{Level: "debug"},
				ETA:        ETAConfig{Alpha: 0.3},
				Queue:      QueueConfig{PerShipmentCapacity: 64},
				Subscriber: SubscriberConfig{Buffer: 32},
			},
			wantErr: false,
		},
		{
			name: "invalid eta alpha",
			cfg: Config{
				App:        AppConfig{Name: "test"},
				HTTP:       HTTPConfig{Port: 8080},
				Log:        LogConfig{Level: "info"},
				ETA:        ETAConfig{Alpha: 1.5},
				Queue:      QueueConfig{PerShipmentCapacity: 64},
				Subscriber: SubscriberConfig{Buffer: 32},
			},
			wantErr: true,
		},
		{
			name: "missing queue capacity",
			cfg: Config{
				App:        AppConfig{Name: "test"},
				HTTP:       HTTPConfig{Port: 8080},
				Log:        LogConfig{Level: "info"},
				ETA:        ETAConfig{Alpha: 0.3},
				Subscriber: SubscriberConfig{Buffer: 32},
			},
			wantErr: true,
		},
		{
			name: "missing subscriber buffer",
			cfg: Config{
				App:   AppConfig{Name: "test"},
				HTTP:  HTTPConfig{Port: 8080},
				Log:   LogConfig{Level: "info"},
				ETA:   ETAConfig{Alpha: 0.3},
				Queue: QueueConfig{PerShipmentCapacity: 64},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"dev", true},
		{"production", false},
		{"staging", false},
	}

	for _, tt := range tests {
		cfg := &Config{App: AppConfig{Environment: tt.env}}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment() for %s = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"production", true},
		{"prod", true},
		{"development", false},
		{"staging", false},
	}

	for _, tt := range tests {
		cfg := &Config{App: AppConfig{Environment: tt.env}}
		if got := cfg.IsProduction(); got != tt.want {
			t.Errorf("IsProduction() for %s = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestServiceEndpoint_Address(t *testing.T) {
	endpoint := ServiceEndpoint{
		Host: "localhost",
		Port: 5601,
	}

	addr := endpoint.Address()
	if addr != "localhost:5601" {
		t.Errorf("expected 'localhost:5601', got %s", addr)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		cfg    DatabaseConfig
		expect string
	}{
		{
			name: "postgres",
			cfg: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				Database: "testdb",
				Username: "user",
				Password: "pass",
				SSLMode:  "disable",
			},
			expect: "host=localhost port=5432 user=user password=pass dbname=testdb sslmode=disable",
		},
		{
			name: "unknown",
			cfg: DatabaseConfig{
				Driver: "unknown",
			},
			expect: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := tt.cfg.DSN()
			if dsn != tt.expect {
				t.Errorf("expected DSN %s, got %s", tt.expect, dsn)
			}
		})
	}
}

func TestCacheConfig_Address(t *testing.T) {
	cfg := CacheConfig{
		Host: "redis.local",
		Port: 6379,
	}

	addr := cfg.Address()
	if addr != "redis.local:6379" {
		t.Errorf("expected 'redis.local:6379', got %s", addr)
	}
}

func TestCORSConfig(t *testing.T) {
	cfg := CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"http://localhost:3000", "https://example.com"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           86400,
	}

	if !cfg.Enabled {
		t.Error("expected CORS to be enabled")
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("expected 2 origins, got %d", len(cfg.AllowedOrigins))
	}
}

func TestRerouteConfig(t *testing.T) {
	cfg := RerouteConfig{MinSavingMin: 10}
	if cfg.MinSavingMin != 10 {
		t.Errorf("unexpected MinSavingMin: %v", cfg.MinSavingMin)
	}
}
