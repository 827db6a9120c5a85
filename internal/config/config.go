package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Upstream vendor API.
	APIBaseURL    string        `env:"KIA_BMTC_API_URL" envDefault:"https://bmtcmobileapi.karnataka.gov.in/WebAPI"`
	QueryInterval int           `env:"KIA_QUERY_INTERVAL" envDefault:"5"` // minutes between probes
	QueryAmount   int           `env:"KIA_QUERY_AMOUNT" envDefault:"2"`   // probes before/after trip start
	FetchTimeout  time.Duration `env:"KIA_FETCH_TIMEOUT" envDefault:"10s"`

	// Local paths.
	InDir  string `env:"IN_DIR" envDefault:"./in"`
	OutDir string `env:"OUT_DIR" envDefault:"./out"`
	DBPath string `env:"DB_PATH" envDefault:"./db/live_data.db"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:59966"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
