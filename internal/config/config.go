// Package config loads process settings from the environment.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type App struct {
	// HTTP
	Addr           string        `envconfig:"DRIVESHARE_ADDR" default:":8080"`
	RequestTimeout time.Duration `envconfig:"DRIVESHARE_REQUEST_TIMEOUT" default:"5s"`

	// SQLite
	DBPath       string        `envconfig:"DRIVESHARE_DB" default:"./driveshare.db"`
	BusyTimeout  time.Duration `envconfig:"DRIVESHARE_BUSY_TIMEOUT" default:"5s"`
	MaxOpenConns int           `envconfig:"DRIVESHARE_MAX_OPEN_CONNS" default:"10"`

	// Session. Empty secret means X-User-ID is trusted (development only).
	JWTSecret string `envconfig:"DRIVESHARE_JWT_SECRET"`

	// Events
	AMQPURL      string `envconfig:"DRIVESHARE_AMQP_URL"`
	AMQPExchange string `envconfig:"DRIVESHARE_AMQP_EXCHANGE" default:"driveshare.events"`

	// Observability
	OTLPEndpoint    string        `envconfig:"DRIVESHARE_OTLP_ENDPOINT"`
	BacklogInterval time.Duration `envconfig:"DRIVESHARE_BACKLOG_INTERVAL" default:"5s"`

	BcryptCost int `envconfig:"DRIVESHARE_BCRYPT_COST" default:"10"`
}

// Load reads envFiles (missing ones are ignored; real environment wins) and
// then the environment.
func Load(envFiles ...string) (App, error) {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}
	var c App
	err := envconfig.Process("", &c)
	return c, err
}
