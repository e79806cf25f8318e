package config

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Astemirdum/library-desk/library/internal/model"
	"github.com/Astemirdum/library-desk/pkg/kafka"
	"github.com/Astemirdum/library-desk/pkg/logger"
	"github.com/Astemirdum/library-desk/pkg/postgres"
	"github.com/Astemirdum/library-desk/pkg/sqlite"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type HTTPServer struct {
	Host         string        `yaml:"host" envconfig:"LIBRARY_HTTP_HOST" default:"0.0.0.0"`
	Port         string        `yaml:"port" envconfig:"LIBRARY_HTTP_PORT" default:"8060"`
	ReadTimeout  time.Duration `yaml:"readTimeout" envconfig:"HTTP_READ" default:"10s"`
	WriteTimeout time.Duration `yaml:"writeTimeout" envconfig:"HTTP_WRITE" default:"10s"`
}

// Policy holds the lending rules: fine rate, the fine ceiling above which
// borrowing stops, and the loan period in days per tier.
type Policy struct {
	FinePerDay      float64 `envconfig:"FINE_PER_DAY" default:"0.5"`
	FineLimit       float64 `envconfig:"FINE_LIMIT" default:"10"`
	LoanDaysBasic   int     `envconfig:"LOAN_DAYS_BASIC" default:"14"`
	LoanDaysPremium int     `envconfig:"LOAN_DAYS_PREMIUM" default:"21"`
	LoanDaysVIP     int     `envconfig:"LOAN_DAYS_VIP" default:"30"`
}

func (p Policy) Model() model.Policy {
	return model.Policy{
		FinePerDay: p.FinePerDay,
		FineLimit:  p.FineLimit,
		LoanDays: map[model.Tier]int{
			model.TierBasic:   p.LoanDaysBasic,
			model.TierPremium: p.LoanDaysPremium,
			model.TierVIP:     p.LoanDaysVIP,
		},
	}
}

type Config struct {
	Server   HTTPServer   `yaml:"server"`
	Driver   string       `yaml:"driver" envconfig:"DB_DRIVER" default:"sqlite"`
	Postgres postgres.DB  `yaml:"postgres"`
	SQLite   sqlite.DB    `yaml:"sqlite"`
	Kafka    kafka.Config `yaml:"kafka"`
	Policy   Policy       `yaml:"policy"`
	Log      logger.Log   `yaml:"log"`
}

var (
	once sync.Once
	cfg  Config
)

// NewConfig reads config from environment once; options override what was read.
func NewConfig(ops ...Option) Config {
	once.Do(func() {
		config, err := load(ops...)
		if err != nil {
			log.Fatal("NewConfig ", err)
		}
		cfg = config
		printConfig(cfg)
	})

	return cfg
}

func load(ops ...Option) (Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return Config{}, err
	}
	for _, op := range ops {
		op(&config)
	}
	switch config.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return Config{}, errors.Errorf("unknown DB_DRIVER %q", config.Driver)
	}
	if config.Policy.FinePerDay < 0 || config.Policy.FineLimit < 0 {
		return Config{}, errors.New("fine rate and limit must not be negative")
	}
	return config, nil
}

func printConfig(cfg Config) {
	jscfg, _ := json.MarshalIndent(cfg, "", "	") //nolint:errcheck
	fmt.Println(string(jscfg))
}
