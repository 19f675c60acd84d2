package common

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/InfinitoSolutions/ibl-pay-api/storage"
)

type ServerConfig struct {
	Host string `mapstructure:"host" json:"host,omitempty"`
	Port int64  `mapstructure:"port" json:"port,omitempty"`
}

// ScheduleConfig holds the cadence availability windows. A daily cycle stays
// actionable for DailyDurationHours after its scheduled time, weekly and
// monthly cycles for the configured number of days; the same values bound the
// scheduler's lookback when selecting due bills.
type ScheduleConfig struct {
	DailyDurationHours  int `mapstructure:"daily_duration_hours" json:"daily_duration_hours,omitempty"`
	WeeklyDurationDays  int `mapstructure:"weekly_duration_days" json:"weekly_duration_days,omitempty"`
	MonthlyDurationDays int `mapstructure:"monthly_duration_days" json:"monthly_duration_days,omitempty"`
	// Cron expressions driving the periodic sweeps.
	SweepCron   string `mapstructure:"sweep_cron" json:"sweep_cron,omitempty"`
	AbandonCron string `mapstructure:"abandon_cron" json:"abandon_cron,omitempty"`
}

type PaymentConfig struct {
	Schedule ScheduleConfig `mapstructure:"schedule" json:"schedule,omitempty"`
	// FeePercentage is the static commission fallback applied when no
	// commission rule row exists for the requested type.
	FeePercentage   float64 `mapstructure:"fee_percentage" json:"fee_percentage,omitempty"`
	DefaultDecimals int32   `mapstructure:"default_decimals" json:"default_decimals,omitempty"`
}

type CoreConfig struct {
	Server   ServerConfig `mapstructure:"server" json:"server"`
	Database struct {
		DSN string `mapstructure:"dsn" json:"dsn,omitempty"`
	} `mapstructure:"database" json:"database,omitempty"`
	Redis   storage.RedisConfig `mapstructure:"redis" json:"redis,omitempty"`
	Payment PaymentConfig       `mapstructure:"payment" json:"payment,omitempty"`
	Datadog struct {
		Host string `mapstructure:"host" json:"host,omitempty"`
		Port string `mapstructure:"port" json:"port,omitempty"`
	} `mapstructure:"datadog" json:"datadog"`
}

func GetConfigure() (*CoreConfig, error) {
	configName := os.Getenv("IBL_CONFIG_NAME")
	if configName == "" {
		configName = "config"
	}
	return ReadConfig(configName)
}

func ReadConfig(configName string) (*CoreConfig, error) {
	viper.SetConfigName(configName)
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("payment.schedule.daily_duration_hours", 24)
	viper.SetDefault("payment.schedule.weekly_duration_days", 7)
	viper.SetDefault("payment.schedule.monthly_duration_days", 30)
	viper.SetDefault("payment.default_decimals", 8)
	viper.SetDefault("payment.schedule.sweep_cron", "@every 1m")
	viper.SetDefault("payment.schedule.abandon_cron", "@every 1h")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("fail to reading config file, %w", err)
	}
	var cfg CoreConfig
	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}
	return &cfg, nil
}
