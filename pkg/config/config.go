package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/squadforge/squad-optimizer/pkg/types"
)

type Config struct {
	// Server
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	// Redis
	RedisURL string `mapstructure:"REDIS_URL"`

	// Squad rules
	SquadSize     int     `mapstructure:"SQUAD_SIZE"`
	GroupCap      int     `mapstructure:"GROUP_CAP"`
	Budget        float64 `mapstructure:"BUDGET"`
	ReserveBudget float64 `mapstructure:"RESERVE_BUDGET"`

	// Formation ranges, inclusive on both bounds
	MinGoalkeepers int `mapstructure:"MIN_GOALKEEPERS"`
	MaxGoalkeepers int `mapstructure:"MAX_GOALKEEPERS"`
	MinDefenders   int `mapstructure:"MIN_DEFENDERS"`
	MaxDefenders   int `mapstructure:"MAX_DEFENDERS"`
	MinMidfielders int `mapstructure:"MIN_MIDFIELDERS"`
	MaxMidfielders int `mapstructure:"MAX_MIDFIELDERS"`
	MinForwards    int `mapstructure:"MIN_FORWARDS"`
	MaxForwards    int `mapstructure:"MAX_FORWARDS"`

	// Robust optimization
	UncertaintyFraction float64 `mapstructure:"UNCERTAINTY_FRACTION"`

	// Transfer search
	MaxTransfers    int           `mapstructure:"MAX_TRANSFERS"`
	TransferWorkers int           `mapstructure:"TRANSFER_WORKERS"`
	SearchTimeout   time.Duration `mapstructure:"SEARCH_TIMEOUT"`

	// Caching
	CacheExpiration time.Duration `mapstructure:"CACHE_EXPIRATION"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")

	// Set defaults
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("REDIS_URL", "redis://localhost:6379/0")

	viper.SetDefault("SQUAD_SIZE", 11)
	viper.SetDefault("GROUP_CAP", 3)
	viper.SetDefault("BUDGET", 100.0)
	viper.SetDefault("RESERVE_BUDGET", 0.0) // held back for bench cover

	viper.SetDefault("MIN_GOALKEEPERS", 1)
	viper.SetDefault("MAX_GOALKEEPERS", 1)
	viper.SetDefault("MIN_DEFENDERS", 3)
	viper.SetDefault("MAX_DEFENDERS", 5)
	viper.SetDefault("MIN_MIDFIELDERS", 3)
	viper.SetDefault("MAX_MIDFIELDERS", 5)
	viper.SetDefault("MIN_FORWARDS", 1)
	viper.SetDefault("MAX_FORWARDS", 3)

	viper.SetDefault("UNCERTAINTY_FRACTION", 0.15)

	viper.SetDefault("MAX_TRANSFERS", 2)
	viper.SetDefault("TRANSFER_WORKERS", 4)
	viper.SetDefault("SEARCH_TIMEOUT", "30s")

	viper.SetDefault("CACHE_EXPIRATION", "5m")

	// Read from environment
	viper.AutomaticEnv()

	// Read config file if exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &config, nil
}

// DefaultSpec builds the default constraint spec from the configured squad
// rules. The reserve budget is held back from the spending ceiling.
func (c *Config) DefaultSpec() types.ConstraintSpec {
	return types.ConstraintSpec{
		SquadSize: c.SquadSize,
		GroupCap:  c.GroupCap,
		Budget:    c.Budget - c.ReserveBudget,
		CategoryRanges: map[types.Category]types.Range{
			types.CategoryGK:  {Min: c.MinGoalkeepers, Max: c.MaxGoalkeepers},
			types.CategoryDEF: {Min: c.MinDefenders, Max: c.MaxDefenders},
			types.CategoryMID: {Min: c.MinMidfielders, Max: c.MaxMidfielders},
			types.CategoryFWD: {Min: c.MinForwards, Max: c.MaxForwards},
		},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
