// Package idgen assigns message identifiers.
package idgen

import "fmt"

// Strategy names accepted by New.
const (
	StrategyUUID      = "uuid"
	StrategyULID      = "ulid"
	StrategyKSUID     = "ksuid"
	StrategySnowflake = "snowflake"
	StrategyNanoID    = "nanoid"
	StrategyCUID2     = "cuid2"
)

// Generator produces globally unique identifiers.
type Generator interface {
	Generate() (string, error)
	// Validate reports why id could not have come from this generator.
	Validate(id string) error
}

// Config selects and tunes a strategy.
type Config struct {
	Strategy  string          `mapstructure:"strategy"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
	NanoID    NanoIDConfig    `mapstructure:"nanoid"`
	CUID2     CUID2Config     `mapstructure:"cuid2"`
}

type SnowflakeConfig struct {
	MachineID int64 `mapstructure:"machine_id"`
	Epoch     int64 `mapstructure:"epoch"`
}

type NanoIDConfig struct {
	Size     int    `mapstructure:"size"`
	Alphabet string `mapstructure:"alphabet"`
}

type CUID2Config struct {
	Length int `mapstructure:"length"`
}

// DefaultConfig uses time-ordered UUIDs.
func DefaultConfig() Config {
	return Config{
		Strategy:  StrategyUUID,
		Snowflake: SnowflakeConfig{MachineID: 1, Epoch: DefaultSnowflakeEpoch},
		NanoID:    NanoIDConfig{Size: DefaultNanoIDSize, Alphabet: DefaultNanoIDAlphabet},
		CUID2:     CUID2Config{Length: DefaultCUID2Length},
	}
}

// New builds the generator named by cfg.Strategy.
func New(cfg Config) (Generator, error) {
	switch cfg.Strategy {
	case StrategyUUID, "":
		return NewUUIDGenerator(), nil
	case StrategyULID:
		return NewULIDGenerator(), nil
	case StrategyKSUID:
		return NewKSUIDGenerator(), nil
	case StrategySnowflake:
		return NewSnowflakeGenerator(cfg.Snowflake.MachineID, cfg.Snowflake.Epoch)
	case StrategyNanoID:
		return NewNanoIDGenerator(cfg.NanoID.Size, cfg.NanoID.Alphabet)
	case StrategyCUID2:
		return NewCUID2Generator(cfg.CUID2.Length)
	default:
		return nil, fmt.Errorf("unknown id strategy: %s", cfg.Strategy)
	}
}
