// Package exchange is the Conversion engine (C10): a rate table with
// forward/inverse cashin/cashout computation, configurable rounding,
// and hot-reload. The RateSource interface-of-multiple-implementations
// shape is kept from the teacher's PriceProvider (coinbase/coingecko/
// bitstamp spot-price fetchers), repurposed from BTC spot price HTTP
// calls to loading a conversion-rate config from either a TOML file or
// a static in-memory table (for tests).
package exchange

import (
	"fmt"
	"os"
	"strings"

	"libeufin-bank/internal/money"

	"github.com/BurntSushi/toml"
)

// RoundingMode controls how a converted amount is rounded to the
// tiny_amount granularity.
type RoundingMode string

const (
	RoundZero    RoundingMode = "zero"
	RoundNearest RoundingMode = "nearest"
	RoundUp      RoundingMode = "up"
)

// DirectionConfig holds one direction's (cashin or cashout) conversion
// parameters.
type DirectionConfig struct {
	Ratio        float64
	Fee          money.Amount
	TinyAmount   money.Amount
	RoundingMode RoundingMode
	MinAmount    money.Amount
}

// RatesConfig is the full rate table: cashin and cashout directions.
type RatesConfig struct {
	Cashin  DirectionConfig
	Cashout DirectionConfig
}

// RateSource loads a RatesConfig from wherever it's configured to live.
// Kept as an interface (rather than a single loader func) because the
// teacher's PriceProvider shape — several named implementations behind
// one interface — is the idiom this corpus uses for "pluggable external
// data source": the rate table treats its source as an external
// collaborator it queries as a pure function, never as state it owns.
type RateSource interface {
	Load() (RatesConfig, error)
}

// tomlFileSource loads rates from a TOML file on disk.
type tomlFileSource struct {
	path string
}

// NewTOMLFileSource constructs a RateSource backed by a TOML file.
func NewTOMLFileSource(path string) RateSource {
	return &tomlFileSource{path: path}
}

type ratesFile struct {
	Cashin  rateSection `toml:"cashin"`
	Cashout rateSection `toml:"cashout"`
}

type rateSection struct {
	Ratio        float64 `toml:"ratio"`
	Fee          string  `toml:"fee"`
	TinyAmount   string  `toml:"tiny_amount"`
	RoundingMode string  `toml:"rounding_mode"`
	MinAmount    string  `toml:"min_amount"`
}

func (s *tomlFileSource) Load() (RatesConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return RatesConfig{}, fmt.Errorf("reading rates file %s: %w", s.path, err)
	}
	var rf ratesFile
	if _, err := toml.Decode(string(data), &rf); err != nil {
		return RatesConfig{}, fmt.Errorf("parsing rates file %s: %w", s.path, err)
	}
	return rf.toConfig()
}

func (rf ratesFile) toConfig() (RatesConfig, error) {
	cashin, err := rf.Cashin.toConfig()
	if err != nil {
		return RatesConfig{}, fmt.Errorf("cashin: %w", err)
	}
	cashout, err := rf.Cashout.toConfig()
	if err != nil {
		return RatesConfig{}, fmt.Errorf("cashout: %w", err)
	}
	return RatesConfig{Cashin: cashin, Cashout: cashout}, nil
}

func (s rateSection) toConfig() (DirectionConfig, error) {
	fee, err := money.Parse(s.Fee, money.EIGHT)
	if err != nil {
		return DirectionConfig{}, fmt.Errorf("fee: %w", err)
	}
	tiny, err := money.Parse(s.TinyAmount, money.EIGHT)
	if err != nil {
		return DirectionConfig{}, fmt.Errorf("tiny_amount: %w", err)
	}
	min, err := money.Parse(s.MinAmount, money.EIGHT)
	if err != nil {
		return DirectionConfig{}, fmt.Errorf("min_amount: %w", err)
	}
	mode := RoundingMode(strings.ToLower(s.RoundingMode))
	switch mode {
	case RoundZero, RoundNearest, RoundUp:
	default:
		return DirectionConfig{}, fmt.Errorf("unknown rounding_mode %q", s.RoundingMode)
	}
	return DirectionConfig{Ratio: s.Ratio, Fee: fee, TinyAmount: tiny, RoundingMode: mode, MinAmount: min}, nil
}

// staticSource returns a fixed RatesConfig, used by tests that don't
// want to touch the filesystem.
type staticSource struct {
	cfg RatesConfig
}

// NewStaticSource constructs a RateSource returning a fixed config.
func NewStaticSource(cfg RatesConfig) RateSource {
	return &staticSource{cfg: cfg}
}

func (s *staticSource) Load() (RatesConfig, error) {
	return s.cfg, nil
}
