package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del servicio de arbitraje.
type Config struct {
	Arbitrage ArbitrageConfig `yaml:"arbitrage"`
	Risk      RiskConfig      `yaml:"risk"`
	API       APIConfig       `yaml:"api"`
	Chain     ChainConfig     `yaml:"chain"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// ArbitrageConfig controla la detección y el escaneo de oportunidades.
type ArbitrageConfig struct {
	MinProfitPercentage float64 `yaml:"min_profit_percentage"`
	MaxPositionSizeUSD  float64 `yaml:"max_position_size_usd"`
	MinLiquidity        float64 `yaml:"min_liquidity"`
	SlippageTolerance   float64 `yaml:"slippage_tolerance"`
	MaxGasPriceGwei     int     `yaml:"max_gas_price_gwei"`
	MaxConcurrentTrades int     `yaml:"max_concurrent_trades"`
	ScanIntervalMs      int     `yaml:"scan_interval_ms"`
}

// RiskConfig contiene los límites de riesgo por defecto para cada usuario.
type RiskConfig struct {
	MaxDailyLossUSD          float64 `yaml:"max_daily_loss_usd"`
	CooldownAfterLossMinutes int     `yaml:"cooldown_after_loss_minutes"`
}

// APIConfig contiene los base URLs de las APIs de Polymarket.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	WSURL     string `yaml:"ws_url"`
}

// ChainConfig contiene la conexión a Polygon para estimación de gas y firma.
// La clave privada solo entra por entorno, nunca por YAML.
type ChainConfig struct {
	RPCURL     string `yaml:"rpc_url"`
	ChainID    int64  `yaml:"chain_id"`
	PrivateKey string `yaml:"-"`
}

// StorageConfig controla dónde se persiste el histórico.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// ScanInterval devuelve el intervalo de escaneo como time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Arbitrage.ScanIntervalMs) * time.Millisecond
}

// CooldownAfterLoss devuelve la duración del cooldown tras una pérdida.
func (c *Config) CooldownAfterLoss() time.Duration {
	return time.Duration(c.Risk.CooldownAfterLossMinutes) * time.Minute
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("POLYMARKET_WS_URL"); v != "" {
		cfg.API.WSURL = v
	}
	if v := os.Getenv("POLYGON_PRIVATE_KEY"); v != "" {
		cfg.Chain.PrivateKey = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Arbitrage.MinProfitPercentage <= 0 {
		cfg.Arbitrage.MinProfitPercentage = 0.5
	}
	if cfg.Arbitrage.MaxPositionSizeUSD <= 0 {
		cfg.Arbitrage.MaxPositionSizeUSD = 100
	}
	if cfg.Arbitrage.MinLiquidity <= 0 {
		cfg.Arbitrage.MinLiquidity = 100
	}
	if cfg.Arbitrage.SlippageTolerance <= 0 {
		cfg.Arbitrage.SlippageTolerance = 0.01
	}
	if cfg.Arbitrage.MaxGasPriceGwei <= 0 {
		cfg.Arbitrage.MaxGasPriceGwei = 50
	}
	if cfg.Arbitrage.MaxConcurrentTrades <= 0 {
		cfg.Arbitrage.MaxConcurrentTrades = 3
	}
	if cfg.Arbitrage.ScanIntervalMs <= 0 {
		cfg.Arbitrage.ScanIntervalMs = 1000
	}
	if cfg.Risk.MaxDailyLossUSD <= 0 {
		cfg.Risk.MaxDailyLossUSD = 100
	}
	if cfg.Risk.CooldownAfterLossMinutes <= 0 {
		cfg.Risk.CooldownAfterLossMinutes = 10
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.WSURL == "" {
		cfg.API.WSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = "https://polygon-rpc.com"
	}
	if cfg.Chain.ChainID == 0 {
		cfg.Chain.ChainID = 137
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polyarb.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
