package config

import (
	"strings"
	"time"
)

// Config 服务配置文件的根结构。
type Config struct {
	App      AppConfig      `toml:"app"`
	Store    StoreConfig    `toml:"store"`
	Session  SessionConfig  `toml:"session"`
	Strategy StrategyConfig `toml:"strategy"`
	Analysis AnalysisConfig `toml:"analysis"`
	Risk     RiskConfig     `toml:"risk"`
	Gate     GateConfig     `toml:"gate"`
	Fill     FillConfig     `toml:"fill"`
	Venue    VenueConfig    `toml:"venue"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`

	// AuditLogPath receives a plain-text copy of every session audit entry.
	AuditLogPath string `toml:"audit_log_path"`
}

const (
	StoreSQLite = "sqlite"
	StoreJSONL  = "jsonl"
	StoreNone   = "none"
)

// StoreConfig 选择审计记录的落盘位置。
type StoreConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

type SessionConfig struct {
	AuditExcerpt int `toml:"audit_excerpt"`
}

type StrategyConfig struct {
	TTLMinutes           int `toml:"ttl_minutes"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
}

func (s StrategyConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

func (s StrategyConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

type AnalysisConfig struct {
	Steps       []string `toml:"steps"`
	SchemasPath string   `toml:"schemas_path"`
}

// RiskConfig mirrors risk.Policy with plain numbers; see RiskPolicy.
type RiskConfig struct {
	MaxPositionPct      float64  `toml:"max_position_pct"`
	MaxPortfolioPct     float64  `toml:"max_portfolio_pct"`
	MinRiskReward       float64  `toml:"min_risk_reward"`
	StopRequired        []string `toml:"stop_required"`
	AllowedStructures   []string `toml:"allowed_structures"`
	ForbiddenStructures []string `toml:"forbidden_structures"`
	BaseCurrency        string   `toml:"base_currency"`
}

type GateConfig struct {
	ConfirmToken           string   `toml:"confirm_token"`
	ConditionalFields      []string `toml:"conditional_fields"`
	ImmediateTriggerValues []string `toml:"immediate_trigger_values"`
	MarketOrderTypes       []string `toml:"market_order_types"`
	ExecuteNowFields       []string `toml:"execute_now_fields"`
}

type FillConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

func (f FillConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

const VenuePaper = "paper"

type VenueConfig struct {
	Mode             string      `toml:"mode"`
	FailureThreshold int         `toml:"failure_threshold"`
	CooldownSeconds  int         `toml:"cooldown_seconds"`
	Paper            PaperConfig `toml:"paper"`
}

func (v VenueConfig) Cooldown() time.Duration {
	return time.Duration(v.CooldownSeconds) * time.Second
}

// PaperConfig 模拟交易场所的初始参数。
type PaperConfig struct {
	Mode           string             `toml:"mode"`
	Currency       string             `toml:"currency"`
	Equity         float64            `toml:"equity"`
	AvailableFunds float64            `toml:"available_funds"`
	DefaultPrice   float64            `toml:"default_price"`
	Prices         map[string]float64 `toml:"prices"`
	FillDelayMS    int                `toml:"fill_delay_ms"`
}

func (p PaperConfig) FillDelay() time.Duration {
	return time.Duration(p.FillDelayMS) * time.Millisecond
}

// keySet 记录配置文件中显式出现的点分路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
