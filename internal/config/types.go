package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App         AppConfig              `mapstructure:"app"`
	Venues      map[string]VenueConfig `mapstructure:"venues"`
	Coordinator CoordinatorConfig      `mapstructure:"coordinator"`
	Journal     JournalConfig          `mapstructure:"journal"`
	Logging     LoggingConfig          `mapstructure:"logging"`
	Alert       AlertConfig            `mapstructure:"alert"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// VenueConfig 描述单个交易所的凭证与账户特性。
// hedged_mode 表示账户允许同合约双向持仓，slow 表示该交易所
// 限频严格，行情轮询需要放慢节奏。
type VenueConfig struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	APIPass    string `mapstructure:"api_password"`
	HedgedMode bool   `mapstructure:"hedged_mode"`
	Slow       bool   `mapstructure:"slow"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
}

// CoordinatorConfig 控制双腿协调器的重试与轮询行为。
type CoordinatorConfig struct {
	MaxSubmitAttempts    int           `mapstructure:"max_submit_attempts"`
	MaxRebalanceAttempts int           `mapstructure:"max_rebalance_attempts"`
	SubmitBackoffMin     time.Duration `mapstructure:"submit_backoff_min"`
	SubmitBackoffMax     time.Duration `mapstructure:"submit_backoff_max"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	UpdateInterval       time.Duration `mapstructure:"update_interval"`
	CleanupTimeout       time.Duration `mapstructure:"cleanup_timeout"`
}

// JournalConfig 管理会话事件日志库。
type JournalConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// AlertConfig 控制权益阈值告警。
type AlertConfig struct {
	WebhookURL    string        `mapstructure:"webhook_url"`
	Currency      string        `mapstructure:"currency"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	BalanceType   string        `mapstructure:"balance_type"`
	TriggerOnce   bool          `mapstructure:"trigger_once"`
}

// Venue 返回指定交易所的配置，未配置时返回零值。
// 行情订阅不需要凭证，因此缺失条目不是错误。
func (c *Config) Venue(name string) VenueConfig {
	if c.Venues == nil {
		return VenueConfig{}
	}
	return c.Venues[name]
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Coordinator.MaxSubmitAttempts <= 0 {
		err = multierr.Append(err, errors.New("coordinator.max_submit_attempts 必须大于0"))
	}
	if c.Coordinator.MaxRebalanceAttempts < 0 {
		err = multierr.Append(err, errors.New("coordinator.max_rebalance_attempts 不能为负"))
	}
	if c.Coordinator.SubmitBackoffMin <= 0 || c.Coordinator.SubmitBackoffMax <= 0 {
		err = multierr.Append(err, errors.New("coordinator.submit_backoff 必须为正"))
	}
	if c.Coordinator.SubmitBackoffMin > c.Coordinator.SubmitBackoffMax {
		err = multierr.Append(err, errors.New("coordinator.submit_backoff_min 不能大于 submit_backoff_max"))
	}
	if c.Coordinator.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("coordinator.poll_interval 必须大于0"))
	}
	if c.Coordinator.UpdateInterval <= 0 {
		err = multierr.Append(err, errors.New("coordinator.update_interval 必须大于0"))
	}
	if c.Coordinator.CleanupTimeout <= 0 {
		err = multierr.Append(err, errors.New("coordinator.cleanup_timeout 必须大于0"))
	}
	if c.Journal.Path == "" && !c.Journal.InMemory {
		err = multierr.Append(err, errors.New("journal.path 不能为空"))
	}
	if c.Journal.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("journal.max_open_conns 必须大于0"))
	}
	if c.Journal.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("journal.max_idle_conns 不能为负"))
	}
	if c.Journal.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("journal.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Alert.CheckInterval <= 0 {
		err = multierr.Append(err, errors.New("alert.check_interval 必须大于0"))
	}
	if c.Alert.Currency == "" {
		err = multierr.Append(err, errors.New("alert.currency 不能为空"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
