package config

// Config - корневая структура конфигурации приложения
// yaml теги для парсинга

type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Sequencer SequencerConfig `yaml:"sequencer"`
	Shard     ShardConfig     `yaml:"shard"`
	Client    ClientConfig    `yaml:"client"`
	HTTP      HTTPConfig      `yaml:"http"`
	ZooKeeper ZKConfig        `yaml:"zookeeper"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type SequencerConfig struct {
	// OrderPeriodMS is the sleep between empty ordering-loop iterations.
	OrderPeriodMS int `yaml:"order_period_ms"`
	// OrderSettleMS is the pause after a dispatched batch.
	OrderSettleMS int `yaml:"order_settle_ms"`
	// Heartbeat interval is drawn uniformly from [min, max) each round.
	HBIntervalMinMS int `yaml:"hb_interval_min_ms"`
	HBIntervalMaxMS int `yaml:"hb_interval_max_ms"`
	// HBTimeoutMS bounds follower-side leader liveness (observability only;
	// leadership itself lives in ZooKeeper).
	HBTimeoutMS   int   `yaml:"hb_timeout_ms"`
	DialTimeoutMS int   `yaml:"dial_timeout_ms"`
	IOTimeoutMS   int   `yaml:"io_timeout_ms"`
	MaxConns      int64 `yaml:"max_conns"`
}

type ShardConfig struct {
	DialTimeoutMS int   `yaml:"dial_timeout_ms"`
	IOTimeoutMS   int   `yaml:"io_timeout_ms"`
	MaxConns      int64 `yaml:"max_conns"`
}

type ClientConfig struct {
	// RetryBackoffMS is the sleep between append rounds while some
	// sequencer has not yet acked.
	RetryBackoffMS int `yaml:"retry_backoff_ms"`
	DialTimeoutMS  int `yaml:"dial_timeout_ms"`
	IOTimeoutMS    int `yaml:"io_timeout_ms"`
}

type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	// PortOffset is added to the node's wire port to form the admin port.
	PortOffset int `yaml:"port_offset"`
}

type ZKConfig struct {
	Servers          []string `yaml:"servers"`
	Root             string   `yaml:"root"`
	SessionTimeoutMS int      `yaml:"session_timeout_ms"`
	PollIntervalMS   int      `yaml:"poll_interval_ms"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "DEBUG",
			JSON:  false,
		},
		Sequencer: SequencerConfig{
			OrderPeriodMS:   20,
			OrderSettleMS:   10,
			HBIntervalMinMS: 100,
			HBIntervalMaxMS: 300,
			HBTimeoutMS:     700,
			DialTimeoutMS:   2000,
			IOTimeoutMS:     2000,
			MaxConns:        256,
		},
		Shard: ShardConfig{
			DialTimeoutMS: 2000,
			IOTimeoutMS:   2000,
			MaxConns:      256,
		},
		Client: ClientConfig{
			RetryBackoffMS: 50,
			DialTimeoutMS:  2000,
			IOTimeoutMS:    2000,
		},
		HTTP: HTTPConfig{
			Enabled:    true,
			PortOffset: 1000,
		},
		ZooKeeper: ZKConfig{
			Servers:          []string{"127.0.0.1:2181"},
			Root:             "/lazylog",
			SessionTimeoutMS: 30000,
			PollIntervalMS:   500,
		},
	}
}
