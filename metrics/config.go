package metrics

// Config contains the configuration for the metric collection, trimmed
// to the fields this module's registry actually exposes. The InfluxDB
// exporter fields were dropped (see DESIGN.md); metrics here stay
// in-process (readable through Count/Value) rather than being shipped to
// a time-series database.
type Config struct {
	Enabled          bool   `toml:",omitempty"`
	EnabledExpensive bool   `toml:",omitempty"`
	HTTP             string `toml:",omitempty"`
	Port             int    `toml:",omitempty"`
}

// DefaultConfig is the default metrics config.
var DefaultConfig = Config{
	Enabled:          true,
	EnabledExpensive: false,
	HTTP:             "127.0.0.1",
	Port:             6060,
}
