package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/turbolytics/pimsync/pkg/transform"
)

// EnvPrefix is prepended to every environment override, e.g.
// PIMSYNC_INRIVER_API_KEY.
const EnvPrefix = "PIMSYNC"

// DefaultEntityTypes is synced when the config names none.
var DefaultEntityTypes = []string{"Product"}

type Logger struct {
	Level string `yaml:"level"`
}

type Global struct {
	Logger Logger `yaml:"logger"`
}

type Inriver struct {
	APIKey    string  `yaml:"api_key"`
	APIURL    string  `yaml:"api_url"`
	ChannelID string  `yaml:"channel_id"`
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type Sync struct {
	EntityTypes []string `yaml:"entity_types"`
}

// Job overrides the built in presets. Zero values keep the preset.
type Job struct {
	RetryCeiling int           `yaml:"retry_ceiling"`
	BackoffUnit  time.Duration `yaml:"backoff_unit"`
	PageSize     int           `yaml:"page_size"`
	ObjectType   string        `yaml:"object_type"`
}

type Nightly struct {
	Job      `yaml:",inline"`
	Schedule string `yaml:"schedule"`
}

type Jobs struct {
	Historical Job     `yaml:"historical"`
	Nightly    Nightly `yaml:"nightly"`
}

type Repository struct {
	Type           string `yaml:"type"`
	Path           string `yaml:"path"`
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Prefix         string `yaml:"prefix"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

type Archive struct {
	Repository  Repository `yaml:"repository"`
	Compression string     `yaml:"compression"`
}

type Sink struct {
	Type    string  `yaml:"type"`
	URI     string  `yaml:"uri"`
	Archive Archive `yaml:"archive"`
}

type Checkpointer struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
	URI  string `yaml:"uri"`
}

type Notifier struct {
	Type string `yaml:"type"`
	URI  string `yaml:"uri"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Pimsync struct {
	Global       Global            `yaml:"global"`
	Inriver      Inriver           `yaml:"inriver"`
	Sync         Sync              `yaml:"sync"`
	Jobs         Jobs              `yaml:"jobs"`
	Mapping      transform.Mapping `yaml:"mapping"`
	Sink         Sink              `yaml:"sink"`
	Checkpointer Checkpointer      `yaml:"checkpointer"`
	Notifier     Notifier          `yaml:"notifier"`
	Server       Server            `yaml:"server"`
}

// NewPimsyncFromFile reads a yaml config and applies environment overrides.
func NewPimsyncFromFile(fpath string) (*Pimsync, error) {
	bs, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}
	return NewPimsync(bs)
}

func NewPimsync(bs []byte) (*Pimsync, error) {
	var p Pimsync
	if err := yaml.Unmarshal(bs, &p); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	p.applyEnv(v)

	p.setDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Pimsync) applyEnv(v *viper.Viper) {
	overrides := map[string]*string{
		"INRIVER_API_KEY":    &p.Inriver.APIKey,
		"INRIVER_API_URL":    &p.Inriver.APIURL,
		"INRIVER_CHANNEL_ID": &p.Inriver.ChannelID,
		"SINK_TYPE":          &p.Sink.Type,
		"SINK_URI":           &p.Sink.URI,
		"CHECKPOINTER_TYPE":  &p.Checkpointer.Type,
		"CHECKPOINTER_URI":   &p.Checkpointer.URI,
		"NOTIFIER_URI":       &p.Notifier.URI,
		"SERVER_ADDR":        &p.Server.Addr,
		"LOGGER_LEVEL":       &p.Global.Logger.Level,
	}
	for key, dst := range overrides {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
}

func (p *Pimsync) setDefaults() {
	if p.Global.Logger.Level == "" {
		p.Global.Logger.Level = "info"
	}
	if p.Sink.Type == "" {
		p.Sink.Type = "stdout"
	}
	if p.Checkpointer.Type == "" {
		p.Checkpointer.Type = "filesystem"
	}
	if p.Checkpointer.Type == "filesystem" && p.Checkpointer.Path == "" {
		p.Checkpointer.Path = "./dev/checkpoints"
	}
	if p.Notifier.Type == "" {
		p.Notifier.Type = "log"
	}
	if p.Server.Addr == "" {
		p.Server.Addr = ":8080"
	}
	if len(p.Sync.EntityTypes) == 0 {
		p.Sync.EntityTypes = append([]string(nil), DefaultEntityTypes...)
	}
	p.Mapping = p.Mapping.WithDefaults()
}

func (p *Pimsync) Validate() error {
	if p.Inriver.APIKey == "" {
		return fmt.Errorf("inriver.api_key is required")
	}
	if p.Inriver.APIURL == "" {
		return fmt.Errorf("inriver.api_url is required")
	}
	switch p.Sink.Type {
	case "stdout", "kafka", "mongo", "archive":
	default:
		return fmt.Errorf("unsupported sink type: %q", p.Sink.Type)
	}
	switch p.Checkpointer.Type {
	case "noop", "filesystem", "postgres", "mongo":
	default:
		return fmt.Errorf("unsupported checkpointer type: %q", p.Checkpointer.Type)
	}
	switch p.Notifier.Type {
	case "log", "kafka":
	default:
		return fmt.Errorf("unsupported notifier type: %q", p.Notifier.Type)
	}
	return nil
}
