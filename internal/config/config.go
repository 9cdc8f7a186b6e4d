// Package config loads the CLI configuration from defaults, an optional YAML
// file, SORASIG_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/1ureka/sorasig/internal/conn"
	"github.com/1ureka/sorasig/internal/signaling"
)

const envPrefix = "SORASIG"

// Config stores everything needed to run one session.
type Config struct {
	URL         string        `mapstructure:"url"`
	ChannelID   string        `mapstructure:"channel_id"`
	Role        string        `mapstructure:"role"`
	AccessToken string        `mapstructure:"access_token"`
	Multistream bool          `mapstructure:"multistream"`
	Timeout     time.Duration `mapstructure:"timeout"`

	Video      bool     `mapstructure:"video"`
	Audio      bool     `mapstructure:"audio"`
	VideoCodec string   `mapstructure:"video_codec"`
	AudioCodec string   `mapstructure:"audio_codec"`
	BitRate    int      `mapstructure:"bit_rate"`
	ICEServers []string `mapstructure:"ice_servers"`

	PingPeriod time.Duration `mapstructure:"ping_period"`
	Debug      bool          `mapstructure:"debug"`
	EventLog   string        `mapstructure:"event_log"` // JSON-lines trace file, empty for none
}

// setDefaults registers every key; AutomaticEnv only resolves keys viper
// already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("url", "")
	v.SetDefault("channel_id", "")
	v.SetDefault("access_token", "")
	v.SetDefault("video_codec", "")
	v.SetDefault("audio_codec", "")
	v.SetDefault("event_log", "")
	v.SetDefault("role", string(signaling.RoleDownstream))
	v.SetDefault("multistream", false)
	v.SetDefault("timeout", "10s")
	v.SetDefault("video", true)
	v.SetDefault("audio", true)
	v.SetDefault("bit_rate", 0)
	v.SetDefault("ice_servers", conn.DefaultSTUNServers)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("debug", false)
}

// Flags returns the command-line flags understood by Load. Flag names are
// the config keys with dashes.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("sorasig", pflag.ContinueOnError)
	fs.String("config", "", "YAML config file (default ./sorasig.yaml if present)")
	fs.String("url", "", "signaling URL, ws:// or wss://")
	fs.String("channel-id", "", "channel to join")
	fs.String("role", string(signaling.RoleDownstream), "upstream (publish) or downstream (subscribe)")
	fs.String("access-token", "", "access token sent with connect")
	fs.Bool("multistream", false, "enable multistream and renegotiation")
	fs.Duration("timeout", 10*time.Second, "connect timeout, 0 to disable")
	fs.Bool("video", true, "send or receive video")
	fs.Bool("audio", true, "send or receive audio")
	fs.String("video-codec", "", "VP8, VP9 or H264 (server default if empty)")
	fs.String("audio-codec", "", "OPUS or PCMU (server default if empty)")
	fs.Int("bit-rate", 0, fmt.Sprintf("video bit rate in kbps, 0..%d", conn.MaxBitRate))
	fs.StringSlice("ice-servers", conn.DefaultSTUNServers, "ICE server URLs")
	fs.Duration("ping-period", 30*time.Second, "WebSocket keepalive interval, negative to disable")
	fs.Bool("debug", false, "enable debug logging")
	fs.String("event-log", "", "write the session event log as JSON lines to this file")
	return fs
}

// Load resolves the configuration. fs may be nil, in which case only
// defaults, the default config file and the environment apply.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	configFile := ""
	if fs != nil {
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" {
				configFile = f.Value.String()
				return
			}
			// Only flags set on the command line override file and env.
			if f.Changed {
				_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
			}
		})
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("sorasig")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("invalid url %q: want ws:// or wss://", c.URL)
	}
	if strings.TrimSpace(c.ChannelID) == "" {
		return fmt.Errorf("missing channel_id")
	}
	switch signaling.Role(c.Role) {
	case signaling.RoleUpstream, signaling.RoleDownstream:
	default:
		return fmt.Errorf("invalid role %q: want upstream or downstream", c.Role)
	}
	switch conn.VideoCodec(strings.ToUpper(c.VideoCodec)) {
	case conn.VideoCodecDefault, conn.VideoCodecVP8, conn.VideoCodecVP9, conn.VideoCodecH264:
	default:
		return fmt.Errorf("invalid video_codec %q", c.VideoCodec)
	}
	switch conn.AudioCodec(strings.ToUpper(c.AudioCodec)) {
	case conn.AudioCodecDefault, conn.AudioCodecOpus, conn.AudioCodecPCMU:
	default:
		return fmt.Errorf("invalid audio_codec %q", c.AudioCodec)
	}
	if c.BitRate < 0 || c.BitRate > conn.MaxBitRate {
		return fmt.Errorf("bit_rate %d out of range 0..%d", c.BitRate, conn.MaxBitRate)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("negative timeout")
	}
	if c.Role == string(signaling.RoleUpstream) && !c.Video && !c.Audio {
		return fmt.Errorf("upstream needs video or audio")
	}
	return nil
}

// ConnConfig translates c into a connect attempt description.
func (c *Config) ConnConfig() conn.Config {
	media := conn.DefaultMediaOption()
	media.VideoEnabled = c.Video
	media.AudioEnabled = c.Audio
	media.VideoCodec = conn.VideoCodec(strings.ToUpper(c.VideoCodec))
	media.AudioCodec = conn.AudioCodec(strings.ToUpper(c.AudioCodec))
	media.BitRate = conn.ClampBitRate(c.BitRate)
	if len(c.ICEServers) > 0 {
		media.ICE = webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: c.ICEServers}},
		}
	}

	return conn.Config{
		URL:         strings.TrimSpace(c.URL),
		ChannelID:   strings.TrimSpace(c.ChannelID),
		Role:        signaling.Role(c.Role),
		AccessToken: c.AccessToken,
		Multistream: c.Multistream,
		Media:       media,
		Timeout:     c.Timeout,
	}
}
