// Package flags wires up the shared command line surface of the recommand
// binaries.
package flags

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.senan.xyz/flagconf"

	"go.curlew.xyz/recommand"
	"go.curlew.xyz/recommand/clientutil"
	"go.curlew.xyz/recommand/deezer"
	"go.curlew.xyz/recommand/downloader"
	"go.curlew.xyz/recommand/downloader/deemix"
	"go.curlew.xyz/recommand/downloader/streamrip"
	"go.curlew.xyz/recommand/lastfm"
	"go.curlew.xyz/recommand/listenbrainz"
	"go.curlew.xyz/recommand/llm"
	"go.curlew.xyz/recommand/notifications"
	"go.curlew.xyz/recommand/pathformat"
	"go.curlew.xyz/recommand/status"
)

func EnvPrefix(prefix string) {
	flagconf.ReadEnvPrefix = func(_ *flag.FlagSet) string {
		return prefix
	}
}

func Parse() {
	userConfig, _ := os.UserConfigDir()
	defaultConfigPath := filepath.Join(userConfig, recommand.Name, "config")
	configPath := flag.String("config-path", defaultConfigPath, "path config file")

	printVersion := flag.Bool("version", false, "print the version")
	printConfig := flag.Bool("config", false, "print the parsed config")

	flag.TextVar(&logLevel, "log-level", &logLevel, "set the logging level")

	flag.Parse()
	flagconf.ParseEnv()
	flagconf.ParseConfig(*configPath)

	if *printVersion {
		fmt.Printf("%s %s\n", flag.CommandLine.Name(), recommand.Version)
		os.Exit(0)
	}
	if *printConfig {
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Printf("%-24s %s\n", f.Name, f.Value)
		})
		os.Exit(0)
	}
}

func PathFormat() *pathformat.Format {
	var r pathformat.Format
	_ = r.Parse(pathformat.Default)
	flag.Var(&pathFormatParser{&r}, "path-format", "go templated path format to define music library layout")
	return &r
}

func Notifications() *notifications.Notifications {
	var r notifications.Notifications
	flag.Var(&notificationsParser{&r}, "notification-uri", "add a shoutrrr notification uri for an event")
	return &r
}

func StatusDir() *string {
	return flag.String("status-dir", status.DefaultDir, "directory holding per job status records")
}

func Deezer() *deezer.Client {
	var c deezer.Client
	flag.StringVar(&c.BaseURL, "deezer-base-url", deezer.DefaultBaseURL, "deezer base url")
	flag.DurationVar(&c.RateLimit, "deezer-rate-limit", 500*time.Millisecond, "deezer rate limit duration")
	return &c
}

func ListenBrainz() *listenbrainz.Client {
	var c listenbrainz.Client
	flag.StringVar(&c.BaseURL, "listenbrainz-base-url", listenbrainz.DefaultBaseURL, "listenbrainz base url")
	flag.StringVar(&c.Token, "listenbrainz-token", "", "listenbrainz user token, empty disables the source")
	flag.StringVar(&c.User, "listenbrainz-user", "", "listenbrainz username")
	flag.StringVar(&c.StatePath, "listenbrainz-state-path", "", "path to the playlist identity state file")
	flag.DurationVar(&c.RateLimit, "listenbrainz-rate-limit", time.Second, "listenbrainz rate limit duration")
	return &c
}

// LastFMClient bundles the API client with the password flag, which is
// only consulted when no session key is configured yet.
type LastFMClient struct {
	*lastfm.Client
	Password string
}

func LastFM() *LastFMClient {
	r := LastFMClient{Client: &lastfm.Client{}}
	flag.StringVar(&r.APIKey, "lastfm-api-key", "", "last.fm api key, empty disables the source")
	flag.StringVar(&r.APISecret, "lastfm-api-secret", "", "last.fm shared secret")
	flag.StringVar(&r.Username, "lastfm-user", "", "last.fm username")
	flag.StringVar(&r.Password, "lastfm-password", "", "last.fm password, used once to obtain a session key")
	flag.StringVar(&r.SessionKey, "lastfm-session-key", "", "last.fm session key")
	flag.DurationVar(&r.RateLimit, "lastfm-rate-limit", time.Second, "last.fm rate limit duration")
	return &r
}

// Session returns the configured session key, performing the mobile
// session handshake when only a password is present.
func (c *LastFMClient) Session(ctx context.Context) (string, error) {
	if c.SessionKey != "" {
		return c.SessionKey, nil
	}
	if c.Password == "" {
		return "", fmt.Errorf("no last.fm session key or password configured")
	}
	key, err := c.MobileSession(ctx, c.Password)
	if err != nil {
		return "", fmt.Errorf("get mobile session: %w", err)
	}
	c.SessionKey = key
	return key, nil
}

type LLMConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

func LLM() *LLMConfig {
	var c LLMConfig
	flag.StringVar(&c.Provider, "llm-provider", "", `llm provider, "gemini" or "openai", empty disables the source`)
	flag.StringVar(&c.APIKey, "llm-api-key", "", "llm provider api key")
	flag.StringVar(&c.Model, "llm-model", "", "llm model name")
	flag.StringVar(&c.BaseURL, "llm-base-url", "", "openai compatible chat completions url")
	return &c
}

func (c *LLMConfig) Client(ctx context.Context) (llm.Provider, error) {
	switch c.Provider {
	case "":
		return nil, nil
	case "gemini":
		return llm.NewGemini(ctx, c.APIKey, c.Model)
	case "openai":
		return &llm.OpenAI{BaseURL: c.BaseURL, APIKey: c.APIKey, Model: c.Model}, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", c.Provider)
}

type BackendConfig struct {
	Method     string
	Command    string
	ConfigHome string
	DBPath     string
}

func Backend() *BackendConfig {
	var c BackendConfig
	flag.StringVar(&c.Method, "backend", "deemix", `download backend, "deemix" or "streamrip"`)
	flag.StringVar(&c.Command, "backend-command", "", "override the backend command line")
	flag.StringVar(&c.ConfigHome, "backend-config-home", "", "XDG_CONFIG_HOME for the backend subprocess")
	flag.StringVar(&c.DBPath, "streamrip-db", "", "path to the streamrip downloads database")
	return &c
}

func (c *BackendConfig) Build(logger *slog.Logger) (downloader.Backend, error) {
	switch c.Method {
	case "deemix":
		d, err := deemix.New(c.Command)
		if err != nil {
			return nil, fmt.Errorf("deemix backend: %w", err)
		}
		d.ConfigHome = c.ConfigHome
		d.Logger = logger
		return d, nil
	case "streamrip":
		d, err := streamrip.New(c.Command)
		if err != nil {
			return nil, fmt.Errorf("streamrip backend: %w", err)
		}
		d.DBPath = c.DBPath
		d.Logger = logger
		return d, nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Method)
}

var httpClient *http.Client

func init() {
	httpClient = &http.Client{Transport: clientutil.Chain(
		clientutil.WithLogging(slog.Default()),
		clientutil.WithUserAgent(fmt.Sprintf(`%s/%s`, recommand.Name, recommand.Version)),
	)(http.DefaultTransport)}

	http.DefaultClient = httpClient
}
