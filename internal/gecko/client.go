package gecko

import (
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.geckoterminal.com/api/v2"
	DefaultNetwork = "base"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	Network    string
	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
	Clock      clock.Clock
	Logger     *zap.Logger

	// OnRetry is called with each backoff delay before it is waited.
	OnRetry func(wait time.Duration)
}

// Client talks to the GeckoTerminal public API.
type Client struct {
	baseURL    string
	network    string
	http       *http.Client
	maxRetries int
	retryDelay time.Duration
	clock      clock.Clock
	logger     *zap.Logger
	onRetry    func(time.Duration)
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Network == "" {
		opts.Network = DefaultNetwork
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		network:    opts.Network,
		http:       opts.HTTPClient,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		clock:      opts.Clock,
		logger:     opts.Logger.Named("gecko"),
		onRetry:    opts.OnRetry,
	}
}

func (c *Client) networkURL() string {
	return c.baseURL + "/networks/" + c.network
}
