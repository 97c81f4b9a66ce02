// Package middleware provides HTTP middleware configuration options.
package middleware

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/kgrag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// 中间件名称常量。
const (
	MiddlewareRecovery  = "recovery"
	MiddlewareRequestID = "request-id"
	MiddlewareLogger    = "logger"
	MiddlewareTracing   = "tracing"
	MiddlewareCORS      = "cors"
	MiddlewareTimeout   = "timeout"
	MiddlewareRateLimit = "rate-limit"
)

// DefaultMiddleware 默认启用的中间件及其顺序。
var DefaultMiddleware = []string{
	MiddlewareRecovery,
	MiddlewareRequestID,
	MiddlewareLogger,
	MiddlewareTracing,
	MiddlewareTimeout,
}

var known = map[string]struct{}{
	MiddlewareRecovery:  {},
	MiddlewareRequestID: {},
	MiddlewareLogger:    {},
	MiddlewareTracing:   {},
	MiddlewareCORS:      {},
	MiddlewareTimeout:   {},
	MiddlewareRateLimit: {},
}

// RecoveryOptions defines recovery middleware options.
type RecoveryOptions struct {
	EnableStackTrace bool `json:"enable-stack-trace" mapstructure:"enable-stack-trace"`
}

// LoggerOptions defines request logging options.
type LoggerOptions struct {
	SkipPaths []string `json:"skip-paths" mapstructure:"skip-paths"`
}

// CORSOptions defines CORS middleware options.
type CORSOptions struct {
	AllowOrigins []string `json:"allow-origins" mapstructure:"allow-origins"`
	AllowMethods []string `json:"allow-methods" mapstructure:"allow-methods"`
	AllowHeaders []string `json:"allow-headers" mapstructure:"allow-headers"`
	MaxAge       int      `json:"max-age" mapstructure:"max-age"`
}

// TimeoutOptions defines timeout middleware options.
type TimeoutOptions struct {
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
	SkipPaths []string      `json:"skip-paths" mapstructure:"skip-paths"`
}

// RateLimitOptions defines per client rate limiting options.
type RateLimitOptions struct {
	Limit     int           `json:"limit" mapstructure:"limit"`
	Window    time.Duration `json:"window" mapstructure:"window"`
	SkipPaths []string      `json:"skip-paths" mapstructure:"skip-paths"`
}

// Options 中间件配置。Middleware 指定启用的中间件及应用顺序。
type Options struct {
	Middleware []string          `json:"middleware" mapstructure:"middleware"`
	Recovery   *RecoveryOptions  `json:"recovery" mapstructure:"recovery"`
	Logger     *LoggerOptions    `json:"logger" mapstructure:"logger"`
	CORS       *CORSOptions      `json:"cors" mapstructure:"cors"`
	Timeout    *TimeoutOptions   `json:"timeout" mapstructure:"timeout"`
	RateLimit  *RateLimitOptions `json:"rate-limit" mapstructure:"rate-limit"`
}

// NewOptions 创建默认中间件选项。
func NewOptions() *Options {
	return &Options{
		Middleware: append([]string(nil), DefaultMiddleware...),
		Recovery:   &RecoveryOptions{},
		Logger: &LoggerOptions{
			SkipPaths: []string{"/healthz", "/metrics"},
		},
		CORS: &CORSOptions{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Accept-Language", "X-Request-ID"},
			MaxAge:       86400,
		},
		Timeout: &TimeoutOptions{
			Timeout: 60 * time.Second,
		},
		RateLimit: &RateLimitOptions{
			Limit:     100,
			Window:    time.Minute,
			SkipPaths: []string{"/healthz", "/metrics"},
		},
	}
}

// IsEnabled 报告中间件是否启用。
func (o *Options) IsEnabled(name string) bool {
	if o == nil {
		return false
	}
	for _, m := range o.Middleware {
		if m == name {
			return true
		}
	}
	return false
}

// AddFlags adds flags for middleware options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "middleware."
	fs.StringSliceVar(&o.Middleware, p+"enabled", o.Middleware, "Ordered list of enabled HTTP middleware (recovery, request-id, logger, tracing, cors, timeout, rate-limit).")
	fs.BoolVar(&o.Recovery.EnableStackTrace, p+"recovery.enable-stack-trace", o.Recovery.EnableStackTrace, "Log stack traces of recovered panics.")
	fs.StringSliceVar(&o.Logger.SkipPaths, p+"logger.skip-paths", o.Logger.SkipPaths, "Paths that are not access-logged.")
	fs.StringSliceVar(&o.CORS.AllowOrigins, p+"cors.allow-origins", o.CORS.AllowOrigins, "Allowed CORS origins.")
	fs.DurationVar(&o.Timeout.Timeout, p+"timeout.timeout", o.Timeout.Timeout, "Request timeout.")
	fs.IntVar(&o.RateLimit.Limit, p+"rate-limit.limit", o.RateLimit.Limit, "Requests allowed per client within the window.")
	fs.DurationVar(&o.RateLimit.Window, p+"rate-limit.window", o.RateLimit.Window, "Rate limit sliding window.")
}

// Validate validates the middleware options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	for _, m := range o.Middleware {
		if _, ok := known[m]; !ok {
			errs = append(errs, fmt.Errorf("unknown middleware %q", m))
		}
	}
	if o.IsEnabled(MiddlewareTimeout) && (o.Timeout == nil || o.Timeout.Timeout <= 0) {
		errs = append(errs, fmt.Errorf("middleware.timeout.timeout must be positive"))
	}
	if o.IsEnabled(MiddlewareRateLimit) && (o.RateLimit == nil || o.RateLimit.Limit <= 0 || o.RateLimit.Window <= 0) {
		errs = append(errs, fmt.Errorf("middleware.rate-limit limit and window must be positive"))
	}
	return errs
}
