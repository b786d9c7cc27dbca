// Package admission implements the pre-dispatch policy checks. The gate runs
// once per request before any handler state exists; the first failing rule
// rejects the request with a fixed status code and the pipeline stops there.
package admission

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/shirou/gopsutil/v3/load"

	"app_kernel/internal/request"
)

// Rule names, used in logs and as metric labels.
const (
	RuleHost      = "host_allowlist"
	RuleParams    = "param_ceiling"
	RuleUserAgent = "user_agent"
	RuleExtension = "script_extension"
	RuleLoad      = "load_average"
)

// DefaultScriptExtensions is the denylist behind the script-extension rule:
// paths ending in a server-side-script extension are rejected because this
// kernel never serves such files, so asking for one is always a probe.
var DefaultScriptExtensions = []string{
	".php", ".php3", ".php4", ".php5", ".phtml",
	".asp", ".aspx", ".jsp", ".jspx",
	".cgi", ".pl", ".py", ".sh",
}

// Policy holds the gate's configured constraints. Nil pointer fields and an
// empty host list mean "no constraint": the corresponding rule is skipped,
// never failed.
type Policy struct {
	AllowedHosts          []string
	MaxParams             *int
	RequireUserAgent      *bool
	BlockScriptExtensions *bool
	LoadAvgCeiling        *float64
}

// Verdict is the gate's answer. The zero value passes; a rejection carries
// the HTTP status to answer with, the failed rule, and a short reason.
type Verdict struct {
	Rule   string
	Code   int
	Reason string
}

// Pass reports whether the request may continue into the pipeline.
func (v Verdict) Pass() bool { return v.Code == 0 }

// Reject builds a rejecting verdict.
func Reject(rule string, code int, reason string) Verdict {
	return Verdict{Rule: rule, Code: code, Reason: reason}
}

// LoadAvgFunc probes the 1-minute system load average. Injectable so tests
// and unusual platforms can replace the gopsutil probe.
type LoadAvgFunc func() (float64, error)

func systemLoadAvg() (float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

// GateConfig configures a Gate.
type GateConfig struct {
	// Policy to enforce. The zero Policy admits everything.
	Policy Policy

	// Logger for structured logging (optional, uses slog.Default if nil).
	Logger *slog.Logger

	// ScriptExtensions overrides the denylist for the extension rule.
	// Default: DefaultScriptExtensions.
	ScriptExtensions []string

	// LoadAvg overrides the load probe. Default: gopsutil 1-minute average.
	LoadAvg LoadAvgFunc
}

// Gate evaluates the admission rules in fixed order with short-circuiting:
// host allow-list, parameter ceiling, user-agent requirement, script
// extension sniff, load-average ceiling.
type Gate struct {
	policy     Policy
	logger     *slog.Logger
	extensions []string
	loadAvg    LoadAvgFunc
}

// NewGate builds a gate from config. A nil config admits everything.
func NewGate(config *GateConfig) *Gate {
	if config == nil {
		config = &GateConfig{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	extensions := config.ScriptExtensions
	if extensions == nil {
		extensions = DefaultScriptExtensions
	}
	loadAvg := config.LoadAvg
	if loadAvg == nil {
		loadAvg = systemLoadAvg
	}
	return &Gate{
		policy:     config.Policy,
		logger:     logger,
		extensions: extensions,
		loadAvg:    loadAvg,
	}
}

// Check runs the rules in order and returns the first rejection, or a
// passing verdict when every configured rule is satisfied.
func (g *Gate) Check(snap *request.Snapshot) Verdict {
	checks := []func(*request.Snapshot) Verdict{
		g.checkHost,
		g.checkParamCount,
		g.checkUserAgent,
		g.checkExtension,
		g.checkLoad,
	}
	for _, check := range checks {
		if v := check(snap); !v.Pass() {
			g.logger.Warn("request rejected at admission",
				"rule", v.Rule,
				"status", v.Code,
				"reason", v.Reason,
				"method", snap.Method(),
				"path", snap.Path(),
				"host", snap.Host(),
				"client_ip", snap.Client().IP,
			)
			return v
		}
	}
	return Verdict{}
}

func (g *Gate) checkHost(snap *request.Snapshot) Verdict {
	if len(g.policy.AllowedHosts) == 0 {
		return Verdict{}
	}
	host := snap.Hostname()
	if host == "" {
		return Reject(RuleHost, http.StatusBadRequest, "host header missing")
	}
	for _, allowed := range g.policy.AllowedHosts {
		if host == normalizeHost(allowed) {
			return Verdict{}
		}
	}
	return Reject(RuleHost, http.StatusBadRequest, fmt.Sprintf("host %q not allowed", host))
}

func (g *Gate) checkParamCount(snap *request.Snapshot) Verdict {
	if g.policy.MaxParams == nil {
		return Verdict{}
	}
	if count := snap.ParamCount(); count > *g.policy.MaxParams {
		return Reject(RuleParams, http.StatusTooManyRequests,
			fmt.Sprintf("%d parameters exceed the ceiling of %d", count, *g.policy.MaxParams))
	}
	return Verdict{}
}

func (g *Gate) checkUserAgent(snap *request.Snapshot) Verdict {
	if g.policy.RequireUserAgent == nil || !*g.policy.RequireUserAgent {
		return Verdict{}
	}
	if strings.TrimSpace(snap.UserAgent()) == "" {
		return Reject(RuleUserAgent, http.StatusBadRequest, "user agent required")
	}
	return Verdict{}
}

func (g *Gate) checkExtension(snap *request.Snapshot) Verdict {
	if g.policy.BlockScriptExtensions == nil || !*g.policy.BlockScriptExtensions {
		return Verdict{}
	}
	path := strings.ToLower(snap.Path())
	for _, ext := range g.extensions {
		if strings.HasSuffix(path, ext) {
			return Reject(RuleExtension, http.StatusBadRequest,
				fmt.Sprintf("path ends in blocked extension %q", ext))
		}
	}
	return Verdict{}
}

func (g *Gate) checkLoad(snap *request.Snapshot) Verdict {
	if g.policy.LoadAvgCeiling == nil {
		return Verdict{}
	}
	avg, err := g.loadAvg()
	if err != nil {
		// A broken probe must not reject traffic; the rule is skipped.
		g.logger.Warn("load average probe failed, skipping rule", "error", err)
		return Verdict{}
	}
	if avg > *g.policy.LoadAvgCeiling {
		return Reject(RuleLoad, http.StatusServiceUnavailable,
			fmt.Sprintf("load average %.2f exceeds ceiling %.2f", avg, *g.policy.LoadAvgCeiling))
	}
	return Verdict{}
}

func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
