// Package feedback turns ingestion latency and reward signals into a bias
// score and the next admission-latency budget.
//
// The coordinator owns a slow-moving confidence parameter (intuition alpha)
// that grows when the sign of intuition × reward agrees positively on two
// consecutive calls and shrinks when it agrees negatively. The latency
// weight tunes itself so the latency penalty neither dominates nor vanishes.
package feedback

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/roach88/motifcore/internal/metrics"
)

// Defaults for Config.
const (
	DefaultLatencyBudget    = 50 * time.Millisecond
	DefaultHardFloor        = time.Millisecond
	DefaultMaxLatencyBudget = 2 * time.Second
	DefaultEntropyWeight    = 1.0
	DefaultLatencyWeight    = 1.0
	DefaultAlpha            = 0.5
	DefaultAlphaMin         = 0.1
	DefaultAlphaMax         = 1.0
	DefaultRewardWindow     = 32
)

// Tuning factors.
const (
	alphaGrow         = 1.1
	alphaShrink       = 0.9
	latencyGrow       = 1.05
	latencyShrink     = 0.99
	latencyWeightMin  = 0.1
	latencyWeightMax  = 10.0
	overBudgetRatio   = 1.2
	budgetStepPerBias = 0.01
	harmPenalty       = 0.1
)

// Config holds the coordinator's initial state and bounds.
type Config struct {
	LatencyBudget    time.Duration
	HardFloor        time.Duration
	MaxLatencyBudget time.Duration
	EntropyWeight    float64
	LatencyWeight    float64
	Alpha            float64
	AlphaMin         float64
	AlphaMax         float64
	RewardWindow     int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		LatencyBudget:    DefaultLatencyBudget,
		HardFloor:        DefaultHardFloor,
		MaxLatencyBudget: DefaultMaxLatencyBudget,
		EntropyWeight:    DefaultEntropyWeight,
		LatencyWeight:    DefaultLatencyWeight,
		Alpha:            DefaultAlpha,
		AlphaMin:         DefaultAlphaMin,
		AlphaMax:         DefaultAlphaMax,
		RewardWindow:     DefaultRewardWindow,
	}
}

// Validate reports every invalid parameter.
func (c Config) Validate() error {
	var errs []error
	if c.HardFloor <= 0 {
		errs = append(errs, fmt.Errorf("hard floor must be positive, got %v", c.HardFloor))
	}
	if c.MaxLatencyBudget < c.HardFloor {
		errs = append(errs, fmt.Errorf("max latency budget %v below hard floor %v", c.MaxLatencyBudget, c.HardFloor))
	}
	if c.LatencyBudget < c.HardFloor || c.LatencyBudget > c.MaxLatencyBudget {
		errs = append(errs, fmt.Errorf("latency budget %v outside [%v, %v]", c.LatencyBudget, c.HardFloor, c.MaxLatencyBudget))
	}
	if !(c.AlphaMin > 0 && c.AlphaMin <= c.AlphaMax) {
		errs = append(errs, fmt.Errorf("alpha bounds [%v, %v] invalid", c.AlphaMin, c.AlphaMax))
	}
	if c.Alpha < c.AlphaMin || c.Alpha > c.AlphaMax {
		errs = append(errs, fmt.Errorf("alpha %v outside [%v, %v]", c.Alpha, c.AlphaMin, c.AlphaMax))
	}
	if c.LatencyWeight < latencyWeightMin || c.LatencyWeight > latencyWeightMax {
		errs = append(errs, fmt.Errorf("latency weight %v outside [%v, %v]", c.LatencyWeight, latencyWeightMin, latencyWeightMax))
	}
	if c.RewardWindow <= 0 {
		errs = append(errs, fmt.Errorf("reward window must be positive, got %d", c.RewardWindow))
	}
	return errors.Join(errs...)
}

// Signals are the per-ingestion inputs. Every field is a best-effort signal;
// out-of-range values are clamped.
type Signals struct {
	CtxRatio        float64
	RewardEntropy   float64
	HarmHits        int
	StepLatency     time.Duration
	IntuitionWeight float64
	ParallelRunning int
	MaxParallel     int
}

func (s Signals) clamped() Signals {
	s.CtxRatio = clamp(finiteOr(s.CtxRatio, 0), 0, 1)
	s.RewardEntropy = finiteOr(s.RewardEntropy, 0)
	s.IntuitionWeight = finiteOr(s.IntuitionWeight, 0)
	if s.HarmHits < 0 {
		s.HarmHits = 0
	}
	if s.StepLatency < 0 {
		s.StepLatency = 0
	}
	if s.MaxParallel <= 0 {
		s.MaxParallel = 1
	}
	s.ParallelRunning = min(max(s.ParallelRunning, 0), s.MaxParallel)
	return s
}

// Result is the outcome of one OnIngest call.
type Result struct {
	Bias       float64
	NextBudget time.Duration

	// LatencyRatio is step latency over the budget in force for this call.
	LatencyRatio float64

	// Fault is set when the bias could not be computed. Bias is then zero
	// and NextBudget is the unchanged budget.
	Fault bool
}

// State is a point-in-time copy of the coordinator's scalars.
type State struct {
	LatencyBudget time.Duration `json:"latency_budget"`

	// EntropyWeight is fixed at its configured value. No ingestion signal
	// adjusts it; only LatencyWeight and IntuitionAlpha adapt.
	EntropyWeight  float64       `json:"entropy_weight"`
	LatencyWeight  float64       `json:"latency_weight"`
	IntuitionAlpha float64       `json:"intuition_alpha"`
	LastRewardSign int           `json:"last_reward_sign"`
	RewardEMA      float64       `json:"reward_ema"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// Coordinator is the feedback controller. Safe for concurrent use.
type Coordinator struct {
	mu  sync.Mutex
	cfg Config

	budget        time.Duration
	entropyWeight float64
	latencyWeight float64
	alpha         float64
	lastSign      int
	rewards       []float64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Coordinator.
func New(cfg Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("feedback config: %w", err)
	}
	c := &Coordinator{
		cfg:           cfg,
		budget:        cfg.LatencyBudget,
		entropyWeight: cfg.EntropyWeight,
		latencyWeight: cfg.LatencyWeight,
		alpha:         cfg.Alpha,
		rewards:       make([]float64, 0, cfg.RewardWindow),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics = metrics.OrNew(c.metrics)
	c.metrics.LatencyBudget.Set(c.budget.Seconds())
	c.metrics.IntuitionAlpha.Set(c.alpha)
	return c, nil
}

// OnIngest computes the bias score and the next latency budget. A fault
// while computing the bias is recovered and counted; the result then has
// zero bias, the unchanged budget and Fault set.
func (c *Coordinator) OnIngest(s Signals) (res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			res = c.fault(fmt.Errorf("panic: %v", r))
		}
	}()

	s = s.clamped()
	budget := c.budget.Seconds()
	latency := s.StepLatency.Seconds()
	ratio := latency / budget

	// 1. Latency penalty
	penalty := (ratio + float64(s.ParallelRunning)/float64(s.MaxParallel)) * c.latencyWeight

	// 2. Bias
	bias := s.RewardEntropy*c.entropyWeight - penalty + s.IntuitionWeight*c.alpha
	if math.IsNaN(bias) || math.IsInf(bias, 0) {
		return c.fault(fmt.Errorf("non-finite bias %v", bias))
	}

	// 3. Sign agreement
	sign := signum(s.IntuitionWeight * -penalty)
	if sign != 0 && sign == c.lastSign {
		if sign > 0 {
			c.alpha = math.Min(c.alpha*alphaGrow, c.cfg.AlphaMax)
		} else {
			c.alpha = math.Max(c.alpha*alphaShrink, c.cfg.AlphaMin)
		}
	}
	c.lastSign = sign

	// 4. Latency weight
	if latency > overBudgetRatio*budget {
		c.latencyWeight *= latencyGrow
	} else {
		c.latencyWeight *= latencyShrink
	}
	c.latencyWeight = clamp(c.latencyWeight, latencyWeightMin, latencyWeightMax)

	// 5. Next budget
	next := math.Max(budget*0.5, budget-bias*budgetStepPerBias)
	next = math.Min(next, c.cfg.MaxLatencyBudget.Seconds())
	c.budget = max(secondsToDuration(next), c.cfg.HardFloor)

	c.pushReward(1 + bias*s.CtxRatio - harmPenalty*float64(s.HarmHits))
	c.metrics.LatencyBudget.Set(c.budget.Seconds())
	c.metrics.IntuitionAlpha.Set(c.alpha)

	return Result{Bias: bias, NextBudget: c.budget, LatencyRatio: ratio}
}

// fault counts a failed bias computation. Caller holds c.mu.
func (c *Coordinator) fault(err error) Result {
	c.metrics.FeedbackFaults.Inc()
	c.logger.Warn("feedback fault, using zero bias", "error", err, "budget", c.budget)
	return Result{NextBudget: c.budget, Fault: true}
}

func (c *Coordinator) pushReward(r float64) {
	if len(c.rewards) == c.cfg.RewardWindow {
		copy(c.rewards, c.rewards[1:])
		c.rewards = c.rewards[:len(c.rewards)-1]
	}
	c.rewards = append(c.rewards, r)
}

// RewardEMA returns the exponential moving average of the rolling reward
// window, oldest sample first. An empty window is neutral (1.0).
func (c *Coordinator) RewardEMA() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rewardEMA()
}

func (c *Coordinator) rewardEMA() float64 {
	if len(c.rewards) == 0 {
		return 1.0
	}
	k := 2 / float64(len(c.rewards)+1)
	ema := c.rewards[0]
	for _, r := range c.rewards[1:] {
		ema = k*r + (1-k)*ema
	}
	return ema
}

// Budget returns the latency budget in force.
func (c *Coordinator) Budget() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// Alpha returns the current intuition alpha.
func (c *Coordinator) Alpha() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alpha
}

// Snapshot returns a copy of the coordinator's state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		LatencyBudget:  c.budget,
		EntropyWeight:  c.entropyWeight,
		LatencyWeight:  c.latencyWeight,
		IntuitionAlpha: c.alpha,
		LastRewardSign: c.lastSign,
		RewardEMA:      c.rewardEMA(),
	}
}

func signum(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
