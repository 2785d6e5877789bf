// Package backtest replays bars against a signal source under the risk
// manager and the trading-mode adapter.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/propsim/id"
	"github.com/rustyeddy/propsim/indicators"
	"github.com/rustyeddy/propsim/journal"
	"github.com/rustyeddy/propsim/ledger"
	"github.com/rustyeddy/propsim/market"
	"github.com/rustyeddy/propsim/mode"
	"github.com/rustyeddy/propsim/perf"
	"github.com/rustyeddy/propsim/risk"
	"github.com/rustyeddy/propsim/signal"
)

// Hook observes a run as it happens. Metrics recorders implement it.
type Hook interface {
	BarProcessed(t time.Time, balance, equity float64)
	BarSkipped()
	SignalFallback()
	RegimeFallback()
	EntryDenied(code string)
	TradeOpened(side ledger.Side, riskPct float64)
	TradeClosed(t ledger.Trade)
	StopTrailed(from, to float64)
	ModeChanged(ch mode.Change)
}

// Position is the open position of the instrument.
type Position struct {
	Side        ledger.Side
	EntryPrice  float64
	EntryTime   time.Time
	EntryIdx    int
	Size        float64
	Stop        float64
	InitialStop float64
	Target      float64
	RiskPct     float64
	Mode        mode.Mode
}

// Unrealized is the mark-to-market P&L at price, before exit costs.
func (p *Position) Unrealized(price float64) float64 {
	return float64(p.Side) * (price - p.EntryPrice) * p.Size
}

type Engine struct {
	bars []market.Bar
	src  signal.Source
	cfg  Config

	log     zerolog.Logger
	regime  mode.RegimeSource
	journal journal.Journal
	hook    Hook
	ids     *id.Generator
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithRegime(src mode.RegimeSource) Option {
	return func(e *Engine) { e.regime = src }
}

// WithJournal persists trades, per-bar equity and mode changes.
func WithJournal(j journal.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

func WithHook(h Hook) Option {
	return func(e *Engine) { e.hook = h }
}

// WithIDs sets the trade and run ID generator.
func WithIDs(g *id.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

func NewEngine(bars []market.Bar, src signal.Source, cfg Config, opts ...Option) (*Engine, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("backtest: bars are required")
	}
	if src == nil {
		return nil, fmt.Errorf("backtest: signal source is required")
	}
	if cfg.ModeCadence == "" {
		cfg.ModeCadence = CadenceBar
	}
	if cfg.CycleLookback > 0 {
		cfg.Mode.CycleLookback = cfg.CycleLookback
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		bars: bars,
		src:  src,
		cfg:  cfg,
		log:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.ids == nil {
		e.ids = id.NewGenerator(0)
	}
	if e.hook == nil {
		e.hook = nopHook{}
	}
	if blocked := cfg.BlockedModes(); len(blocked) > 0 {
		e.log.Warn().
			Interface("modes", blocked).
			Float64("min_reward_risk", cfg.MinRewardRisk).
			Msg("stop and target multipliers block entries in these modes")
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// run is the state of one Run call. Nothing survives between runs.
type run struct {
	*Engine

	ctx     context.Context
	log     zerolog.Logger
	mgr     *risk.Manager
	adapter *mode.Adapter
	memo    *signal.Memo
	atr     *indicators.ATR
	book    ledger.Ledger
	res     *Result

	balance float64
	pos     *Position
	closes  []float64
	valid   int

	lastTime time.Time
	hasLast  bool

	modeKey time.Time
	keyPnL  float64
}

// Run replays every bar once. A run that reaches the end of the data
// returns a nil error. On an invariant violation the partial result is
// returned together with an *InvariantError.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	runID := e.cfg.RunID
	if runID == "" {
		runID = e.ids.New()
	}
	log := e.log.With().Str("run", runID).Str("instrument", e.cfg.Instrument).Logger()

	mgr, err := risk.NewManager(e.cfg.InitialBalance, e.cfg.Risk, risk.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	adapter, err := mode.NewAdapter(e.cfg.Mode, mode.WithRegime(e.regime), mode.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	r := &run{
		Engine:  e,
		ctx:     ctx,
		log:     log,
		mgr:     mgr,
		adapter: adapter,
		memo:    signal.NewMemo(e.src, log),
		atr:     indicators.NewATR(e.cfg.ATRPeriod),
		balance: e.cfg.InitialBalance,
		res: &Result{
			RunID:      runID,
			Instrument: e.cfg.Instrument,
			LastIndex:  -1,
			Counters:   Counters{Denials: map[string]int{}},
		},
	}

	log.Info().Int("bars", len(e.bars)).Float64("balance", r.balance).Msg("backtest started")
	runErr := r.loop()
	r.finish()

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.Int("trades", len(r.res.Trades)).
		Float64("balance", r.balance).
		Int("last_index", r.res.LastIndex).
		Msg("backtest finished")
	return r.res, runErr
}

func (r *run) loop() error {
	last := r.lastValidIndex()

	for i, b := range r.bars {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		if !r.accept(i, b) {
			continue
		}
		if err := r.step(i, b, i == last); err != nil {
			return err
		}
		r.res.LastIndex = i
		if r.res.StoppedEarly {
			return nil
		}
	}
	return nil
}

// lastValidIndex finds the bar that will trigger the end-of-data exit.
func (r *run) lastValidIndex() int {
	last := -1
	var prev time.Time
	for i, b := range r.bars {
		if b.Validate() != nil || (last >= 0 && !b.Time.After(prev)) {
			continue
		}
		last, prev = i, b.Time
	}
	return last
}

// accept filters malformed and out-of-order bars.
func (r *run) accept(i int, b market.Bar) bool {
	err := b.Validate()
	if err == nil && r.hasLast && !b.Time.After(r.lastTime) {
		err = fmt.Errorf("%w: time %s not after %s", market.ErrMalformedBar,
			b.Time.Format(time.RFC3339), r.lastTime.Format(time.RFC3339))
	}
	if err != nil {
		r.res.SkippedBars++
		r.hook.BarSkipped()
		r.log.Warn().Err(err).Int("bar", i).Msg("skipping bar")
		return false
	}
	r.lastTime, r.hasLast = b.Time, true
	return true
}

func (r *run) step(i int, b market.Bar, last bool) error {
	if r.res.Start.IsZero() {
		r.res.Start = b.Time
	}
	r.res.End = b.Time
	r.res.Bars++
	r.valid++

	r.mgr.RollDay(b.Time)
	r.atr.Update(b)
	r.closes = append(r.closes, b.Close)
	if n := r.cfg.Mode.CycleLookback + 1; len(r.closes) > 2*n {
		r.closes = append(r.closes[:0], r.closes[len(r.closes)-n:]...)
	}

	key := r.evaluationKey(b.Time)
	if !key.Equal(r.modeKey) {
		r.modeKey, r.keyPnL = key, 0
	}

	score, fallback := r.memo.Score(i)
	if fallback {
		r.res.SignalFallbacks++
		r.hook.SignalFallback()
	}

	if r.pos != nil {
		if px, reason, hit := r.checkExit(b, score, last); hit {
			if err := r.closePosition(i, b, px, reason); err != nil {
				return err
			}
		} else {
			r.trail(b)
		}
	}

	if err := r.evaluateMode(key); err != nil {
		return err
	}

	if r.pos == nil && !last && r.warm() {
		if err := r.tryEntry(i, b, score); err != nil {
			return err
		}
	}

	equity := r.balance
	if r.pos != nil {
		equity += r.pos.Unrealized(b.Close)
	}
	r.res.Equity = append(r.res.Equity, ledger.EquityPoint{Time: b.Time, Equity: equity})
	r.hook.BarProcessed(b.Time, r.balance, equity)
	if r.journal != nil {
		err := r.journal.RecordEquity(journal.EquitySnapshot{
			RunID: r.res.RunID, Time: b.Time, Balance: r.balance, Equity: equity,
		})
		if err != nil {
			return fmt.Errorf("backtest: journal: %w", err)
		}
	}

	if r.cfg.StopOnChallengePass && r.pos == nil && r.mgr.ChallengePassed() {
		r.res.StoppedEarly = true
		r.log.Info().Time("time", b.Time).Float64("balance", r.balance).Msg("challenge passed, stopping run")
	}
	return nil
}

func (r *run) evaluationKey(t time.Time) time.Time {
	if r.cfg.ModeCadence == CadenceDay {
		return t.UTC().Truncate(24 * time.Hour)
	}
	return t
}

func (r *run) warm() bool {
	return r.atr.Ready() && r.valid >= r.cfg.WarmupBars
}

// checkExit applies the exit rules in priority order: stop, target,
// opposing signal, end of data. A bar that breaches both stop and target
// exits at the stop.
func (r *run) checkExit(b market.Bar, score float64, last bool) (float64, ledger.ExitReason, bool) {
	p := r.pos
	switch p.Side {
	case ledger.Long:
		if b.Low <= p.Stop {
			return p.Stop, ledger.StopLoss, true
		}
		if b.High >= p.Target {
			return p.Target, ledger.TakeProfit, true
		}
	case ledger.Short:
		if b.High >= p.Stop {
			return p.Stop, ledger.StopLoss, true
		}
		if b.Low <= p.Target {
			return p.Target, ledger.TakeProfit, true
		}
	}
	if side, ok := ledger.SideOf(score); ok && side != p.Side {
		return b.Close, ledger.OpposingSignal, true
	}
	if last {
		return b.Close, ledger.EndOfData, true
	}
	return 0, "", false
}

// trail tightens the stop toward price. The stop only ever moves in the
// position's favor.
func (r *run) trail(b market.Bar) {
	t := r.cfg.Trailing
	if !t.Enabled || !r.atr.Ready() {
		return
	}
	p := r.pos
	if t.OnlyInProfit && p.Unrealized(b.Close) <= 0 {
		return
	}

	dist := t.ATRMultiplier * r.atr.Value()
	cand := b.Close - float64(p.Side)*dist
	tighter := (p.Side == ledger.Long && cand > p.Stop && cand < b.Close) ||
		(p.Side == ledger.Short && cand < p.Stop && cand > b.Close)
	if !tighter {
		return
	}

	r.hook.StopTrailed(p.Stop, cand)
	r.res.StopsTrailed++
	r.log.Debug().Float64("from", p.Stop).Float64("to", cand).Time("time", b.Time).Msg("stop trailed")
	p.Stop = cand
}

func (r *run) evaluateMode(key time.Time) error {
	before := r.adapter.RegimeFallbacks()
	changed := r.adapter.Update(mode.Inputs{
		Time:           key,
		Balance:        r.balance,
		InitialBalance: r.cfg.InitialBalance,
		PnL:            r.keyPnL,
		TradesToday:    r.mgr.Snapshot().TradesToday,
		Closes:         r.closes,
	})
	for n := r.adapter.RegimeFallbacks() - before; n > 0; n-- {
		r.res.RegimeFallbacks++
		r.hook.RegimeFallback()
	}
	if !changed {
		return nil
	}

	h := r.adapter.History()
	ch := h[len(h)-1]
	r.hook.ModeChanged(ch)
	if r.journal != nil {
		err := r.journal.RecordModeChange(journal.ModeChange{
			RunID:    r.res.RunID,
			Time:     ch.Time,
			From:     string(ch.From),
			To:       string(ch.To),
			Reason:   ch.Reason,
			Balance:  ch.Balance,
			Drawdown: ch.Drawdown,
		})
		if err != nil {
			return fmt.Errorf("backtest: journal: %w", err)
		}
	}
	return nil
}

func (r *run) deny(i int, code, msg string) {
	r.res.Denials[code]++
	r.hook.EntryDenied(code)
	r.log.Debug().Int("bar", i).Str("code", code).Msg(msg)
}

func (r *run) tryEntry(i int, b market.Bar, score float64) error {
	params := r.adapter.Params(b.Time)
	side, ok := ledger.SideOf(score)
	if !ok || math.Abs(score) < params.SignalThreshold {
		return nil
	}

	atr := r.atr.Value()
	entry := b.Close
	stopDist := r.cfg.StopATRMultiplier * params.StopMult * atr
	targetDist := r.cfg.TargetATRMultiplier * params.TargetMult * atr
	if !(stopDist > 0) {
		r.log.Debug().Int("bar", i).Msg("zero volatility, no entry")
		return nil
	}
	stop := entry - float64(side)*stopDist
	target := entry + float64(side)*targetDist

	if rr := risk.RR(entry, stop, target); rr < r.cfg.MinRewardRisk {
		r.res.RejectedRR++
		r.log.Debug().Int("bar", i).Float64("rr", rr).Msg("reward/risk below minimum")
		return nil
	}

	riskPct := r.mgr.SafeRiskPct(r.cfg.BaseRiskPct*params.RiskMult*params.PositionMult, score)
	if riskPct <= 0 {
		r.deny(i, CodeNoRiskBuffer, "no loss buffer left for new risk")
		return nil
	}
	if n := r.mgr.Snapshot().TradesToday; n >= params.MaxTradesPerDay {
		r.deny(i, CodeModeTradeCap, fmt.Sprintf("mode %s allows %d trades per day", r.adapter.Mode(), params.MaxTradesPerDay))
		return nil
	}
	if d := r.mgr.CanOpenPosition(riskPct); !d.Allowed {
		r.deny(i, d.Code(), d.Reason())
		return nil
	}

	size := risk.PositionSize(r.balance, riskPct, entry, stop)
	if !(size > 0) || math.IsInf(size, 0) {
		return invariant(i, b.Time, risk.ErrStateCorrupt, "position size %v for balance %.2f", size, r.balance)
	}
	if (side == ledger.Long && stop >= entry) || (side == ledger.Short && stop <= entry) {
		return invariant(i, b.Time, risk.ErrStateCorrupt, "%s stop %.8f on the wrong side of entry %.8f", side, stop, entry)
	}

	r.mgr.RegisterTradeOpen(riskPct, b.Time)
	r.pos = &Position{
		Side:        side,
		EntryPrice:  entry,
		EntryTime:   b.Time,
		EntryIdx:    i,
		Size:        size,
		Stop:        stop,
		InitialStop: stop,
		Target:      target,
		RiskPct:     riskPct,
		Mode:        r.adapter.Mode(),
	}
	r.res.TradesOpened++
	r.hook.TradeOpened(side, riskPct)
	r.log.Debug().
		Int("bar", i).
		Str("side", side.String()).
		Float64("entry", entry).
		Float64("stop", stop).
		Float64("target", target).
		Float64("size", size).
		Float64("risk_pct", riskPct).
		Msg("position opened")
	return nil
}

// closePosition books the trade at price. Slippage and commission are
// charged on both legs.
func (r *run) closePosition(i int, b market.Bar, price float64, reason ledger.ExitReason) error {
	p := r.pos
	r.pos = nil

	turnover := (p.EntryPrice + price) * p.Size
	t := ledger.Trade{
		ID:         r.ids.At(b.Time),
		Instrument: r.cfg.Instrument,
		Side:       p.Side,
		EntryTime:  p.EntryTime,
		ExitTime:   b.Time,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		Size:       p.Size,
		Stop:       p.Stop,
		Target:     p.Target,
		GrossPnL:   float64(p.Side) * (price - p.EntryPrice) * p.Size,
		Slippage:   turnover * r.cfg.SlippageBps / 1e4,
		Commission: turnover * r.cfg.CommissionPct,
		RiskPct:    p.RiskPct,
		Mode:       string(p.Mode),
		Reason:     reason,
	}
	t.PnL = t.GrossPnL - t.Slippage - t.Commission

	r.balance += t.PnL
	r.keyPnL += t.PnL
	if err := r.mgr.UpdateBalance(r.balance, b.Time); err != nil {
		return invariant(i, b.Time, err, "balance %.2f after trade %s", r.balance, t.ID)
	}
	r.mgr.RegisterTradeClose(t.PnL, risk.OutcomeOf(t.PnL), b.Time)
	if err := r.book.Append(t); err != nil {
		return invariant(i, b.Time, err, "trade %s rejected by ledger", t.ID)
	}

	r.hook.TradeClosed(t)
	r.log.Debug().
		Int("bar", i).
		Str("trade", t.ID).
		Str("reason", string(reason)).
		Float64("exit", price).
		Float64("pnl", t.PnL).
		Float64("balance", r.balance).
		Msg("position closed")

	if r.journal != nil {
		if err := r.journal.RecordTrade(journal.TradeFromLedger(r.res.RunID, t)); err != nil {
			return fmt.Errorf("backtest: journal: %w", err)
		}
	}
	return nil
}

func (r *run) finish() {
	res := r.res
	res.Trades = r.book.Trades()
	res.ModeHistory = r.adapter.History()
	res.FinalMode = r.adapter.Mode()
	res.FinalCycle = r.adapter.Cycle()
	res.Risk = r.mgr.Snapshot()
	res.Alerts = r.mgr.Alerts()
	res.Violations = r.mgr.Violations()
	res.Compliant, res.ComplianceIssues = r.mgr.CheckCompliance()
	res.ChallengePassed = r.mgr.ChallengePassed()
	res.Metrics = perf.Analyze(res.Trades, res.Equity, r.cfg.InitialBalance, perf.DefaultOptions())
}

type nopHook struct{}

func (nopHook) BarProcessed(time.Time, float64, float64) {}
func (nopHook) BarSkipped()                              {}
func (nopHook) SignalFallback()                          {}
func (nopHook) RegimeFallback()                          {}
func (nopHook) EntryDenied(string)                       {}
func (nopHook) TradeOpened(ledger.Side, float64)         {}
func (nopHook) TradeClosed(ledger.Trade)                 {}
func (nopHook) StopTrailed(float64, float64)             {}
func (nopHook) ModeChanged(mode.Change)                  {}
