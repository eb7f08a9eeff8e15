package strategy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/halvorsen-quant/autotrader/internal/domain"
	"github.com/halvorsen-quant/autotrader/internal/ports"
)

// wireRequest/wireResponse are the line-delimited JSON envelope spoken
// over the process-isolated strategy subprocess's stdin/stdout. Each
// request gets exactly one response line before the next request is
// written — the protocol has no pipelining, which keeps the host's read
// loop trivial and avoids ordering bugs across strategy swaps.
type wireRequest struct {
	Op       string                          `json:"op"`
	Limits   *ports.RiskLimitsView           `json:"limits,omitempty"`
	Symbols  []domain.Symbol                 `json:"symbols,omitempty"`
	Markets  map[domain.Symbol]domain.SymbolData `json:"markets,omitempty"`
	Portfolio *domain.Portfolio              `json:"portfolio,omitempty"`
	Now      time.Time                       `json:"now,omitempty"`
	Symbol   domain.Symbol                   `json:"symbol,omitempty"`
	Action   domain.Action                   `json:"action,omitempty"`
	Qty      *domain.Money                   `json:"qty,omitempty"`
	Price    *domain.Money                   `json:"price,omitempty"`
	Intent   domain.Intent                   `json:"intent,omitempty"`
	Tag      string                          `json:"tag,omitempty"`
	PnL      *domain.Money                   `json:"pnl,omitempty"`
	PnLPct   float64                         `json:"pnl_pct,omitempty"`
	State    []byte                          `json:"state,omitempty"`
}

type wireResponse struct {
	Signals []domain.Signal `json:"signals,omitempty"`
	State   []byte          `json:"state,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Subprocess runs a strategy binary out-of-process, isolating it from
// the engine's own memory space and enforcing the IO contract by
// construction: the subprocess has no handle to anything but stdin/stdout.
type Subprocess struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	enc      *json.Encoder
	scanner  *bufio.Scanner
	version  string
	allowed  domain.Allowlist
}

// NewSubprocess launches binaryPath. The caller must have already run
// CheckPurity against the strategy's source, if available, before
// trusting this process with live signals.
func NewSubprocess(ctx context.Context, binaryPath, version string) (*Subprocess, error) {
	cmd := exec.CommandContext(ctx, binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("strategy.NewSubprocess: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("strategy.NewSubprocess: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("strategy.NewSubprocess: start %s: %w", binaryPath, err)
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &Subprocess{
		cmd: cmd, enc: json.NewEncoder(stdin), scanner: scanner, version: version,
	}, nil
}

func (s *Subprocess) call(req wireRequest) (wireResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(req); err != nil {
		return wireResponse{}, fmt.Errorf("strategy.Subprocess: write request: %w", err)
	}
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return wireResponse{}, fmt.Errorf("strategy.Subprocess: read response: %w", err)
		}
		return wireResponse{}, fmt.Errorf("strategy.Subprocess: process closed stdout")
	}
	var resp wireResponse
	if err := json.Unmarshal(s.scanner.Bytes(), &resp); err != nil {
		return wireResponse{}, fmt.Errorf("strategy.Subprocess: decode response: %w", err)
	}
	if resp.Error != "" {
		return wireResponse{}, fmt.Errorf("strategy.Subprocess: strategy error: %s", resp.Error)
	}
	return resp, nil
}

func (s *Subprocess) Initialize(limits ports.RiskLimitsView, symbols []domain.Symbol) error {
	allowed := make(domain.Allowlist, len(symbols))
	for _, sym := range symbols {
		allowed[sym] = struct{}{}
	}
	s.allowed = allowed
	_, err := s.call(wireRequest{Op: "initialize", Limits: &limits, Symbols: symbols})
	return err
}

// Analyze re-validates the subprocess's output against the allowlist
// before returning it — the host layer (host.go) re-validates again with
// ValidateBatch, but a raw Subprocess must never hand an unvalidated
// batch to any caller that forgets to re-check.
func (s *Subprocess) Analyze(ctx context.Context, markets map[domain.Symbol]domain.SymbolData, portfolio domain.Portfolio, now time.Time) ([]domain.Signal, error) {
	resp, err := s.call(wireRequest{Op: "analyze", Markets: markets, Portfolio: &portfolio, Now: now})
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateBatch(resp.Signals, s.allowed); err != nil {
		return nil, err
	}
	return resp.Signals, nil
}

func (s *Subprocess) OnFill(symbol domain.Symbol, action domain.Action, qty, price domain.Money, intent domain.Intent, tag string) {
	_, _ = s.call(wireRequest{Op: "on_fill", Symbol: symbol, Action: action, Qty: &qty, Price: &price, Intent: intent, Tag: tag})
}

func (s *Subprocess) OnPositionClosed(symbol domain.Symbol, tag string, pnl domain.Money, pnlPct float64) {
	_, _ = s.call(wireRequest{Op: "on_position_closed", Symbol: symbol, Tag: tag, PnL: &pnl, PnLPct: pnlPct})
}

func (s *Subprocess) GetState() ([]byte, error) {
	resp, err := s.call(wireRequest{Op: "get_state"})
	if err != nil {
		return nil, err
	}
	return resp.State, nil
}

func (s *Subprocess) LoadState(blob []byte) error {
	_, err := s.call(wireRequest{Op: "load_state", State: blob})
	return err
}

func (s *Subprocess) ScanIntervalMinutes() int {
	resp, err := s.call(wireRequest{Op: "scan_interval_minutes"})
	if err != nil {
		return 5
	}
	var n int
	if len(resp.State) > 0 {
		_ = json.Unmarshal(resp.State, &n)
	}
	if n <= 0 {
		return 5
	}
	return n
}

func (s *Subprocess) Version() string { return s.version }

// Close terminates the subprocess. Called when the strategy host swaps
// to a different strategy or the engine shuts down.
func (s *Subprocess) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}
