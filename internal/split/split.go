package split

import (
	"avalo-ledger/internal/token"
)

// Split is the percentage division of a spent amount between the creator and
// the platform. The two always sum to 100.
type Split struct {
	CreatorPercent  int64 `json:"creator_percent"`
	PlatformPercent int64 `json:"platform_percent"`
}

// PlatformOnly routes the full amount to the platform.
var PlatformOnly = Split{CreatorPercent: 0, PlatformPercent: 100}

// splitTable maps each business context to its revenue split. These numbers
// are product policy; change them only together with finance.
var splitTable = map[token.ContextType]Split{
	token.ContextChat:           {CreatorPercent: 65, PlatformPercent: 35},
	token.ContextMedia:          {CreatorPercent: 65, PlatformPercent: 35},
	token.ContextDigitalProduct: {CreatorPercent: 65, PlatformPercent: 35},
	token.ContextCall:           {CreatorPercent: 80, PlatformPercent: 20},
	token.ContextCalendar:       {CreatorPercent: 80, PlatformPercent: 20},
	token.ContextEvent:          {CreatorPercent: 80, PlatformPercent: 20},
	token.ContextTip:            {CreatorPercent: 90, PlatformPercent: 10},
	// AI sessions have no human creator behind them.
	token.ContextAISession: PlatformOnly,
	token.ContextAvaloOnly: PlatformOnly,
}

// Resolve returns the revenue split for a context. Unknown contexts fall back
// to platform-only; ok is false so the caller can log the fallback. The
// default must never be silent.
func Resolve(contextType token.ContextType) (s Split, ok bool) {
	s, ok = splitTable[contextType]
	if !ok {
		return PlatformOnly, false
	}
	return s, true
}

// Apply divides amount according to the split. The creator share rounds down;
// the remainder, including any rounding residue, accrues to the platform, so
// creator+platform always equals amount exactly.
func (s Split) Apply(amount int64) (creator, platform int64) {
	if amount <= 0 {
		return 0, 0
	}
	creator = amount * s.CreatorPercent / 100
	platform = amount - creator
	return creator, platform
}
