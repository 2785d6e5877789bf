package signal

import "github.com/rs/zerolog"

// Memo caches guarded scores by bar index for the duration of one run.
type Memo struct {
	src       Source
	scores    map[int]float64
	fallbacks int
	log       zerolog.Logger
}

func NewMemo(src Source, log zerolog.Logger) *Memo {
	return &Memo{
		src:    src,
		scores: make(map[int]float64),
		log:    log,
	}
}

// Score returns the cached score for idx, querying the source once.
// fallback is true when the source failed and NeutralScore was used.
func (m *Memo) Score(idx int) (score float64, fallback bool) {
	if s, ok := m.scores[idx]; ok {
		return s, false
	}

	s, err := Guard(m.src, idx)
	if err != nil {
		m.fallbacks++
		m.log.Warn().Err(err).Int("bar", idx).Msg("signal fallback to neutral")
		fallback = true
	}
	m.scores[idx] = s
	return s, fallback
}

// Fallbacks counts bars that fell back to NeutralScore.
func (m *Memo) Fallbacks() int { return m.fallbacks }

func (m *Memo) Len() int { return len(m.scores) }

// Reset drops every cached score so the memo can serve another series.
func (m *Memo) Reset() {
	clear(m.scores)
	m.fallbacks = 0
}
