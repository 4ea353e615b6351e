package interruptions

import (
	"strings"
	"sync"

	"github.com/square-key-labs/strawgo-transfer/src/logger"
)

var _ Strategy = (*MinWords)(nil)

// MinWords interrupts once the caller has said at least minWords words in
// the current turn. Short noises and backchannels ("mm", "ok") on a phone
// line then no longer stop the agent mid-sentence.
type MinWords struct {
	mu       sync.Mutex
	minWords int
	final    []string
	interim  string
	log      *logger.Logger
}

// NewMinWords creates a MinWords strategy. Values below 1 behave like 1.
func NewMinWords(minWords int) *MinWords {
	if minWords < 1 {
		minWords = 1
	}
	return &MinWords{
		minWords: minWords,
		log:      logger.WithPrefix("MinWordsInterruption"),
	}
}

func (m *MinWords) AppendText(text string, final bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if final {
		m.final = append(m.final, text)
		m.interim = ""
		return
	}
	m.interim = text
}

func (m *MinWords) ShouldInterrupt() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	words := len(strings.Fields(m.interim))
	for _, text := range m.final {
		words += len(strings.Fields(text))
	}
	interrupt := words >= m.minWords

	m.log.Debug("should_interrupt=%v spoken_words=%d min_words=%d", interrupt, words, m.minWords)
	return interrupt
}

func (m *MinWords) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.final = nil
	m.interim = ""
}
