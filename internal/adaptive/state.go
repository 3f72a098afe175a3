package adaptive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"PerpSentinel/internal/model"
)

// Decision is the last validity decision for a (symbol, timeframe) key.
type Decision struct {
	Score float64   `json:"score"`
	Valid bool      `json:"valid"`
	At    time.Time `json:"at"`
}

// State is the persisted adaptive state.
type State struct {
	Decisions              map[string]Decision        `json:"decisions"`
	CounterTrendDay        string                     `json:"counter_trend_day"`
	CounterTrendCountToday int                        `json:"counter_trend_count_today"`
	LastCounterTrendAt     time.Time                  `json:"last_counter_trend_at"`
	Outcomes               map[string][]model.Outcome `json:"outcomes"`
	UpdatedAt              time.Time                  `json:"updated_at"`
}

func newState() *State {
	return &State{
		Decisions: make(map[string]Decision),
		Outcomes:  make(map[string][]model.Outcome),
	}
}

// LoadState reads the state from a JSON file. Returns an empty state if the file doesn't exist.
func LoadState(filePath string) (*State, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), nil
		}
		return nil, err
	}
	state := newState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	if state.Decisions == nil {
		state.Decisions = make(map[string]Decision)
	}
	if state.Outcomes == nil {
		state.Outcomes = make(map[string][]model.Outcome)
	}
	return state, nil
}

// SaveState writes the state to a JSON file, creating its directory if needed.
// The file is replaced by rename, so readers see either the old or the new state.
func SaveState(filePath string, state *State, now time.Time) error {
	state.UpdatedAt = now
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return writeFileAtomic(dir, filePath, data)
}

func writeFileAtomic(dir, filePath string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, ".adaptive-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filePath)
}
