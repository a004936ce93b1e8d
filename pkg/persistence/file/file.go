// Package file provides file-based persistence for actions, analyses and model graphs.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
)

const stateFile = "montracker.json"

// state is the whole store, written as a single JSON document.
type state struct {
	NextID      int64                         `json:"next_id"`
	Actions     map[int64]*models.Action      `json:"actions"`
	Analyses    map[int64]*models.Analysis    `json:"analyses"`
	Models      map[int64]*models.Model       `json:"models"`
	Weights     map[int64]*models.ModelWeight `json:"weights"`
	Profiles    map[int64]*models.Profile     `json:"profiles"`
	Layers      map[int64]*models.Layer       `json:"layers"`
	ModelTypes  map[int64]*models.ModelType   `json:"model_types"`
	PersonTypes map[int64]*models.PersonType  `json:"person_types"`
}

func newState() *state {
	s := &state{}
	s.init()

	return s
}

// init allocates the maps a decoded document left nil.
func (s *state) init() {
	if s.Actions == nil {
		s.Actions = make(map[int64]*models.Action)
	}

	if s.Analyses == nil {
		s.Analyses = make(map[int64]*models.Analysis)
	}

	if s.Models == nil {
		s.Models = make(map[int64]*models.Model)
	}

	if s.Weights == nil {
		s.Weights = make(map[int64]*models.ModelWeight)
	}

	if s.Profiles == nil {
		s.Profiles = make(map[int64]*models.Profile)
	}

	if s.Layers == nil {
		s.Layers = make(map[int64]*models.Layer)
	}

	if s.ModelTypes == nil {
		s.ModelTypes = make(map[int64]*models.ModelType)
	}

	if s.PersonTypes == nil {
		s.PersonTypes = make(map[int64]*models.PersonType)
	}
}

// clone copies the maps. Rows are never mutated in place, so sharing the
// row pointers between copies is safe.
func (s *state) clone() *state {
	return &state{
		NextID:      s.NextID,
		Actions:     maps.Clone(s.Actions),
		Analyses:    maps.Clone(s.Analyses),
		Models:      maps.Clone(s.Models),
		Weights:     maps.Clone(s.Weights),
		Profiles:    maps.Clone(s.Profiles),
		Layers:      maps.Clone(s.Layers),
		ModelTypes:  maps.Clone(s.ModelTypes),
		PersonTypes: maps.Clone(s.PersonTypes),
	}
}

var _ persistence.Persistence = (*Persistence)(nil)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string

	mu    sync.RWMutex
	state *state
	seen  stamp

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewPersistence opens the store under the root directory, loading any existing state.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	fp := &Persistence{
		root:  cleanRoot,
		state: newState(),
		locks: make(map[int64]*sync.Mutex),
	}

	loaded, seen, err := fp.load()
	if err != nil {
		return nil, err
	}

	if loaded != nil {
		fp.state = loaded
		fp.seen = seen
	}

	return fp, nil
}

// stamp identifies one version of the state file on disk.
type stamp struct {
	modTime time.Time
	size    int64
}

// load reads the state file. It returns a nil state when there is no file yet.
func (fp *Persistence) load() (*state, stamp, error) {
	info, err := os.Stat(fp.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, stamp{}, nil
		}

		return nil, stamp{}, fmt.Errorf("failed to stat state file: %w", err)
	}

	body, err := os.ReadFile(fp.path())
	if err != nil {
		return nil, stamp{}, fmt.Errorf("failed to read state file: %w", err)
	}

	loaded := newState()
	if err := json.Unmarshal(body, loaded); err != nil {
		return nil, stamp{}, fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	loaded.init()

	return loaded, stamp{modTime: info.ModTime(), size: info.Size()}, nil
}

// refreshLocked reloads the state when the file on disk is not the one this
// instance last read or wrote. The caller holds fp.mu for writing.
func (fp *Persistence) refreshLocked() error {
	info, err := os.Stat(fp.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to stat state file: %w", err)
	}

	if info.ModTime().Equal(fp.seen.modTime) && info.Size() == fp.seen.size {
		return nil
	}

	loaded, seen, err := fp.load()
	if err != nil || loaded == nil {
		return err
	}

	loaded.NextID = max(loaded.NextID, fp.state.NextID)
	fp.state = loaded
	fp.seen = seen

	return nil
}

func (fp *Persistence) path() string {
	return filepath.Join(fp.root, stateFile)
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Catalog returns the reference data store.
func (fp *Persistence) Catalog() persistence.Catalog {
	return &catalog{fp: fp}
}

// ActionRepository returns the action repository.
func (fp *Persistence) ActionRepository() persistence.ActionRepository {
	return &actionRepository{fp: fp}
}

// AnalysisRepository returns the analysis repository.
func (fp *Persistence) AnalysisRepository() persistence.AnalysisRepository {
	return &analysisRepository{fp: fp}
}

// ModelRepository returns the committed model reader.
func (fp *Persistence) ModelRepository() persistence.ModelRepository {
	return &modelRepository{fp: fp}
}

// read runs fn against the committed state.
func (fp *Persistence) read(fn func(s *state) error) error {
	fp.mu.Lock()
	err := fp.refreshLocked()
	fp.mu.Unlock()

	if err != nil {
		return err
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fn(fp.state)
}

// write applies fn to a copy of the state and swaps it in once it is on disk.
func (fp *Persistence) write(fn func(s *state) error) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if err := fp.refreshLocked(); err != nil {
		return err
	}

	next := fp.state.clone()
	if err := fn(next); err != nil {
		return err
	}

	if err := fp.flush(next); err != nil {
		return err
	}

	fp.state = next

	return nil
}

func (fp *Persistence) flush(s *state) error {
	err := os.MkdirAll(fp.root, 0750)
	if err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := fp.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	if err := os.Rename(tmp, fp.path()); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	info, err := os.Stat(fp.path())
	if err != nil {
		return fmt.Errorf("failed to stat state file: %w", err)
	}

	fp.seen = stamp{modTime: info.ModTime(), size: info.Size()}

	return nil
}

// nextID reserves an id. Ids reserved by a rolled back unit of work are not reused.
func (fp *Persistence) nextID() int64 {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	fp.state.NextID++

	return fp.state.NextID
}

func (fp *Persistence) lockAnalysis(id int64) func() {
	fp.locksMu.Lock()

	lock, ok := fp.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		fp.locks[id] = lock
	}

	fp.locksMu.Unlock()

	lock.Lock()

	return lock.Unlock
}

// WithinAnalysis runs fn over a private copy of the analysis rows and commits
// the journal of its writes in one state swap.
func (fp *Persistence) WithinAnalysis(
	ctx context.Context,
	analysisID int64,
	fn func(ctx context.Context, tx persistence.Tx) error,
) error {
	unlock := fp.lockAnalysis(analysisID)
	defer unlock()

	var unit *tx

	err := fp.read(func(s *state) error {
		var err error

		unit, err = newTx(fp, s, analysisID)

		return err
	})
	if err != nil {
		return err
	}

	if err := fn(ctx, unit); err != nil {
		return err
	}

	if len(unit.journal) == 0 {
		return nil
	}

	return fp.write(func(s *state) error {
		for _, apply := range unit.journal {
			apply(s)
		}

		return nil
	})
}

// CreateAnalysis inserts the analysis and runs fn on it. The insert and the
// writes of fn are committed in one state swap.
func (fp *Persistence) CreateAnalysis(
	ctx context.Context,
	analysis *models.Analysis,
	fn func(ctx context.Context, tx persistence.Tx) error,
) error {
	var action *models.Action

	err := fp.read(func(s *state) error {
		row, ok := s.Actions[analysis.ActionID]
		if !ok || row.Deleted {
			return persistence.NewEntityError("CreateAnalysis", "action", analysis.ActionID, persistence.ErrActionNotFound)
		}

		action = clone(row)

		return nil
	})
	if err != nil {
		return err
	}

	analysis.ID = fp.nextID()
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now().UTC()
	}

	unlock := fp.lockAnalysis(analysis.ID)
	defer unlock()

	row := clone(analysis)
	unit := &tx{
		fp:         fp,
		analysisID: analysis.ID,
		analysis:   clone(row),
		action:     action,
		models:     make(map[int64]*models.Model),
		weights:    make(map[int64]*models.ModelWeight),
		profiles:   make(map[int64]*models.Profile),
		layers:     make(map[int64]*models.Layer),
	}
	unit.record(func(s *state) { s.Analyses[row.ID] = row })

	if err := fn(ctx, unit); err != nil {
		return err
	}

	return fp.write(func(s *state) error {
		current, ok := s.Actions[analysis.ActionID]
		if !ok || current.Deleted {
			return persistence.NewEntityError("CreateAnalysis", "action", analysis.ActionID, persistence.ErrActionNotFound)
		}

		for _, apply := range unit.journal {
			apply(s)
		}

		return nil
	})
}

func clone[T any](row *T) *T {
	if row == nil {
		return nil
	}

	c := *row

	return &c
}

// liveAnalysis returns the analysis when neither it nor its action is deleted.
func liveAnalysis(s *state, id int64) (*models.Analysis, *models.Action, bool) {
	analysis, ok := s.Analyses[id]
	if !ok || analysis.Deleted {
		return nil, nil, false
	}

	action, ok := s.Actions[analysis.ActionID]
	if !ok || action.Deleted {
		return nil, nil, false
	}

	return analysis, action, true
}

func (s *state) allocate() int64 {
	s.NextID++

	return s.NextID
}
