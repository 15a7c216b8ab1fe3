package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"featurerecall/internal/config"
	"featurerecall/internal/logger"
	"featurerecall/internal/models"
	"featurerecall/internal/repository"
	"featurerecall/internal/services/detection"
	"featurerecall/internal/services/media"
	"featurerecall/internal/services/render"
	"featurerecall/internal/services/search"
	"featurerecall/internal/services/storage"
	"featurerecall/internal/services/vocabulary"
	"featurerecall/internal/services/websocket"
)

// Detectors resolves model ids to loaded detectors.
type Detectors interface {
	Get(id string) (detection.Detector, error)
	IDs() []string
}

// Repositories groups the catalog stores used by the manager.
type Repositories struct {
	Media     repository.MediaRepository
	Runs      repository.RunRepository
	Artifacts repository.ArtifactRepository
}

// Manager ties ingestion, detection, storage, search and rendering together.
type Manager struct {
	config       *config.Config
	session      *storage.Session
	ingestor     *media.Ingestor
	detectors    Detectors
	vocabularies *vocabulary.Set
	store        *storage.DetectionStore
	invoker      *detection.Invoker
	renderer     *render.Renderer
	hub          *websocket.HubService
	repos        Repositories
	logger       *logger.Logger

	// at most one detection run in flight per (media, model)
	runs    singleflight.Group
	flights *flights
}

func NewManager(
	cfg *config.Config,
	session *storage.Session,
	detectors Detectors,
	vocabularies *vocabulary.Set,
	hub *websocket.HubService,
	repos Repositories,
	logger *logger.Logger,
) (*Manager, error) {
	store, err := storage.NewDetectionStore(session.TablesDir)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		config:       cfg,
		session:      session,
		ingestor:     media.NewIngestor(session, logger),
		detectors:    detectors,
		vocabularies: vocabularies,
		store:        store,
		invoker:      detection.NewInvoker(logger, cfg.ProgressEvery),
		renderer:     render.NewRenderer(session, logger),
		hub:          hub,
		repos:        repos,
		logger:       logger,
		flights:      newFlights(),
	}

	manager.logger.Info("🎬 Manager started - models: %s, threshold %.2f", strings.Join(detectors.IDs(), ", "), cfg.ScoreThreshold)
	return manager, nil
}

func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.hub
}

func (m *Manager) GetSession() *storage.Session {
	return m.session
}

// Upload validates and stores a media file and registers it in the catalog.
func (m *Manager) Upload(name string, data []byte, kind models.MediaKind) (*models.MediaAsset, error) {
	asset, err := m.ingestor.Ingest(name, data, kind)
	if err != nil {
		return nil, err
	}
	id, err := m.repos.Media.Upsert(asset)
	if err != nil {
		return nil, err
	}
	asset.ID = id
	return asset, nil
}

// asset resolves a media name through the catalog, falling back to the session directory.
func (m *Manager) asset(name string) (*models.MediaAsset, error) {
	if !storage.ValidBaseName(name) {
		return nil, &models.InvalidNameError{Name: name, Kind: "media"}
	}
	asset, err := m.repos.Media.GetByName(name)
	if err != nil {
		return nil, err
	}
	if asset != nil {
		if _, err := os.Stat(asset.Path); err == nil {
			return asset, nil
		}
		return nil, &models.MediaNotFoundError{Media: name}
	}

	asset, err = m.ingestor.Probe(name)
	if err != nil {
		return nil, &models.MediaNotFoundError{Media: name}
	}
	if asset.ID, err = m.repos.Media.Upsert(asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// modelIDs deduplicates the requested ids, defaulting to every loaded model,
// and rejects unknown ids before any work starts.
func (m *Manager) modelIDs(requested []string) ([]string, error) {
	if len(requested) == 0 {
		ids := m.detectors.IDs()
		if len(ids) == 0 {
			return nil, errors.New("no detection models are loaded")
		}
		return ids, nil
	}

	seen := make(map[string]bool)
	var ids []string
	for _, id := range requested {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if _, err := m.detectors.Get(id); err != nil {
			return nil, err
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("no model ids given")
	}
	return ids, nil
}

// Process runs every requested model over the media and persists one table per model.
// Models run concurrently up to the configured worker count.
func (m *Manager) Process(ctx context.Context, mediaName string, modelIDs []string) ([]models.DetectionRun, error) {
	ids, err := m.modelIDs(modelIDs)
	if err != nil {
		return nil, err
	}
	asset, err := m.asset(mediaName)
	if err != nil {
		return nil, err
	}

	job := uuid.NewString()
	results := make([]models.DetectionRun, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.DetectionWorkers)
	for i, id := range ids {
		g.Go(func() error {
			run, err := m.detect(gctx, job, asset, id)
			if err != nil {
				m.hub.Publish(websocket.Event{Job: job, Type: websocket.EventError, Media: asset.Name, Model: id, Error: err.Error()})
				return err
			}
			results[i] = *run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// maxRejoins bounds how often a caller restarts after joining an abandoned run.
const maxRejoins = 3

// detect runs one model over the media, joining a run already in flight for
// the same (media, model). Each caller waits under its own ctx; the shared run
// is cancelled only once every caller has gone.
func (m *Manager) detect(ctx context.Context, job string, asset *models.MediaAsset, modelID string) (*models.DetectionRun, error) {
	key := asset.Name + "|" + modelID
	for attempt := 1; ; attempt++ {
		f := m.flights.join(key, job)
		ch := m.runs.DoChan(key, func() (any, error) {
			return m.runModel(f, asset, modelID)
		})

		var res singleflight.Result
		select {
		case res = <-ch:
			m.flights.leave(key, job, f)
		case <-ctx.Done():
			m.flights.leave(key, job, f)
			return nil, ctx.Err()
		}

		if res.Err != nil {
			// joined a run that its own callers abandoned; start over
			if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil && attempt < maxRejoins {
				continue
			}
			return nil, res.Err
		}
		if res.Shared {
			m.logger.Info("Joined in-flight detection of %s with %s", asset.Name, modelID)
		}
		return res.Val.(*models.DetectionRun), nil
	}
}

func (m *Manager) runModel(f *flight, asset *models.MediaAsset, modelID string) (*models.DetectionRun, error) {
	detector, err := m.detectors.Get(modelID)
	if err != nil {
		return nil, err
	}

	handle, err := m.ingestor.Open(asset)
	if err != nil {
		return nil, &models.DetectionError{Media: asset.Name, Model: modelID, Frame: -1, Err: err}
	}
	source, err := handle.Frames()
	if err != nil {
		return nil, &models.DetectionError{Media: asset.Name, Model: modelID, Frame: -1, Err: err}
	}
	defer source.Close()

	run, err := m.invoker.Detect(f.ctx, detection.Request{
		Media:      asset,
		ModelID:    modelID,
		Source:     source,
		Detector:   detector,
		Vocabulary: m.vocabularies.For(modelID),
		Threshold:  m.config.ScoreThreshold,
		OnProgress: func(p detection.Progress) {
			if p.Done {
				return
			}
			m.publish(f, websocket.Event{
				Type: websocket.EventProgress, Media: p.Media, Model: p.Model,
				Frame: p.Frame, Frames: asset.FrameCount, Records: p.Records,
			})
		},
	})
	if err != nil {
		return nil, err
	}

	if err := m.store.Create(asset.Name, modelID, run.Set); err != nil {
		m.logger.Error("%v", err)
		return nil, err
	}

	result := &models.DetectionRun{
		MediaName:    asset.Name,
		ModelID:      modelID,
		Table:        storage.NameFor(asset.Name, modelID, storage.PurposeDetections),
		Records:      len(run.Set.Records),
		Frames:       run.Frames,
		FailedFrames: len(run.Failures),
		Elapsed:      run.Elapsed,
		CreatedAt:    time.Now(),
	}
	if result.ID, err = m.repos.Runs.Upsert(result); err != nil {
		return nil, err
	}

	m.publish(f, websocket.Event{
		Type: websocket.EventDone, Media: asset.Name, Model: modelID,
		Frame: run.Frames, Frames: run.Frames, Records: result.Records,
	})
	return result, nil
}

// publish sends ev once for every job waiting on the run.
func (m *Manager) publish(f *flight, ev websocket.Event) {
	for _, job := range m.flights.jobs(f) {
		ev.Job = job
		m.hub.Publish(ev)
	}
}

// loadSets reads the stored tables of a media item. With no model ids every
// stored table is used.
func (m *Manager) loadSets(mediaName string, modelIDs []string) ([]models.DetectionSet, error) {
	ids := modelIDs
	if len(ids) > 0 {
		var err error
		if ids, err = m.modelIDs(modelIDs); err != nil {
			return nil, err
		}
	} else {
		stored, err := m.store.Tables(mediaName)
		if err != nil {
			return nil, err
		}
		if len(stored) == 0 {
			if _, err := m.asset(mediaName); err != nil {
				return nil, err
			}
			return nil, &models.StoreNotFoundError{Media: mediaName}
		}
		ids = stored
	}

	sets := make([]models.DetectionSet, 0, len(ids))
	for _, id := range ids {
		set, err := m.store.Load(mediaName, id)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// Search finds records whose label contains query in the stored tables of a media item.
func (m *Manager) Search(mediaName string, modelIDs []string, query string) (models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return models.SearchResult{}, &models.InvalidQueryError{Query: query, Reason: "query must not be empty"}
	}
	sets, err := m.loadSets(mediaName, modelIDs)
	if err != nil {
		return models.SearchResult{}, err
	}
	return search.Search(sets, query)
}

// Labels lists the distinct labels stored for a media item.
func (m *Manager) Labels(mediaName string, modelIDs []string) ([]string, error) {
	sets, err := m.loadSets(mediaName, modelIDs)
	if err != nil {
		return nil, err
	}
	return search.Labels(sets), nil
}

// Render searches and draws the matches. Without aggregate each model gets its
// own artifact; with aggregate all matches go into a single one.
func (m *Manager) Render(ctx context.Context, mediaName string, modelIDs []string, query string, aggregate bool) ([]*models.AnnotatedArtifact, error) {
	result, err := m.Search(mediaName, modelIDs, query)
	if err != nil {
		return nil, err
	}
	asset, err := m.asset(mediaName)
	if err != nil {
		return nil, err
	}

	batches := []models.SearchResult{result}
	if !aggregate {
		batches = batches[:0]
		for _, g := range result.Groups {
			batches = append(batches, models.SearchResult{Query: result.Query, Groups: []models.MatchGroup{g}})
		}
	}

	artifacts := make([]*models.AnnotatedArtifact, 0, len(batches))
	for _, batch := range batches {
		artifact, err := m.renderer.Render(ctx, asset, batch)
		if err != nil {
			return nil, err
		}
		if artifact.ID, err = m.repos.Artifacts.Upsert(artifact); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

// ListMedia returns every catalogued media item with its runs and artifacts.
func (m *Manager) ListMedia() ([]models.MediaOverview, error) {
	assets, err := m.repos.Media.GetAll()
	if err != nil {
		return nil, err
	}

	overviews := make([]models.MediaOverview, 0, len(assets))
	for _, asset := range assets {
		runs, err := m.repos.Runs.GetByMedia(asset.Name)
		if err != nil {
			return nil, err
		}
		artifacts, err := m.repos.Artifacts.GetByMedia(asset.Name)
		if err != nil {
			return nil, err
		}
		overviews = append(overviews, models.MediaOverview{MediaAsset: asset, Runs: runs, Artifacts: artifacts})
	}
	return overviews, nil
}

// Clear removes every media file, table and artifact together with their catalog rows.
// Clearing an empty session succeeds.
func (m *Manager) Clear() (int, error) {
	removed, err := m.session.Clear()
	errs := []error{err}
	errs = append(errs, m.repos.Artifacts.DeleteAll(), m.repos.Runs.DeleteAll(), m.repos.Media.DeleteAll())
	if err := errors.Join(errs...); err != nil {
		return removed, fmt.Errorf("failed to clear session: %w", err)
	}
	m.logger.Info("🧹 Session cleared, %d file(s) removed", removed)
	return removed, nil
}

// Models returns the ids of the loaded detection models.
func (m *Manager) Models() []string {
	return m.detectors.IDs()
}

// Categories returns the id to name mapping used to label a model's detections.
func (m *Manager) Categories(modelID string) (map[int]string, error) {
	if modelID != "" {
		if _, ok := m.config.Model(modelID); !ok {
			return nil, &models.UnknownModelError{Model: modelID}
		}
	}
	return m.vocabularies.For(modelID).Categories(), nil
}

// Reindex rebuilds the catalog from the files in the session directory.
func (m *Manager) Reindex(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.session.MediaDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list media: %w", err)
	}

	indexed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		asset, err := m.ingestor.Probe(entry.Name())
		if err != nil {
			m.logger.Warning("Skipping %s: %v", entry.Name(), err)
			continue
		}
		if asset.ID, err = m.repos.Media.Upsert(asset); err != nil {
			return indexed, err
		}
		if err := m.reindexRuns(asset); err != nil {
			return indexed, err
		}
		indexed++
	}

	if err := m.reindexArtifacts(); err != nil {
		return indexed, err
	}
	m.logger.Info("Reindexed %d media file(s)", indexed)
	return indexed, nil
}

func (m *Manager) reindexRuns(asset *models.MediaAsset) error {
	modelIDs, err := m.store.Tables(asset.Name)
	if err != nil {
		return err
	}
	for _, id := range modelIDs {
		set, err := m.store.Load(asset.Name, id)
		if err != nil {
			m.logger.Warning("Skipping table of %s/%s: %v", asset.Name, id, err)
			continue
		}
		run := &models.DetectionRun{
			MediaName: asset.Name,
			ModelID:   id,
			Table:     storage.NameFor(asset.Name, id, storage.PurposeDetections),
			Records:   len(set.Records),
			Frames:    asset.FrameCount,
		}
		if _, err := m.repos.Runs.Upsert(run); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) reindexArtifacts() error {
	entries, err := os.ReadDir(m.session.ArtifactsDir)
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}
	for _, entry := range entries {
		modelID, base, ok := storage.ParseArtifactName(entry.Name())
		if !ok || entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifact := &models.AnnotatedArtifact{
			Name:      entry.Name(),
			MediaName: base,
			ModelID:   modelID,
			Path:      m.session.ArtifactPath(entry.Name()),
			CreatedAt: info.ModTime(),
		}
		if _, err := m.repos.Artifacts.Upsert(artifact); err != nil {
			return err
		}
	}
	return nil
}
