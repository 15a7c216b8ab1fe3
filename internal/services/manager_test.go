package services

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"featurerecall/internal/config"
	"featurerecall/internal/logger"
	"featurerecall/internal/models"
	"featurerecall/internal/repository/sqlite"
	"featurerecall/internal/services/detection"
	"featurerecall/internal/services/storage"
	"featurerecall/internal/services/vocabulary"
	"featurerecall/internal/services/websocket"
)

// ==== fakes ====

type stubDetector struct {
	raw   []models.RawDetection
	calls atomic.Int32

	entered chan struct{} // signalled on every call when set
	release chan struct{} // when set, calls block until it is closed
}

func (d *stubDetector) Detect(ctx context.Context, _ gocv.Mat) ([]models.RawDetection, error) {
	d.calls.Add(1)
	if d.entered != nil {
		d.entered <- struct{}{}
	}
	if d.release != nil {
		<-d.release
	}
	return d.raw, nil
}

// waiting reports how many callers wait on the run for key.
func (fs *flights) waiting(key string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f, ok := fs.byKey[key]; ok {
		return f.waiters
	}
	return 0
}

func waitEntered(t *testing.T, d *stubDetector) {
	t.Helper()
	select {
	case <-d.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("detector was never called")
	}
}

type stubDetectors map[string]detection.Detector

func (s stubDetectors) Get(id string) (detection.Detector, error) {
	d, ok := s[id]
	if !ok {
		return nil, &models.UnknownModelError{Model: id}
	}
	return d, nil
}

func (s stubDetectors) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ==== setup ====

type testEnv struct {
	manager *Manager
	m1, m2  *stubDetector
}

func setupManager(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	session, err := storage.NewSession(dir)
	require.NoError(t, err)

	db, err := sqlite.New(dir + "/catalog.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		ScoreThreshold:   0.8,
		DetectionWorkers: 2,
		ProgressEvery:    1,
		Models:           []config.ModelConfig{{ID: "m1", Format: "ssd"}, {ID: "m2", Format: "yolo"}},
	}

	m1 := &stubDetector{raw: []models.RawDetection{
		{ClassID: 17, Score: 0.91, Box: models.Box{X1: 10, Y1: 10, X2: 50, Y2: 50}},
		{ClassID: 18, Score: 0.5, Box: models.Box{X1: 60, Y1: 60, X2: 90, Y2: 90}},
	}}
	m2 := &stubDetector{raw: []models.RawDetection{
		{ClassID: 15, Score: 0.88, Box: models.Box{X1: 12, Y1: 12, X2: 48, Y2: 48}},
	}}

	vocabs := vocabulary.NewSet(vocabulary.New(map[int]string{17: "cat", 18: "dog"}))
	vocabs.Add("m2", vocabulary.New(map[int]string{15: "cat"}))

	log := logger.NewNop()
	manager, err := NewManager(cfg, session, stubDetectors{"m1": m1, "m2": m2}, vocabs,
		websocket.NewHubService(log),
		Repositories{
			Media:     sqlite.NewMediaRepository(db),
			Runs:      sqlite.NewRunRepository(db),
			Artifacts: sqlite.NewArtifactRepository(db),
		}, log)
	require.NoError(t, err)

	return &testEnv{manager: manager, m1: m1, m2: m2}
}

func pngBytes(t *testing.T, size int) []byte {
	t.Helper()
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size, size, gocv.MatTypeCV8UC3)
	defer mat.Close()
	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	require.NoError(t, err)
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

// ==== pipeline ====

func TestManager_ImagePipeline(t *testing.T) {
	env := setupManager(t)
	ctx := context.Background()

	asset, err := env.manager.Upload("cat.png", pngBytes(t, 100), "")
	require.NoError(t, err)
	assert.NotZero(t, asset.ID)

	runs, err := env.manager.Process(ctx, "cat.png", []string{"m1"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "m1_detections_cat.png.csv", runs[0].Table)
	assert.Equal(t, 1, runs[0].Records)

	result, err := env.manager.Search("cat.png", nil, "CAT")
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)
	assert.Equal(t, "cat", result.Groups[0].Records[0].Label)

	artifacts, err := env.manager.Render(ctx, "cat.png", nil, "cat", false)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "annotated_m1_cat.png", artifacts[0].Name)
	_, err = os.Stat(artifacts[0].Path)
	assert.NoError(t, err)

	overview, err := env.manager.ListMedia()
	require.NoError(t, err)
	require.Len(t, overview, 1)
	assert.Len(t, overview[0].Runs, 1)
	assert.Len(t, overview[0].Artifacts, 1)
}

func TestManager_MultiModelAggregateRender(t *testing.T) {
	env := setupManager(t)
	ctx := context.Background()

	_, err := env.manager.Upload("cat.png", pngBytes(t, 100), models.KindImage)
	require.NoError(t, err)

	runs, err := env.manager.Process(ctx, "cat.png", nil)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	labels, err := env.manager.Labels("cat.png", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat"}, labels)

	perModel, err := env.manager.Render(ctx, "cat.png", nil, "cat", false)
	require.NoError(t, err)
	require.Len(t, perModel, 2)

	aggregate, err := env.manager.Render(ctx, "cat.png", nil, "cat", true)
	require.NoError(t, err)
	require.Len(t, aggregate, 1)
	assert.Equal(t, "annotated_cat.png", aggregate[0].Name)
	assert.Equal(t, 2, aggregate[0].Records)
}

func TestManager_ProcessRejectsUnknownModelBeforeWork(t *testing.T) {
	env := setupManager(t)
	_, err := env.manager.Upload("cat.png", pngBytes(t, 32), "")
	require.NoError(t, err)

	_, err = env.manager.Process(context.Background(), "cat.png", []string{"m1", "nope"})

	var unknown *models.UnknownModelError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, int32(0), env.m1.calls.Load())
}

func TestManager_ProcessMissingMedia(t *testing.T) {
	env := setupManager(t)

	_, err := env.manager.Process(context.Background(), "ghost.png", []string{"m1"})

	var notFound *models.MediaNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestManager_ConcurrentProcessSameKeyRunsOnce(t *testing.T) {
	env := setupManager(t)
	env.m1.entered = make(chan struct{}, 3)
	env.m1.release = make(chan struct{})
	_, err := env.manager.Upload("cat.png", pngBytes(t, 32), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	runs := make([][]models.DetectionRun, 3)
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runs[i], errs[i] = env.manager.Process(context.Background(), "cat.png", []string{"m1"})
		}()
	}

	waitEntered(t, env.m1)
	require.Eventually(t, func() bool { return env.manager.flights.waiting("cat.png|m1") == 3 },
		5*time.Second, 5*time.Millisecond)
	close(env.m1.release)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err)
		require.Len(t, runs[i], 1)
		assert.Equal(t, 1, runs[i][0].Records)
	}
	assert.Equal(t, int32(1), env.m1.calls.Load())
	assert.Zero(t, env.manager.flights.waiting("cat.png|m1"))

	set, err := env.manager.store.Load("cat.png", "m1")
	require.NoError(t, err)
	assert.Len(t, set.Records, 1)
}

func TestManager_JoinedProcessOutlivesFirstCaller(t *testing.T) {
	env := setupManager(t)
	env.m1.entered = make(chan struct{}, 1)
	env.m1.release = make(chan struct{})
	_, err := env.manager.Upload("cat.png", pngBytes(t, 32), "")
	require.NoError(t, err)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := env.manager.Process(ctxA, "cat.png", []string{"m1"})
		errA <- err
	}()
	waitEntered(t, env.m1)

	type outcome struct {
		runs []models.DetectionRun
		err  error
	}
	doneB := make(chan outcome, 1)
	go func() {
		runs, err := env.manager.Process(context.Background(), "cat.png", []string{"m1"})
		doneB <- outcome{runs, err}
	}()
	require.Eventually(t, func() bool { return env.manager.flights.waiting("cat.png|m1") == 2 },
		5*time.Second, 5*time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(env.m1.release)
	b := <-doneB
	require.NoError(t, b.err)
	require.Len(t, b.runs, 1)
	assert.Equal(t, 1, b.runs[0].Records)
	assert.Equal(t, int32(1), env.m1.calls.Load())
	assert.True(t, env.manager.store.Exists("cat.png", "m1"))
}

func TestManager_RejectsUnsafeNames(t *testing.T) {
	env := setupManager(t)
	_, err := env.manager.Upload("cat.png", pngBytes(t, 32), "")
	require.NoError(t, err)
	_, err = env.manager.Process(context.Background(), "cat.png", []string{"m1"})
	require.NoError(t, err)

	var invalid *models.InvalidNameError
	_, err = env.manager.Process(context.Background(), "../../cat.png", []string{"m1"})
	assert.True(t, errors.As(err, &invalid))

	_, err = env.manager.Labels("../cat.png", nil)
	assert.True(t, errors.As(err, &invalid))

	var unknown *models.UnknownModelError
	_, err = env.manager.Search("cat.png", []string{"../m1"}, "cat")
	assert.True(t, errors.As(err, &unknown))

	_, err = env.manager.Labels("cat.png", []string{"ghost"})
	assert.True(t, errors.As(err, &unknown))
}

func TestManager_SearchErrors(t *testing.T) {
	env := setupManager(t)
	_, err := env.manager.Upload("cat.png", pngBytes(t, 32), "")
	require.NoError(t, err)

	_, err = env.manager.Search("cat.png", nil, "cat")
	var notFound *models.StoreNotFoundError
	require.True(t, errors.As(err, &notFound), "search before processing")

	_, err = env.manager.Process(context.Background(), "cat.png", []string{"m1"})
	require.NoError(t, err)

	_, err = env.manager.Search("cat.png", nil, "giraffe")
	var noMatch *models.NoMatchError
	assert.True(t, errors.As(err, &noMatch))

	_, err = env.manager.Search("cat.png", nil, "  ")
	var invalid *models.InvalidQueryError
	assert.True(t, errors.As(err, &invalid))
}

func TestManager_ClearIsIdempotent(t *testing.T) {
	env := setupManager(t)
	_, err := env.manager.Upload("cat.png", pngBytes(t, 32), "")
	require.NoError(t, err)
	_, err = env.manager.Process(context.Background(), "cat.png", []string{"m1"})
	require.NoError(t, err)

	removed, err := env.manager.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = env.manager.Clear()
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	all, err := env.manager.ListMedia()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestManager_Reindex(t *testing.T) {
	env := setupManager(t)
	ctx := context.Background()
	_, err := env.manager.Upload("cat.png", pngBytes(t, 100), "")
	require.NoError(t, err)
	_, err = env.manager.Process(ctx, "cat.png", []string{"m1"})
	require.NoError(t, err)
	_, err = env.manager.Render(ctx, "cat.png", []string{"m1"}, "cat", false)
	require.NoError(t, err)

	require.NoError(t, env.manager.repos.Artifacts.DeleteAll())
	require.NoError(t, env.manager.repos.Runs.DeleteAll())
	require.NoError(t, env.manager.repos.Media.DeleteAll())

	indexed, err := env.manager.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, indexed)

	overview, err := env.manager.ListMedia()
	require.NoError(t, err)
	require.Len(t, overview, 1)
	require.Len(t, overview[0].Runs, 1)
	assert.Equal(t, 1, overview[0].Runs[0].Records)
	require.Len(t, overview[0].Artifacts, 1)
	assert.Equal(t, "m1", overview[0].Artifacts[0].ModelID)
}

func TestManager_Categories(t *testing.T) {
	env := setupManager(t)

	cats, err := env.manager.Categories("m2")
	require.NoError(t, err)
	assert.Equal(t, map[int]string{15: "cat"}, cats)

	_, err = env.manager.Categories("nope")
	var unknown *models.UnknownModelError
	assert.True(t, errors.As(err, &unknown))
}
