package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/modelhub/pkg/common/models"
	"github.com/synaptica-ai/modelhub/pkg/ml/classifier"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "models.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func newTestService(t *testing.T) (*Service, *Repository) {
	t.Helper()
	repo := newTestRepository(t)
	return NewService(repo, classifier.Catalog{}, nil, nil), repo
}

func registerRequest(model, params, d, nClasses string) models.RegisterRequest {
	req := models.RegisterRequest{}
	if model != "" {
		req.Model = json.RawMessage(model)
	}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	if d != "" {
		req.D = json.RawMessage(d)
	}
	if nClasses != "" {
		req.NClasses = json.RawMessage(nClasses)
	}
	return req
}

func trainRequest(x, y string) models.TrainRequest {
	req := models.TrainRequest{}
	if x != "" {
		req.X = json.RawMessage(x)
	}
	if y != "" {
		req.Y = json.RawMessage(y)
	}
	return req
}

func mustRegister(t *testing.T, svc *Service, model, params string, d, nClasses int) uint64 {
	t.Helper()
	dim, _ := json.Marshal(d)
	n, _ := json.Marshal(nClasses)
	id, err := svc.Register(context.Background(), registerRequest(`"`+model+`"`, params, string(dim), string(n)))
	require.NoError(t, err)
	return id
}

func setTrained(t *testing.T, repo *Repository, id uint64, n int64) {
	t.Helper()
	rec, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateTraining(context.Background(), id, rec.Classifier, n))
}

func assertParams(t *testing.T, want string, got map[string]interface{}) {
	t.Helper()
	require.NotNil(t, got)
	encoded, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, want, string(encoded))
}

func TestRegisterAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := mustRegister(t, svc, "SGDClassifier", `{"alpha": 0.001}`, 2, 3)
	second := mustRegister(t, svc, "CategoricalNB", `{}`, 4, 2)
	third := mustRegister(t, svc, "MLPClassifier", `{"hidden_layer_sizes": [3]}`, 2, 2)
	assert.Less(t, first, second)
	assert.Less(t, second, third)

	details, err := svc.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "SGDClassifier", details.Model)
	assert.Equal(t, 2, details.D)
	assert.Equal(t, 3, details.NClasses)
	assert.Equal(t, int64(0), details.NTrained)
	assertParams(t, `{"alpha": 0.001}`, details.Params)

	details, err = svc.Get(ctx, second)
	require.NoError(t, err)
	assertParams(t, `{}`, details.Params)

	_, err = svc.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name string
		req  models.RegisterRequest
		want error
	}{
		{"missing model", registerRequest("", `{}`, "2", "2"), ErrMalformedRequest},
		{"missing params", registerRequest(`"SGDClassifier"`, "", "2", "2"), ErrMalformedRequest},
		{"missing d", registerRequest(`"SGDClassifier"`, `{}`, "", "2"), ErrMalformedRequest},
		{"missing n_classes", registerRequest(`"SGDClassifier"`, `{}`, "2", ""), ErrMalformedRequest},
		{"params not an object", registerRequest(`"SGDClassifier"`, `[1]`, "2", "2"), ErrMalformedRequest},
		{"params null", registerRequest(`"SGDClassifier"`, `null`, "2", "2"), ErrMalformedRequest},
		{"params trailing data", registerRequest(`"SGDClassifier"`, `{} {}`, "2", "2"), ErrMalformedRequest},
		{"params checked before model", registerRequest(`"RandomForest"`, `"x"`, "2", "2"), ErrMalformedRequest},
		{"model not a string", registerRequest(`5`, `{}`, "2", "2"), ErrMalformedRequest},
		{"unknown model", registerRequest(`"RandomForest"`, `{}`, "2", "2"), ErrUnknownModel},
		{"unknown model before bad d", registerRequest(`"RandomForest"`, `{}`, `"two"`, "2"), ErrUnknownModel},
		{"d float", registerRequest(`"SGDClassifier"`, `{}`, "2.0", "2"), ErrMalformedRequest},
		{"d string", registerRequest(`"SGDClassifier"`, `{}`, `"2"`, "2"), ErrMalformedRequest},
		{"d zero", registerRequest(`"SGDClassifier"`, `{}`, "0", "2"), ErrMalformedRequest},
		{"d too large", registerRequest(`"SGDClassifier"`, `{}`, "70000", "2"), ErrMalformedRequest},
		{"n_classes negative", registerRequest(`"SGDClassifier"`, `{}`, "2", "-1"), ErrMalformedRequest},
		{"n_classes exponent", registerRequest(`"SGDClassifier"`, `{}`, "2", "1e1"), ErrMalformedRequest},
		{"invalid params", registerRequest(`"SGDClassifier"`, `{"loss": "cubic"}`, "2", "2"), ErrMalformedRequest},
		{"unknown param", registerRequest(`"CategoricalNB"`, `{"depth": 3}`, "2", "2"), ErrMalformedRequest},
	}

	svc, repo := newTestService(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	rows, err := repo.TrainingCounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRegisterAppliesCatalogDefaults(t *testing.T) {
	repo := newTestRepository(t)
	catalog := classifier.Catalog{Classifiers: map[string]map[string]interface{}{
		"SGDClassifier": {"loss": "cubic"},
	}}
	svc := NewService(repo, catalog, nil, nil)

	_, err := svc.Register(context.Background(), registerRequest(`"SGDClassifier"`, `{}`, "2", "2"))
	assert.ErrorIs(t, err, ErrMalformedRequest)

	id, err := svc.Register(context.Background(), registerRequest(`"SGDClassifier"`, `{"loss": "log_loss"}`, "2", "2"))
	require.NoError(t, err)

	details, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assertParams(t, `{"loss": "log_loss"}`, details.Params)
}

func TestTrainUpdatesStateAndCount(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	for _, name := range classifier.Names {
		id := mustRegister(t, svc, name, `{}`, 2, 2)
		before, err := repo.Get(ctx, id)
		require.NoError(t, err)

		require.NoError(t, svc.Train(ctx, id, trainRequest(`[1, 0]`, `1`)))
		require.NoError(t, svc.Train(ctx, id, trainRequest(`[0, 1]`, `0`)))

		after, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), after.NumTrained, name)
		assert.NotEqual(t, before.Classifier, after.Classifier, name)

		details, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), details.NTrained, name)
	}
}

func TestTrainValidation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	id := mustRegister(t, svc, "SGDClassifier", `{}`, 2, 2)
	before, err := repo.Get(ctx, id)
	require.NoError(t, err)

	err = svc.Train(ctx, id+100, trainRequest("", ""))
	assert.ErrorIs(t, err, ErrNotFound)

	cases := []struct {
		name string
		req  models.TrainRequest
	}{
		{"missing x", trainRequest("", "1")},
		{"missing y", trainRequest("[1, 2]", "")},
		{"y string", trainRequest("[1, 2]", `"1"`)},
		{"y float", trainRequest("[1, 2]", "1.0")},
		{"y negative", trainRequest("[1, 2]", "-1")},
		{"y equals n_classes", trainRequest("[1, 2]", "2")},
		{"x short", trainRequest("[1]", "1")},
		{"x long", trainRequest("[1, 2, 3]", "1")},
		{"x nested", trainRequest("[1, [2]]", "1")},
		{"x string", trainRequest(`"[1, 2]"`, "1")},
		{"x with text", trainRequest(`[1, "2"]`, "1")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.Train(ctx, id, tc.req), ErrMalformedRequest)
		})
	}

	after, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.NumTrained)
	assert.Equal(t, before.Classifier, after.Classifier)
}

func TestTrainSerialisedWithLocalLocker(t *testing.T) {
	repo := newTestRepository(t)
	svc := NewService(repo, classifier.Catalog{}, NewLocalLocker(), nil)
	id := mustRegister(t, svc, "CategoricalNB", `{}`, 2, 2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := svc.Train(context.Background(), id, trainRequest(`[1, 0]`, []string{"0", "1"}[i%2])); err != nil {
				t.Errorf("train: %v", err)
			}
		}(i)
	}
	wg.Wait()

	details, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), details.NTrained)
}

func TestPredict(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := mustRegister(t, svc, "SGDClassifier", `{"learning_rate": "constant", "eta0": 0.1}`, 2, 2)

	query := base64.StdEncoding.EncodeToString([]byte("[1, 0.0]"))

	_, err := svc.Predict(ctx, id+100, query, true)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Predict(ctx, id, "", false)
	assert.ErrorIs(t, err, ErrMalformedRequest)
	_, err = svc.Predict(ctx, id, query, true)
	assert.ErrorIs(t, err, ErrNotFitted)

	for i := 0; i < 50; i++ {
		require.NoError(t, svc.Train(ctx, id, trainRequest(`[1, 0]`, `0`)))
		require.NoError(t, svc.Train(ctx, id, trainRequest(`[0, 1]`, `1`)))
	}

	resp, err := svc.Predict(ctx, id, query, true)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Y)
	assert.Equal(t, []json.Number{"1", "0.0"}, resp.X)

	resp, err = svc.Predict(ctx, id, base64.StdEncoding.EncodeToString([]byte("[0, 1]")), true)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Y)

	for _, bad := range []string{
		base64.StdEncoding.EncodeToString([]byte("[1]")),
		base64.StdEncoding.EncodeToString([]byte("[1, 2, 3]")),
		base64.StdEncoding.EncodeToString([]byte("__import__('os')")),
		"%%%",
		"",
	} {
		_, err := svc.Predict(ctx, id, bad, true)
		assert.ErrorIs(t, err, ErrMalformedRequest, bad)
	}
}

func TestListScoresWithinModelType(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	low := mustRegister(t, svc, "SGDClassifier", `{}`, 2, 2)
	mid := mustRegister(t, svc, "SGDClassifier", `{}`, 2, 2)
	high := mustRegister(t, svc, "SGDClassifier", `{}`, 2, 2)
	nb := mustRegister(t, svc, "CategoricalNB", `{}`, 2, 2)

	setTrained(t, repo, low, 0)
	setTrained(t, repo, mid, 5)
	setTrained(t, repo, high, 10)
	setTrained(t, repo, nb, 4)

	scores, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.ModelScore{
		{ID: low, Model: "SGDClassifier", NTrained: 0, TrainingScore: 0},
		{ID: mid, Model: "SGDClassifier", NTrained: 5, TrainingScore: 0.5},
		{ID: high, Model: "SGDClassifier", NTrained: 10, TrainingScore: 1},
		{ID: nb, Model: "CategoricalNB", NTrained: 4, TrainingScore: 1},
	}, scores)
}

func TestListTiedCountsScoreOne(t *testing.T) {
	svc, _ := newTestService(t)
	a := mustRegister(t, svc, "MLPClassifier", `{}`, 2, 2)
	b := mustRegister(t, svc, "MLPClassifier", `{}`, 2, 2)

	scores, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, a, scores[0].ID)
	assert.Equal(t, b, scores[1].ID)
	for _, s := range scores {
		assert.Equal(t, 1.0, s.TrainingScore)
	}
}

func TestListEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	scores, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, scores)
	assert.Empty(t, scores)
}

func TestGroups(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	groups, err := svc.Groups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)

	ids := make([]uint64, 4)
	for i := range ids {
		ids[i] = mustRegister(t, svc, classifier.Names[i%len(classifier.Names)], `{}`, 2, 2)
	}
	setTrained(t, repo, ids[0], 2)
	setTrained(t, repo, ids[2], 2)

	groups, err = svc.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.ModelGroup{
		{NTrained: 0, ModelIDs: []uint64{ids[1], ids[3]}},
		{NTrained: 2, ModelIDs: []uint64{ids[0], ids[2]}},
	}, groups)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (p *recordingPublisher) PublishEvent(_ context.Context, eventType, source string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	if p.fail {
		return errors.New("broker unavailable")
	}
	return nil
}

func TestLifecycleEvents(t *testing.T) {
	repo := newTestRepository(t)
	pub := &recordingPublisher{}
	svc := NewService(repo, classifier.Catalog{}, nil, pub)

	id := mustRegister(t, svc, "SGDClassifier", `{}`, 2, 2)
	require.NoError(t, svc.Train(context.Background(), id, trainRequest(`[1, 2]`, `0`)))
	_ = svc.Train(context.Background(), id, trainRequest(`[1]`, `0`))

	assert.Equal(t, []string{EventModelRegistered, EventModelTrained}, pub.events)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	repo := newTestRepository(t)
	svc := NewService(repo, classifier.Catalog{}, nil, &recordingPublisher{fail: true})

	id := mustRegister(t, svc, "CategoricalNB", `{}`, 2, 2)
	require.NoError(t, svc.Train(context.Background(), id, trainRequest(`[1, 2]`, `0`)))
}

func TestHandleEvent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := mustRegister(t, svc, "SGDClassifier", `{}`, 2, 2)

	train := models.Event{
		ID:   "evt-1",
		Type: EventModelTrain,
		Data: map[string]interface{}{"model_id": float64(id), "x": []interface{}{1.0, 0.0}, "y": float64(1)},
	}
	require.NoError(t, svc.HandleEvent(ctx, train))

	ignored := []models.Event{
		{Type: EventModelTrained, Data: map[string]interface{}{"model_id": float64(id)}},
		{Type: EventModelTrain, Data: map[string]interface{}{"model_id": "one", "x": []interface{}{1.0, 0.0}, "y": 1.0}},
		{Type: EventModelTrain, Data: map[string]interface{}{"model_id": 1.5, "x": []interface{}{1.0, 0.0}, "y": 1.0}},
		{Type: EventModelTrain, Data: map[string]interface{}{"model_id": float64(id), "x": []interface{}{1.0}, "y": 1.0}},
		{Type: EventModelTrain, Data: map[string]interface{}{"model_id": float64(id), "x": []interface{}{1.0, 0.0}, "y": 7.0}},
		{Type: EventModelTrain, Data: map[string]interface{}{"model_id": float64(id + 50), "x": []interface{}{1.0, 0.0}, "y": 1.0}},
	}
	for _, event := range ignored {
		require.NoError(t, svc.HandleEvent(ctx, event))
	}

	details, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), details.NTrained)
}

func TestTrainRejectsOverflowingSample(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	id := mustRegister(t, svc, "SGDClassifier", `{"learning_rate": "constant", "eta0": 1e300}`, 2, 2)

	err := svc.Train(ctx, id, trainRequest(`[1e300, 1e300]`, `1`))
	assert.ErrorIs(t, err, ErrMalformedRequest)

	rec, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.NumTrained)
}

func TestParamsKeepLargeIntegers(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	id := mustRegister(t, svc, "MLPClassifier", `{"hidden_layer_sizes": [2], "random_state": 9007199254740993, "alpha": 0.5}`, 2, 2)

	details, err := svc.Get(ctx, id)
	require.NoError(t, err)
	encoded, err := json.Marshal(details.Params)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"random_state":9007199254740993`)
	assertParams(t, `{"hidden_layer_sizes": [2], "random_state": 9007199254740993, "alpha": 0.5}`, details.Params)

	rec, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `{"hidden_layer_sizes":[2],"random_state":9007199254740993,"alpha":0.5}`, string(rec.Params))
	assert.Contains(t, string(rec.Classifier), `"seed":9007199254740993`)
}
