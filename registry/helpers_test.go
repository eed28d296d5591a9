package registry

import (
	"context"
	"dataset-registry/orm"
	"dataset-registry/pagination"
	"dataset-registry/query"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	snowWhite = "s3://snow-white"
	testUUID  = "af6727bf-29c7-43dd-b42f-a5d7ede28337"
)

var frozenAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// MockBackend implements every backend interface including both hooks.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) RegisterDataset(ctx context.Context, info *DatasetInfo) error {
	args := m.Called(ctx, info)

	return args.Error(0)
}

func (m *MockBackend) DeleteDataset(ctx context.Context, uri string) error {
	args := m.Called(ctx, uri)

	return args.Error(0)
}

func (m *MockBackend) Search(
	ctx context.Context,
	filter query.Filter,
	keys []pagination.Key,
	page pagination.Page,
) ([]DatasetRecord, int64, error) {
	args := m.Called(ctx, filter, keys, page)
	records, _ := args.Get(0).([]DatasetRecord)

	return records, args.Get(1).(int64), args.Error(2)
}

func (m *MockBackend) LookupURIs(ctx context.Context, uuid string, baseURIs []string) ([]URIRecord, error) {
	args := m.Called(ctx, uuid, baseURIs)
	records, _ := args.Get(0).([]URIRecord)

	return records, args.Error(1)
}

func (m *MockBackend) GetReadme(ctx context.Context, uri string) (string, error) {
	args := m.Called(ctx, uri)

	return args.String(0), args.Error(1)
}

func (m *MockBackend) GetManifest(ctx context.Context, uri string) (map[string]any, error) {
	args := m.Called(ctx, uri)
	manifest, _ := args.Get(0).(map[string]any)

	return manifest, args.Error(1)
}

func (m *MockBackend) GetAnnotations(ctx context.Context, uri string) (map[string]any, error) {
	args := m.Called(ctx, uri)
	annotations, _ := args.Get(0).(map[string]any)

	return annotations, args.Error(1)
}

func (m *MockBackend) GetTags(ctx context.Context, uri string) ([]string, error) {
	args := m.Called(ctx, uri)
	tags, _ := args.Get(0).([]string)

	return tags, args.Error(1)
}

// acceptHooks makes both hooks succeed.
func (m *MockBackend) acceptHooks() *MockBackend {
	m.On("RegisterDataset", mock.Anything, mock.Anything).Return(nil)
	m.On("DeleteDataset", mock.Anything, mock.Anything).Return(nil)

	return m
}

// getterOnly is a retrieve backend without hooks.
type getterOnly struct {
	inner *MockBackend
}

func (g getterOnly) GetReadme(ctx context.Context, uri string) (string, error) {
	return g.inner.GetReadme(ctx, uri)
}

func (g getterOnly) GetManifest(ctx context.Context, uri string) (map[string]any, error) {
	return g.inner.GetManifest(ctx, uri)
}

func (g getterOnly) GetAnnotations(ctx context.Context, uri string) (map[string]any, error) {
	return g.inner.GetAnnotations(ctx, uri)
}

func (g getterOnly) GetTags(ctx context.Context, uri string) ([]string, error) {
	return g.inner.GetTags(ctx, uri)
}

type panickingExtension struct{}

func (panickingExtension) RegisterDataset(context.Context, *DatasetInfo) error {
	panic("extension exploded")
}

func (panickingExtension) DeleteDataset(context.Context, string) error {
	panic("extension exploded")
}

func newTestDB(t *testing.T) *orm.DB {
	t.Helper()

	dbGorm, err := gorm.Open(
		sqlite.Open(filepath.Join(t.TempDir(), "index.db")),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true},
	)
	require.NoError(t, err)

	db := orm.New(dbGorm)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// seedUsers creates grumpy (search+register on snow-white), sleepy (no
// grants) and admin (admin, no grants).
func seedUsers(t *testing.T, db *orm.DB) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, db.CreateUser(ctx, "grumpy", false))
	require.NoError(t, db.CreateUser(ctx, "sleepy", false))
	require.NoError(t, db.CreateUser(ctx, "admin", true))
	require.NoError(t, db.GrantSearch(ctx, "grumpy", snowWhite))
	require.NoError(t, db.GrantRegister(ctx, "grumpy", snowWhite))
}

type fixture struct {
	db       *orm.DB
	search   *MockBackend
	retrieve *MockBackend
	registry *Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	db := newTestDB(t)
	seedUsers(t, db)

	search := (&MockBackend{}).acceptHooks()
	retrieve := (&MockBackend{}).acceptHooks()

	return &fixture{
		db:       db,
		search:   search,
		retrieve: retrieve,
		registry: New(db, search, retrieve, opts...),
	}
}

func testInfo(uuid string) *DatasetInfo {
	items := int64(2)
	size := int64(300)

	return &DatasetInfo{
		UUID:            uuid,
		BaseURI:         snowWhite,
		URI:             snowWhite + "/" + uuid,
		Name:            "apples",
		Type:            DatasetType,
		Readme:          "---\ndescription: apples\n",
		Manifest:        map[string]any{"items": map[string]any{}},
		CreatorUsername: "grumpy",
		FrozenAt:        NewFlexTime(frozenAt),
		Annotations:     map[string]any{"color": "red"},
		Tags:            []string{"good", "fruit"},
		NumberOfItems:   &items,
		SizeInBytes:     &size,
	}
}

func uuidN(n int) string {
	return "00000000-0000-0000-0000-00000000000" + string(rune('0'+n))
}
