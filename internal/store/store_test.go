package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

func stateWith(pairs ...string) *schema.WorkflowState {
	st := schema.NewWorkflowState()
	for i := 0; i+1 < len(pairs); i += 2 {
		st.SetOutput(pairs[i], pairs[i+1])
		st.RecordExecution(pairs[i])
	}
	return st
}

func record(session, ts, step string, order int, state *schema.WorkflowState) *schema.StateRecord {
	return &schema.StateRecord{SessionID: session, Timestamp: ts, StepName: step, Order: order, State: state}
}

// runRepositoryTests exercises the behaviour every backend must share.
func runRepositoryTests(t *testing.T, open func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("LoadBeforePicksPreviousStep", func(t *testing.T) {
		repo := open(t)
		run := "20250101_120000_000"
		require.NoError(t, repo.Save(ctx, record("s", run, "step1", 0, stateWith("step1", "a"))))
		require.NoError(t, repo.Save(ctx, record("s", run, "step2", 1, stateWith("step1", "a", "step2", "b"))))
		require.NoError(t, repo.Save(ctx, record("s", run, "step3", 2, stateWith("step1", "a", "step2", "b", "step3", "c"))))

		rec, err := repo.LoadBefore(ctx, "s", "step3", "")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "step2", rec.StepName)
		assert.Equal(t, 1, rec.Order)
		_, has3 := rec.State.GetOutput("step3")
		assert.False(t, has3)
		v, _ := rec.State.GetOutput("step2")
		assert.Equal(t, "b", v)
	})

	t.Run("FirstStepHasNothingBefore", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.Save(ctx, record("s", "t1", "step1", 0, stateWith("step1", "a"))))
		rec, err := repo.LoadBefore(ctx, "s", "step1", "t1")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("UnknownStepGetsLatest", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.Save(ctx, record("s", "t1", "step1", 0, stateWith("step1", "a"))))
		require.NoError(t, repo.Save(ctx, record("s", "t1", "step2", 1, stateWith("step1", "a", "step2", "b"))))
		rec, err := repo.LoadBefore(ctx, "s", "step9", "t1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "step2", rec.StepName)
	})

	t.Run("EmptySession", func(t *testing.T) {
		repo := open(t)
		rec, err := repo.LoadBefore(ctx, "missing", "step1", "")
		require.NoError(t, err)
		assert.Nil(t, rec)
		recs, err := repo.List(ctx, "missing", "")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("TimestampScopesRun", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.Save(ctx, record("s", "20250101_000000_000", "step1", 0, stateWith("step1", "old"))))
		require.NoError(t, repo.Save(ctx, record("s", "20250101_000000_000", "step2", 1, stateWith("step1", "old", "step2", "old"))))
		require.NoError(t, repo.Save(ctx, record("s", "20250202_000000_000", "step1", 0, stateWith("step1", "new"))))
		require.NoError(t, repo.Save(ctx, record("s", "20250202_000000_000", "step2", 1, stateWith("step1", "new", "step2", "new"))))

		rec, err := repo.LoadBefore(ctx, "s", "step2", "")
		require.NoError(t, err)
		require.NotNil(t, rec)
		v, _ := rec.State.GetOutput("step1")
		assert.Equal(t, "new", v)

		rec, err = repo.LoadBefore(ctx, "s", "step2", "20250101_000000_000")
		require.NoError(t, err)
		require.NotNil(t, rec)
		v, _ = rec.State.GetOutput("step1")
		assert.Equal(t, "old", v)
	})

	t.Run("ListOrdersByStep", func(t *testing.T) {
		repo := open(t)
		require.NoError(t, repo.Save(ctx, record("s", "t1", "b", 1, stateWith("a", "1", "b", "2"))))
		require.NoError(t, repo.Save(ctx, record("s", "t1", "a", 0, stateWith("a", "1"))))
		recs, err := repo.List(ctx, "s", "t1")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "a", recs[0].StepName)
		assert.Equal(t, "b", recs[1].StepName)
		assert.NotEmpty(t, recs[0].ID)
		assert.False(t, recs[0].CreatedAt.IsZero())
	})

	t.Run("PreservesStateShape", func(t *testing.T) {
		repo := open(t)
		st := schema.NewWorkflowState()
		st.SetOutput("zeta", "z")
		st.SetOutput("alpha", map[string]any{"n": 1.0})
		st.SetMetadata("case:x", map[string]any{"branch": "else"})
		st.AppendTranscript(schema.Message{Role: schema.RoleUser, Content: "hi"})
		st.AppendFinalOutput("done")
		st.RecordExecution("zeta")
		require.NoError(t, repo.Save(ctx, record("s", "t1", "zeta", 0, st)))

		recs, err := repo.List(ctx, "s", "t1")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		got := recs[0].State
		var keys []string
		got.EachOutput(func(k string, _ any) { keys = append(keys, k) })
		assert.Equal(t, []string{"zeta", "alpha"}, keys)
		meta, ok := got.GetMetadata("case:x")
		require.True(t, ok)
		assert.Equal(t, "else", meta["branch"])
		assert.Equal(t, []schema.Message{{Role: schema.RoleUser, Content: "hi"}}, got.Transcript)
		assert.Equal(t, []string{"done"}, got.FinalOutput)
		assert.Equal(t, []string{"zeta"}, got.ExecutionOrder)
	})
}

func TestMemoryStore(t *testing.T) {
	runRepositoryTests(t, func(t *testing.T) Repository { return NewMemoryStore() })
}

func TestMemoryStore_SaveCopiesState(t *testing.T) {
	repo := NewMemoryStore()
	st := stateWith("a", "1")
	require.NoError(t, repo.Save(context.Background(), record("s", "t", "a", 0, st)))
	st.SetOutput("a", "mutated")

	rec, err := repo.LoadBefore(context.Background(), "s", "zzz", "t")
	require.NoError(t, err)
	v, _ := rec.State.GetOutput("a")
	assert.Equal(t, "1", v)
}

func TestLibSQLStore(t *testing.T) {
	runRepositoryTests(t, func(t *testing.T) Repository {
		s, err := NewLibSQLStore(filepath.Join(t.TempDir(), "state.db"))
		require.NoError(t, err)
		require.NoError(t, s.Migrate(context.Background()))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestLibSQLStore_MigrateTwice(t *testing.T) {
	s, err := NewLibSQLStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}

func TestRedisStore(t *testing.T) {
	runRepositoryTests(t, func(t *testing.T) Repository {
		mr := miniredis.RunT(t)
		s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRedisStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), WithKeyPrefix("test"), WithTTL(time.Hour))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(context.Background(), record("s", "t1", "a", 0, stateWith("a", "1"))))
	assert.True(t, mr.Exists("test:snapshots:s:t1"))
	assert.Equal(t, time.Hour, mr.TTL("test:snapshots:s:t1"))
}

func TestFileStore(t *testing.T) {
	runRepositoryTests(t, func(t *testing.T) Repository {
		s, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestFileStore_SanitizesNames(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), record("../escape", "t1", "$(echo hi)", 0, stateWith("x", "1"))))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")
	assert.NotEqual(t, "..", entries[0].Name())

	recs, err := s.List(context.Background(), "../escape", "t1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "$(echo hi)", recs[0].StepName)
}

func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("ROAST_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("ROAST_TEST_MYSQL_DSN not set")
	}
	runRepositoryTests(t, func(t *testing.T) Repository {
		ctx := context.Background()
		s, err := NewMySQLStore(ctx, dsn)
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx))
		_, err = s.db.ExecContext(ctx, "DELETE FROM state_snapshots")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	repo, err := Open(ctx, Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, repo)

	repo, err = Open(ctx, Config{Backend: BackendFile, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, repo)

	repo, err = Open(ctx, Config{DBPath: filepath.Join(t.TempDir(), "x", "state.db")})
	require.NoError(t, err)
	assert.IsType(t, &LibSQLStore{}, repo)
	require.NoError(t, repo.Close())

	_, err = Open(ctx, Config{Backend: "etcd"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}

func TestPickBefore_RepeatedStepUsesFirstOccurrence(t *testing.T) {
	t0 := time.Now()
	recs := []*schema.StateRecord{
		{StepName: "a", Order: 0, CreatedAt: t0},
		{StepName: "loop", Order: 1, CreatedAt: t0.Add(time.Second)},
		{StepName: "b", Order: 2, CreatedAt: t0.Add(2 * time.Second)},
		{StepName: "loop", Order: 1, CreatedAt: t0.Add(3 * time.Second)},
	}
	got := pickBefore(recs, "loop")
	require.NotNil(t, got)
	assert.Equal(t, "a", got.StepName)

	got = pickBefore(recs, "b")
	require.NotNil(t, got)
	assert.Equal(t, "loop", got.StepName)
	assert.Equal(t, t0.Add(3*time.Second), got.CreatedAt)
}
