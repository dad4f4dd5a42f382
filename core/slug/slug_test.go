package slug_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/course"
	"github.com/trezcool/masomo-courses/core/slug"
	"github.com/trezcool/masomo-courses/services/metrics"
	sqlxrepos "github.com/trezcool/masomo-courses/storage/database/sqlx"
	"github.com/trezcool/masomo-courses/tests"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		title   string
		want    string
		wantErr error
	}{
		{title: "Intro to Testing", want: "intro-to-testing"},
		{title: "  Intro   to -- Testing!  ", want: "intro-to-testing"},
		{title: "Go 101: Channels & Goroutines", want: "go-101-channels-goroutines"},
		{title: "Café Crème", want: "cafe-creme"},
		{title: "---already-slugged---", want: "already-slugged"},
		{title: "C++", want: "c"},
		{title: "", wantErr: slug.ErrInvalidTitle},
		{title: "   ", wantErr: slug.ErrInvalidTitle},
		{title: "!!!", wantErr: slug.ErrInvalidTitle},
		{title: "日本語", wantErr: slug.ErrInvalidTitle},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got, err := slug.Normalize(tt.title)
			if err != tt.wantErr {
				t.Errorf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalize_longTitles(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{name: "cut at a word boundary", title: strings.Repeat("word ", 50), want: strings.TrimSuffix(strings.Repeat("word-", 38), "-")},
		{name: "ligatures expand", title: strings.Repeat("\ufb01", 200), want: strings.Repeat("fi", 95)},
		{name: "single long word", title: strings.Repeat("a", 200), want: strings.Repeat("a", slug.MaxBaseLen)},
		{name: "boundary right at the limit", title: strings.Repeat("a", slug.MaxBaseLen) + " tail", want: strings.Repeat("a", slug.MaxBaseLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := slug.Normalize(tt.title)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), slug.MaxBaseLen)
		})
	}
}

func TestAllocation_String(t *testing.T) {
	assert.Equal(t, "intro", slug.Allocation{Base: "intro"}.String())
	assert.Equal(t, "intro-2", slug.Allocation{Base: "intro", Suffix: 2}.String())
}

// fakeStore holds taken slugs in memory.
type fakeStore struct {
	taken  map[string]bool
	probes []string
}

func (s *fakeStore) SlugExists(_ context.Context, ns slug.Namespace, sl string, _ ...core.DBExecutor) (bool, error) {
	s.probes = append(s.probes, string(ns)+":"+sl)
	return s.taken[string(ns)+":"+sl], nil
}

func TestAllocator_Allocate(t *testing.T) {
	store := &fakeStore{taken: map[string]bool{
		"course:intro-to-testing":   true,
		"course:intro-to-testing-1": true,
		"lesson:setup":              true,
	}}
	al := slug.NewAllocator(store, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		title   string
		ns      slug.Namespace
		want    string
		wantErr error
	}{
		{name: "free base", title: "Go Basics", ns: slug.NamespaceCourse, want: "go-basics"},
		{name: "taken base and first suffix", title: "Intro to Testing", ns: slug.NamespaceCourse, want: "intro-to-testing-2"},
		{name: "namespaces are independent", title: "Intro to Testing", ns: slug.NamespaceLesson, want: "intro-to-testing"},
		{name: "taken lesson", title: "Setup", ns: slug.NamespaceLesson, want: "setup-1"},
		{name: "invalid title", title: "?!", ns: slug.NamespaceCourse, wantErr: slug.ErrInvalidTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := al.Allocate(ctx, nil, tt.title, tt.ns)
			if err != tt.wantErr {
				t.Errorf("Allocate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && got.String() != tt.want {
				t.Errorf("Allocate() = %q, want %q", got.String(), tt.want)
			}
		})
	}
}

// staleStore answers "free" for the first lies probes, like a reader racing a concurrent writer.
type staleStore struct {
	slug.Store
	lies int
}

func (s *staleStore) SlugExists(ctx context.Context, ns slug.Namespace, sl string, exec ...core.DBExecutor) (bool, error) {
	if s.lies > 0 {
		s.lies--
		return false, nil
	}
	return s.Store.SlugExists(ctx, ns, sl, exec...)
}

func createCourse(t *testing.T, repo course.Repository, sl string) {
	t.Helper()
	now := time.Now().UTC()
	_, err := repo.CreateCourse(context.Background(), course.Course{Title: sl, Slug: sl, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
}

func TestAllocator_Insert(t *testing.T) {
	conf := testutil.NewConfig(t)
	conf.Progress.SlugMaxRetries = 3
	db := testutil.PrepareDB(t, conf)
	repo := sqlxrepos.NewCourseRepository(db)
	ctx := context.Background()

	insert := func(got *string) func(tx *core.Tx, s string) error {
		return func(tx *core.Tx, s string) error {
			now := time.Now().UTC()
			_, err := repo.CreateCourse(ctx, course.Course{Title: s, Slug: s, CreatedAt: now, UpdatedAt: now}, tx)
			if err == nil {
				*got = s
			}
			return err
		}
	}

	t.Run("no collision", func(t *testing.T) {
		var got string
		al := slug.NewAllocator(repo, conf)
		require.NoError(t, al.Insert(ctx, db, "Intro to Testing", slug.NamespaceCourse, insert(&got)))
		assert.Equal(t, "intro-to-testing", got)

		require.NoError(t, al.Insert(ctx, db, "Intro to testing!", slug.NamespaceCourse, insert(&got)))
		assert.Equal(t, "intro-to-testing-1", got)
	})

	t.Run("collision is retried past the collided suffix", func(t *testing.T) {
		createCourse(t, repo, "retry-me")
		collisions := promtest.ToFloat64(metrics.SlugCollisionsTotal.WithLabelValues(string(slug.NamespaceCourse)))

		var got string
		al := slug.NewAllocator(&staleStore{Store: repo, lies: 1}, conf)
		require.NoError(t, al.Insert(ctx, db, "Retry Me", slug.NamespaceCourse, insert(&got)))
		assert.Equal(t, "retry-me-1", got)
		assert.Equal(t, collisions+1, promtest.ToFloat64(metrics.SlugCollisionsTotal.WithLabelValues(string(slug.NamespaceCourse))))
	})

	t.Run("exhausted", func(t *testing.T) {
		for _, s := range []string{"busy", "busy-1", "busy-2"} {
			createCourse(t, repo, s)
		}
		exhausted := promtest.ToFloat64(metrics.SlugExhaustedTotal.WithLabelValues(string(slug.NamespaceCourse)))

		var got string
		al := slug.NewAllocator(&staleStore{Store: repo, lies: 100}, conf)
		err := al.Insert(ctx, db, "Busy", slug.NamespaceCourse, insert(&got))
		if errors.Cause(err) != slug.ErrAllocationExhausted {
			t.Fatalf("Insert() error = %v, wantErr %v", err, slug.ErrAllocationExhausted)
		}
		assert.Empty(t, got)
		assert.Equal(t, exhausted+1, promtest.ToFloat64(metrics.SlugExhaustedTotal.WithLabelValues(string(slug.NamespaceCourse))))
	})

	t.Run("long titles fit the column", func(t *testing.T) {
		title := strings.Repeat("\ufb01", 200)
		al := slug.NewAllocator(repo, conf)
		var first, second string
		require.NoError(t, al.Insert(ctx, db, title, slug.NamespaceCourse, insert(&first)))
		require.NoError(t, al.Insert(ctx, db, title, slug.NamespaceCourse, insert(&second)))
		assert.Equal(t, first+"-1", second)
		assert.LessOrEqual(t, len(second), 200)
	})

	t.Run("invalid title", func(t *testing.T) {
		var got string
		al := slug.NewAllocator(repo, conf)
		err := al.Insert(ctx, db, "***", slug.NamespaceCourse, insert(&got))
		assert.Equal(t, slug.ErrInvalidTitle, err)
	})
}
