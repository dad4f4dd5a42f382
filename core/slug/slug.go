// Package slug derives URL-safe identifiers from titles and allocates them uniquely per namespace.
package slug

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/services/metrics"
)

type Namespace string

const (
	NamespaceCourse Namespace = "course"
	NamespaceLesson Namespace = "lesson"

	// MaxBaseLen keeps base-N within the 200 character slug columns.
	MaxBaseLen = 190

	defaultMaxAttempts = 5
)

var (
	ErrInvalidTitle        = errors.New("title must contain at least one letter or digit")
	ErrAllocationExhausted = errors.New("could not allocate a unique slug")

	disallowedChars = regexp.MustCompile(`[^a-z0-9\s-]`)
	separators      = regexp.MustCompile(`[\s-]+`)
)

// Store reports which slugs are taken in a namespace.
type Store interface {
	SlugExists(ctx context.Context, ns Namespace, slug string, exec ...core.DBExecutor) (bool, error)
}

// Allocation is a free slug: Base, or Base-Suffix when Suffix > 0.
type Allocation struct {
	Base   string
	Suffix int
}

func (a Allocation) String() string {
	if a.Suffix == 0 {
		return a.Base
	}
	return fmt.Sprintf("%s-%d", a.Base, a.Suffix)
}

// Normalize turns a title into its base slug: "Intro to Testing!" -> "intro-to-testing".
// Accented letters are folded to ASCII ("Café" -> "cafe"); any other non [a-z0-9] rune is dropped.
// Slugs longer than MaxBaseLen are cut, at a word boundary when one is close enough.
func Normalize(title string) (string, error) {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		return "", errors.Wrap(err, "folding title")
	}

	s := disallowedChars.ReplaceAllString(strings.ToLower(folded), "")
	s = separators.ReplaceAllString(s, "-")
	s = strings.Trim(truncate(strings.Trim(s, "-")), "-")
	if s == "" {
		return "", ErrInvalidTitle
	}
	return s, nil
}

// truncate cuts s to MaxBaseLen bytes; s is ASCII by then.
func truncate(s string) string {
	if len(s) <= MaxBaseLen {
		return s
	}
	if s[MaxBaseLen] == '-' {
		return s[:MaxBaseLen]
	}
	s = s[:MaxBaseLen]
	if i := strings.LastIndexByte(s, '-'); i > MaxBaseLen/2 {
		return s[:i]
	}
	return s
}

type Allocator struct {
	store       Store
	maxAttempts int
}

func NewAllocator(store Store, conf *core.Config) *Allocator {
	attempts := defaultMaxAttempts
	if conf != nil && conf.Progress.SlugMaxRetries > 0 {
		attempts = conf.Progress.SlugMaxRetries
	}
	return &Allocator{store: store, maxAttempts: attempts}
}

// Allocate returns the first free slug in ns for title, probing base, base-1, base-2...
// It reads through exec so that it sees the caller's transaction.
func (al *Allocator) Allocate(ctx context.Context, exec core.DBExecutor, title string, ns Namespace) (Allocation, error) {
	base, err := Normalize(title)
	if err != nil {
		return Allocation{}, err
	}
	return al.probe(ctx, exec, Allocation{Base: base}, ns)
}

func (al *Allocator) probe(ctx context.Context, exec core.DBExecutor, from Allocation, ns Namespace) (Allocation, error) {
	for a := from; ; a.Suffix++ {
		taken, err := al.store.SlugExists(ctx, ns, a.String(), exec)
		if err != nil {
			return Allocation{}, errors.Wrapf(err, "probing %s slug %q", ns, a)
		}
		if !taken {
			return a, nil
		}
	}
}

// Insert allocates a slug for title and calls insert with it, both inside one transaction.
// A concurrent writer may claim the same slug between probe and insert; the store's unique index then
// rejects the insert and the whole unit is retried past the collided suffix, up to the configured attempts.
func (al *Allocator) Insert(
	ctx context.Context,
	db core.DB,
	title string,
	ns Namespace,
	insert func(tx *core.Tx, slug string) error,
) error {
	base, err := Normalize(title)
	if err != nil {
		return err
	}

	from := Allocation{Base: base}
	for attempt := 1; attempt <= al.maxAttempts; attempt++ {
		var alloc Allocation
		err = core.RunInTx(ctx, db, func(tx *core.Tx) error {
			var err error
			if alloc, err = al.probe(ctx, tx, from, ns); err != nil {
				return err
			}
			return insert(tx, alloc.String())
		})
		if err == nil {
			return nil
		}
		if !core.IsUniqueViolation(err) {
			return err
		}
		metrics.SlugCollisionsTotal.WithLabelValues(string(ns)).Inc()
		from = Allocation{Base: base, Suffix: alloc.Suffix + 1}
	}

	metrics.SlugExhaustedTotal.WithLabelValues(string(ns)).Inc()
	return errors.Wrapf(ErrAllocationExhausted, "%s %q after %d attempts", ns, base, al.maxAttempts)
}
