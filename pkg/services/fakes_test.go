package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/backsoul/partidas/pkg/models"
	"github.com/backsoul/partidas/pkg/redis"
)

type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	sets   map[string]map[string]bool
	locks  map[string]*sync.Mutex
	held   map[string]bool

	getErr    error
	setCalls  int
	lockCalls int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
		sets:   make(map[string]map[string]bool),
		locks:  make(map[string]*sync.Mutex),
		held:   make(map[string]bool),
	}
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.values[key]
	if !ok {
		return "", redis.ErrNotFound
	}
	return v, nil
}

func (f *fakeCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	f.values[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeCache) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok, nil
}

func (f *fakeCache) AcquireLock(_ context.Context, key string, _, _ time.Duration) (func(), error) {
	f.mu.Lock()
	f.lockCalls++
	m, ok := f.locks[key]
	if !ok {
		m = &sync.Mutex{}
		f.locks[key] = m
	}
	f.mu.Unlock()

	m.Lock()
	f.mu.Lock()
	f.held[key] = true
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.held[key] = false
		f.mu.Unlock()
		m.Unlock()
	}, nil
}

func (f *fakeCache) lockHeld(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[key]
}

func (f *fakeCache) AddToSet(_ context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]bool)
	}
	for _, m := range members {
		f.sets[key][m] = true
	}
	return nil
}

func (f *fakeCache) RemoveFromSet(_ context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.sets[key], m)
	}
	return nil
}

func (f *fakeCache) GetSetMembers(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeCache) expire(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
}

func (f *fakeCache) ttl(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[key]
}

type fakeCatalog struct {
	mu        sync.Mutex
	questions map[int]models.Question
	order     []int

	randomCalls int
	lastCount   int
	lastDiff    string

	// onLookup se ejecuta en cada QuestionsByIDs, fuera del mutex del catálogo
	onLookup func()
}

var letters = []string{"A", "B", "C", "D"}

// newFakeCatalog crea n preguntas activas de dificultad "media" con IDs 1..n;
// la correcta es letters[id%4]
func newFakeCatalog(n int) *fakeCatalog {
	c := &fakeCatalog{questions: make(map[int]models.Question)}
	for id := 1; id <= n; id++ {
		c.add(models.Question{
			ID:         id,
			Text:       "Pregunta",
			Options:    map[string]string{"A": "a", "B": "b", "C": "c", "D": "d"},
			Correct:    letters[id%4],
			Difficulty: "media",
			Active:     true,
		})
	}
	return c
}

func (c *fakeCatalog) add(q models.Question) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.questions[q.ID] = q
	c.order = append(c.order, q.ID)
}

func (c *fakeCatalog) remove(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.questions, id)
}

func (c *fakeCatalog) RandomActiveQuestionIDs(_ context.Context, count int, difficulty string) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.randomCalls++
	c.lastCount = count
	c.lastDiff = difficulty

	var out []int
	for _, id := range c.order {
		q, ok := c.questions[id]
		if !ok || !q.Active {
			continue
		}
		if difficulty != "" && !strings.EqualFold(q.Difficulty, difficulty) {
			continue
		}
		out = append(out, id)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

// QuestionsByIDs devuelve en orden inverso para comprobar que el servicio reordena
func (c *fakeCatalog) QuestionsByIDs(_ context.Context, ids []int) ([]models.Question, error) {
	c.mu.Lock()
	hook := c.onLookup
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Question, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if q, ok := c.questions[ids[i]]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
