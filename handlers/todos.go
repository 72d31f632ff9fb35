package handlers

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultTodoCount = 5

// Todo is a mock task owned by the caller
type Todo struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
}

var loremWords = strings.Fields(`lorem ipsum dolor sit amet consectetur adipiscing elit sed do
eiusmod tempor incididunt ut labore et dolore magna aliqua enim ad minim veniam quis nostrud
exercitation ullamco laboris nisi aliquip ex ea commodo consequat duis aute irure in
reprehenderit voluptate velit esse cillum fugiat nulla pariatur excepteur sint occaecat
cupidatat non proident sunt culpa qui officia deserunt mollit anim id est laborum`)

// TodoGenerator produces placeholder todos
type TodoGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// NewTodoGenerator creates a generator. A nil source seeds from the runtime.
func NewTodoGenerator(src rand.Source) *TodoGenerator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &TodoGenerator{rnd: rand.New(src), now: time.Now}
}

// Generate returns n todos owned by owner, dated within the next year
func (g *TodoGenerator) Generate(owner string, n int) []Todo {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	todos := make([]Todo, 0, n)
	for i := 0; i < n; i++ {
		todos = append(todos, Todo{
			ID:          uuid.NewString(),
			Owner:       owner,
			Title:       g.sentence(),
			Description: g.paragraph(),
			Date:        now.Add(time.Duration(g.rnd.Int64N(int64(365*24*time.Hour))) + time.Second).Truncate(time.Millisecond),
		})
	}
	return todos
}

func (g *TodoGenerator) sentence() string {
	n := 3 + g.rnd.IntN(6)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[g.rnd.IntN(len(loremWords))]
	}
	words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	return strings.Join(words, " ") + "."
}

func (g *TodoGenerator) paragraph() string {
	n := 3 + g.rnd.IntN(3)
	sentences := make([]string, n)
	for i := range sentences {
		sentences[i] = g.sentence()
	}
	return strings.Join(sentences, " ")
}
