package mutation

import "math/rand"

// Context carries the per-engagement knobs that parameterize transforms.
// The random source is seeded explicitly so a candidate sequence is
// reproducible: the same seed always picks the same case-variation and
// parameter-duplication strategies.
type Context struct {
	// ParamName is the query parameter targeted by parameter pollution.
	ParamName string

	// Language keys the comment-injection table (sql, mysql, js, html).
	Language string

	rng *rand.Rand
}

// NewContext creates a Context with the given seed. A zero seed is a valid,
// fixed seed rather than a request for entropy.
func NewContext(seed int64) *Context {
	return &Context{
		ParamName: "id",
		Language:  "sql",
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// pick returns a deterministic index in [0, n).
func (c *Context) pick(n int) int {
	if n <= 1 {
		return 0
	}
	return c.rng.Intn(n)
}
